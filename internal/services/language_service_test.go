package services

import (
	"context"
	"errors"
	"testing"

	"github.com/casemate/go-conversation-backend/internal/aiclient"
)

type fakeLanguageClient struct {
	detectText string
	detectResp *aiclient.DetectLanguageResponse
	detectErr  error

	translateText   string
	translateSource string
	translateTarget string
	translateResp   *aiclient.TranslateResponse
	translateErr    error

	docTemplate string
	docData     map[string]any
	docResp     *aiclient.DocGenResponse
	docErr      error
}

func (f *fakeLanguageClient) DetectLanguage(ctx context.Context, text string) (*aiclient.DetectLanguageResponse, error) {
	f.detectText = text
	return f.detectResp, f.detectErr
}

func (f *fakeLanguageClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (*aiclient.TranslateResponse, error) {
	f.translateText, f.translateSource, f.translateTarget = text, sourceLang, targetLang
	return f.translateResp, f.translateErr
}

func (f *fakeLanguageClient) GenerateDocument(ctx context.Context, templateName string, data map[string]any) (*aiclient.DocGenResponse, error) {
	f.docTemplate, f.docData = templateName, data
	return f.docResp, f.docErr
}

func TestDetectLanguage_EmptyAndSuccess(t *testing.T) {
	f := &fakeLanguageClient{detectResp: &aiclient.DetectLanguageResponse{}}
	f.detectResp.InputDetection.Language = "hi"
	s := &LanguageService{AI: f}

	if _, err := s.DetectLanguage(context.Background(), "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	out, err := s.DetectLanguage(context.Background(), "नमस्ते")
	if err != nil {
		t.Fatalf("DetectLanguage: %v", err)
	}
	if out.InputDetection.Language != "hi" || f.detectText != "नमस्ते" {
		t.Fatalf("unexpected result: %+v text=%q", out, f.detectText)
	}
}

func TestTranslate_PassesLanguagesAndMapsErrors(t *testing.T) {
	f := &fakeLanguageClient{translateResp: &aiclient.TranslateResponse{TranslatedText: "bonjour"}}
	s := &LanguageService{AI: f}

	out, err := s.Translate(context.Background(), "hello", "en", "fr")
	if err != nil || out.TranslatedText != "bonjour" {
		t.Fatalf("Translate: %+v err=%v", out, err)
	}
	if f.translateSource != "en" || f.translateTarget != "fr" {
		t.Fatalf("languages not forwarded: %q → %q", f.translateSource, f.translateTarget)
	}

	f.translateErr = aiclient.ErrTimeout
	if _, err := s.Translate(context.Background(), "hello", "", ""); !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}

	f.translateErr = &aiclient.StatusError{StatusCode: 502, Body: "bad gateway"}
	if _, err := s.Translate(context.Background(), "hello", "", ""); !errors.Is(err, ErrUpstreamFailed) {
		t.Fatalf("expected ErrUpstreamFailed, got %v", err)
	}
}

func TestGenerateDocument_EmptyTemplateAndSuccess(t *testing.T) {
	f := &fakeLanguageClient{docResp: &aiclient.DocGenResponse{DocumentContent: "# Report"}}
	s := &LanguageService{AI: f}

	if _, err := s.GenerateDocument(context.Background(), " ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	out, err := s.GenerateDocument(context.Background(), "summary", map[string]any{"title": "Q1"})
	if err != nil || out.DocumentContent != "# Report" {
		t.Fatalf("GenerateDocument: %+v err=%v", out, err)
	}
	if f.docTemplate != "summary" || f.docData["title"] != "Q1" {
		t.Fatalf("arguments not forwarded: %q %#v", f.docTemplate, f.docData)
	}
}
