// Package services – LanguageService
//
// Thin pass-throughs to the AI backend's language and document endpoints.
// Upstream failures are folded into the same service sentinels as chat
// dispatch so handlers map them uniformly.
package services

import (
	"context"
	"strings"

	"github.com/casemate/go-conversation-backend/internal/aiclient"
)

// LanguageClient is the upstream contract LanguageService depends on.
// *aiclient.Client satisfies it.
type LanguageClient interface {
	DetectLanguage(ctx context.Context, text string) (*aiclient.DetectLanguageResponse, error)
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*aiclient.TranslateResponse, error)
	GenerateDocument(ctx context.Context, templateName string, data map[string]any) (*aiclient.DocGenResponse, error)
}

var _ LanguageClient = (*aiclient.Client)(nil)

// LanguageService exposes language detection, translation, and document
// generation.
type LanguageService struct {
	AI LanguageClient
}

// DetectLanguage classifies the language of text.
func (s *LanguageService) DetectLanguage(ctx context.Context, text string) (*aiclient.DetectLanguageResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	out, err := s.AI.DetectLanguage(ctx, text)
	if err != nil {
		return nil, mapUpstreamErr(err)
	}
	return out, nil
}

// Translate translates text between two language codes. Empty codes fall
// back to the client defaults.
func (s *LanguageService) Translate(ctx context.Context, text, sourceLang, targetLang string) (*aiclient.TranslateResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	out, err := s.AI.Translate(ctx, text, sourceLang, targetLang)
	if err != nil {
		return nil, mapUpstreamErr(err)
	}
	return out, nil
}

// GenerateDocument renders a named upstream template with the given data.
func (s *LanguageService) GenerateDocument(ctx context.Context, templateName string, data map[string]any) (*aiclient.DocGenResponse, error) {
	if strings.TrimSpace(templateName) == "" {
		return nil, ErrEmptyMessage
	}
	out, err := s.AI.GenerateDocument(ctx, templateName, data)
	if err != nil {
		return nil, mapUpstreamErr(err)
	}
	return out, nil
}
