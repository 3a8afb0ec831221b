package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrTimeout is returned when the AI backend does not answer within the
// configured timeout. The hosted backend sleeps when idle, so the first
// request after a quiet period routinely hits this.
var ErrTimeout = errors.New("the AI service is taking longer than expected; it may be waking up from sleep, please try again in a moment")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("ai backend status %d: %s", e.StatusCode, e.Body)
}

// DefaultTimeout bounds upstream calls when no explicit timeout is configured.
const DefaultTimeout = 180 * time.Second

// Client is the typed RPC client for the AI inference backend. Construct it
// once at process start and inject it wherever upstream calls are made.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for the backend at baseURL. A non-positive timeout
// falls back to DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Chat sends a plain-chat request with prior history and an optional rolling
// summary, returning a Response with Kind KindChat.
func (c *Client) Chat(ctx context.Context, prompt string, history []HistoryMessage, summary string) (*Response, error) {
	if history == nil {
		history = []HistoryMessage{}
	}
	body := map[string]any{
		"prompt":  prompt,
		"history": history,
	}
	if summary != "" {
		body["summary"] = summary
	}
	var out ChatResponse
	if err := c.postJSON(ctx, "/api/v1/chat", body, &out); err != nil {
		return nil, err
	}
	return NewChatResponse(&out), nil
}

// AgentChat sends an agentic-chat request, optionally continuing an upstream
// session and/or targeting a previously uploaded document.
func (c *Client) AgentChat(ctx context.Context, message, sessionID, documentID string) (*Response, error) {
	body := map[string]any{
		"message":     message,
		"session_id":  sessionID,
		"document_id": documentID,
	}
	var out AgentChatResponse
	if err := c.postJSON(ctx, "/api/v1/agent/chat", body, &out); err != nil {
		return nil, err
	}
	return NewAgentChatResponse(&out), nil
}

// AgentUploadAndChat uploads file bytes and asks the agent an initial
// question about them in a single multipart request.
func (c *Client) AgentUploadAndChat(ctx context.Context, file []byte, fileName, initialMessage, sessionID, inputLanguage, outputLanguage string) (*Response, error) {
	if initialMessage == "" {
		initialMessage = "Please analyze this document"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build upload form failed: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, fmt.Errorf("write upload payload failed: %w", err)
	}
	fields := map[string]string{
		"initial_message": initialMessage,
		"session_id":      sessionID,
		"input_language":  inputLanguage,
		"output_language": outputLanguage,
	}
	for k, v := range fields {
		if v == "" && k != "initial_message" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write upload field failed: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload form failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/agent/upload-and-chat", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request failed: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadAndChatResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return NewUploadAndChatResponse(&out), nil
}

// DetectLanguage asks the backend to classify the language of text.
func (c *Client) DetectLanguage(ctx context.Context, text string) (*DetectLanguageResponse, error) {
	var out DetectLanguageResponse
	if err := c.postJSON(ctx, "/api/v1/agent/detect-language", map[string]any{"text": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateDocument renders a named template with the given data.
func (c *Client) GenerateDocument(ctx context.Context, templateName string, data map[string]any) (*DocGenResponse, error) {
	body := map[string]any{
		"template_name": templateName,
		"data":          data,
	}
	var out DocGenResponse
	if err := c.postJSON(ctx, "/api/v1/generate-document", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Translate translates text between the given language codes.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (*TranslateResponse, error) {
	if sourceLang == "" {
		sourceLang = "en"
	}
	if targetLang == "" {
		targetLang = "hi"
	}
	body := map[string]any{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	}
	var out TranslateResponse
	if err := c.postJSON(ctx, "/api/v1/translate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// postJSON marshals body, POSTs it to path, and decodes the 2xx response
// into out.
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal ai request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ai request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes the request, rewriting timeouts to ErrTimeout and non-2xx
// statuses to *StatusError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w (%s)", ErrTimeout, req.URL.Path)
		}
		return fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read ai response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse ai response failed: %w", err)
	}
	return nil
}

// isTimeout reports whether err represents a client-side deadline, either the
// http.Client timeout or a context deadline further up the stack.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
