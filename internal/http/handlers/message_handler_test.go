package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/casemate/go-conversation-backend/internal/aiclient"
	"github.com/casemate/go-conversation-backend/internal/cache"
	"github.com/casemate/go-conversation-backend/internal/domain"
	"github.com/casemate/go-conversation-backend/internal/repo"
	"github.com/casemate/go-conversation-backend/internal/services"
)

func Test_sanitizeMessage(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"crlf to lf", "a\r\nb", "a\nb"},
		{"bare cr to lf", "a\rb", "a\nb"},
		{"collapse blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"trim", "  hello \n", "hello"},
		{"keeps single paragraph break", "a\n\nb", "a\n\nb"},
		{"empty", "   \r\n ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeMessage(tc.in); got != tc.want {
				t.Fatalf("sanitizeMessage(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSendMessage_Validation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandlers(nil, nil, nil, nil)

	r := gin.New()
	r.POST("/conversations/:id/messages", h.SendMessage)

	post := func(path, body, ct string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		r.ServeHTTP(w, req)
		return w
	}

	// invalid UUID in the path
	if w := post("/conversations/nope/messages", `{"message":"hi"}`, "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid expected 400, got %d", w.Code)
	}

	id := uuid.NewString()

	// neither text nor file
	if w := post("/conversations/"+id+"/messages", `{"message":"  "}`, "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("empty message expected 400, got %d", w.Code)
	}

	// over the rune cap
	long := strings.Repeat("x", maxPromptRunes+1)
	if w := post("/conversations/"+id+"/messages", fmt.Sprintf(`{"message":%q}`, long), "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized message expected 400, got %d", w.Code)
	}

	// malformed JSON
	if w := post("/conversations/"+id+"/messages", `{"message":`, "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON expected 400, got %d", w.Code)
	}
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", services.ErrConversationNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"invalid mode", services.ErrInvalidMode, http.StatusBadRequest, ErrCodeBadRequest},
		{"upstream timeout", services.ErrUpstreamTimeout, http.StatusServiceUnavailable, ErrCodeUpstreamTimeout},
		{"upstream failed", services.ErrUpstreamFailed, http.StatusBadGateway, ErrCodeUpstreamError},
		{"unexpected", context.DeadlineExceeded, http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(stubConvSvc{send: func(context.Context, string, string, string, string, *services.FileUpload, string, string) (*domain.Message, *services.ConversationState, error) {
				return nil, nil, tc.err
			}}, nil, nil, nil)
			r := gin.New()
			r.POST("/conversations/:id/messages", h.SendMessage)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/messages", strings.NewReader(`{"message":"hi"}`))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.wantStatus, w.Body.String())
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if er.Code != tc.wantCode || er.Message == "" {
				t.Fatalf("envelope: %+v want code %q", er, tc.wantCode)
			}
		})
	}
}

func TestSendMessage_JSONSuccess_ForwardsFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	var gotText, gotMode, gotIn, gotOut string
	h := newTestHandlers(stubConvSvc{send: func(_ context.Context, _, _, text, mode string, _ *services.FileUpload, in, out string) (*domain.Message, *services.ConversationState, error) {
		gotText, gotMode, gotIn, gotOut = text, mode, in, out
		return &domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "hello"},
			&services.ConversationState{ID: id, SessionID: "s-9"}, nil
	}}, nil, nil, nil)

	r := gin.New()
	r.POST("/conversations/:id/messages", h.SendMessage)

	body := `{"message":"Hi\r\n\r\n\r\nthere","mode":"NORMAL","input_language":"en","output_language":"fr"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotText != "Hi\n\nthere" {
		t.Fatalf("text not sanitized: %q", gotText)
	}
	if gotMode != "NORMAL" || gotIn != "en" || gotOut != "fr" {
		t.Fatalf("fields not forwarded: %q %q %q", gotMode, gotIn, gotOut)
	}
	var resp SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Message == nil || resp.Message.Content != "hello" {
		t.Fatalf("missing assistant message: %+v", resp)
	}
	if resp.Conversation == nil || resp.Conversation.SessionID != "s-9" {
		t.Fatalf("missing conversation state: %+v", resp.Conversation)
	}
}

func TestSendMessage_MultipartUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	var gotFile *services.FileUpload
	var gotText, gotMode string
	h := newTestHandlers(stubConvSvc{send: func(_ context.Context, _, _, text, mode string, file *services.FileUpload, _, _ string) (*domain.Message, *services.ConversationState, error) {
		gotFile, gotText, gotMode = file, text, mode
		return &domain.Message{ID: "m1"}, &services.ConversationState{ID: id}, nil
	}}, nil, nil, nil)

	r := gin.New()
	r.POST("/conversations/:id/messages", h.SendMessage)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("message", "what is in this file?")
	_ = mw.WriteField("mode", "AGENTIC")
	fw, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte("%PDF-1.4 fake")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotFile == nil || gotFile.Name != "report.pdf" || string(gotFile.Data) != "%PDF-1.4 fake" {
		t.Fatalf("upload not captured: %+v", gotFile)
	}
	if gotText != "what is in this file?" || gotMode != "AGENTIC" {
		t.Fatalf("form fields not forwarded: %q %q", gotText, gotMode)
	}
}

func TestSendMessage_MultipartFileOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	h := newTestHandlers(stubConvSvc{send: func(_ context.Context, _, _, text, _ string, file *services.FileUpload, _, _ string) (*domain.Message, *services.ConversationState, error) {
		if text != "" || file == nil {
			t.Fatalf("expected file-only request, text=%q file=%v", text, file)
		}
		return &domain.Message{ID: "m1"}, &services.ConversationState{ID: id}, nil
	}}, nil, nil, nil)

	r := gin.New()
	r.POST("/conversations/:id/messages", h.SendMessage)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = fw.Write([]byte("plain text"))
	_ = mw.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("file without message expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// replayAI answers every chat turn with a fixed reply so idempotency tests can
// exercise the real ChatService end to end.
type replayAI struct{ calls int }

func (a *replayAI) Chat(context.Context, string, []aiclient.HistoryMessage, string) (*aiclient.Response, error) {
	a.calls++
	return &aiclient.Response{Kind: aiclient.KindChat, Chat: &aiclient.ChatResponse{Response: "pong"}}, nil
}
func (a *replayAI) AgentChat(context.Context, string, string, string) (*aiclient.Response, error) {
	a.calls++
	return &aiclient.Response{Kind: aiclient.KindChat, Chat: &aiclient.ChatResponse{Response: "pong"}}, nil
}
func (a *replayAI) AgentUploadAndChat(context.Context, []byte, string, string, string, string, string) (*aiclient.Response, error) {
	a.calls++
	return &aiclient.Response{Kind: aiclient.KindChat, Chat: &aiclient.ChatResponse{Response: "pong"}}, nil
}

func TestSendMessage_IdempotencyReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	ai := &replayAI{}

	svc := services.NewChatService(db, ai, cache.New(nil, 0, 0))
	h := newTestHandlers(svc, nil, nil, nil)

	conv, err := repo.CreateConversation(context.Background(), db, &domain.Conversation{UserID: "u1", Title: "t"})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	r := gin.New()
	r.POST("/conversations/:id/messages", h.SendMessage)

	send := func(key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID+"/messages", strings.NewReader(`{"message":"ping"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "u1")
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		r.ServeHTTP(w, req)
		return w
	}

	key := uuid.NewString()

	// First call reaches the AI backend and records the key.
	w := send(key)
	if w.Code != http.StatusOK {
		t.Fatalf("first send expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first send must not be a replay")
	}
	var first SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil || first.Message == nil {
		t.Fatalf("first response: %+v err=%v", first, err)
	}
	if ai.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", ai.calls)
	}

	// Retry with the same key replays the stored reply without calling upstream.
	w = send(key)
	if w.Code != http.StatusOK {
		t.Fatalf("replay expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header, got %q", w.Header().Get("Idempotency-Replayed"))
	}
	var second SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("replay json: %v", err)
	}
	if second.Message == nil || second.Message.ID != first.Message.ID {
		t.Fatalf("replay returned a different message: %+v vs %+v", second.Message, first.Message)
	}
	if ai.calls != 1 {
		t.Fatalf("replay must not hit upstream, calls=%d", ai.calls)
	}

	// A fresh key goes upstream again.
	w = send(uuid.NewString())
	if w.Code != http.StatusOK {
		t.Fatalf("fresh key expected 200, got %d", w.Code)
	}
	if ai.calls != 2 {
		t.Fatalf("fresh key must hit upstream, calls=%d", ai.calls)
	}
}

func Test_replayState_RebuildsFromRow(t *testing.T) {
	db := newHandlerDB(t)

	sess := "sess-7"
	doc := "doc-7"
	conv, err := repo.CreateConversation(context.Background(), db, &domain.Conversation{
		UserID:     "u1",
		Title:      "t",
		Mode:       domain.ModeAgentic,
		SessionID:  &sess,
		DocumentID: &doc,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state := replayState(ctx, db, conv.ID)
	if state.ID != conv.ID || state.SessionID != "sess-7" || state.DocumentID != "doc-7" {
		t.Fatalf("unexpected state: %+v", state)
	}

	// Unknown id still yields a minimal state.
	state = replayState(ctx, db, uuid.NewString())
	if state == nil || state.SessionID != "" || state.DocumentID != "" {
		t.Fatalf("unknown id: %+v", state)
	}
}

func TestListConversationMessages_Pagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	all := []domain.Message{
		{ID: "m1", Content: "a"},
		{ID: "m2", Content: "b"},
		{ID: "m3", Content: "c"},
	}
	h := newTestHandlers(stubConvSvc{msgs: func(context.Context, string, string) ([]domain.Message, error) {
		return all, nil
	}}, nil, nil, nil)

	r := gin.New()
	r.GET("/conversations/:id/messages", h.ListConversationMessages)

	get := func(query string) ListConversationMessagesResponse {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/conversations/"+id+"/messages"+query, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("query %q: status=%d body=%s", query, w.Code, w.Body.String())
		}
		var resp ListConversationMessagesResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("query %q: json: %v", query, err)
		}
		return resp
	}

	// default returns everything
	resp := get("")
	if resp.Total != 3 || len(resp.Messages) != 3 {
		t.Fatalf("default: %+v", resp)
	}

	// limit + offset window
	resp = get("?limit=1&offset=1")
	if resp.Total != 3 || len(resp.Messages) != 1 || resp.Messages[0].ID != "m2" {
		t.Fatalf("window: %+v", resp)
	}

	// offset past the end yields an empty page
	resp = get("?offset=10")
	if resp.Total != 3 || len(resp.Messages) != 0 {
		t.Fatalf("past end: %+v", resp)
	}

	// junk values fall back to defaults
	resp = get("?limit=zap&offset=-4")
	if len(resp.Messages) != 3 {
		t.Fatalf("junk params: %+v", resp)
	}
}

func TestListConversationMessages_ETagAndErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)

	svc := services.NewChatService(db, &replayAI{}, cache.New(nil, 0, 0))
	h := newTestHandlers(svc, nil, nil, nil)

	conv, err := repo.CreateConversation(context.Background(), db, &domain.Conversation{UserID: "u1", Title: "t"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.CreateMessage(db, conv.ID, domain.RoleUser, "hello", nil, nil); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	r := gin.New()
	r.GET("/conversations/:id/messages", h.ListConversationMessages)

	// invalid UUID
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/bogus/messages", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid expected 400, got %d", w.Code)
	}

	// success with ETag
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"messages:`) {
		t.Fatalf("unexpected ETag: %q", etag)
	}
	var resp ListConversationMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Total != 1 {
		t.Fatalf("listing: %+v err=%v", resp, err)
	}

	// conditional read
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional read expected 304, got %d", w.Code)
	}

	// someone else's conversation is invisible: no listing, no ETag, and the
	// owner's ETag must not produce a 304
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	req.Header.Set("X-User-ID", "intruder")
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign user expected 404, got %d", w.Code)
	}
	if got := w.Header().Get("ETag"); got != "" {
		t.Fatalf("foreign user must not receive an ETag, got %q", got)
	}
}
