// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST /conversations/{id}/messages   (send a message, get the assistant reply)
//   - GET  /conversations/{id}/messages   (list all messages of a conversation)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - accept either a JSON body or a multipart form with an attached document
//   - delegate to application services (ConversationService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, conversation, key), the handler returns that
// recorded assistant message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casemate/go-conversation-backend/internal/domain"
	"github.com/casemate/go-conversation-backend/internal/repo"
	"github.com/casemate/go-conversation-backend/internal/services"
	"github.com/casemate/go-conversation-backend/internal/utils"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a user message.
//
// Message is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. When a file is attached
// the same fields arrive as multipart form values instead.
type SendMessageRequest struct {
	// Message is the user prompt. Optional only when a file is attached.
	Message string `json:"message" example:"Summarize the attached report"`
	// Mode optionally switches the conversation mode (NORMAL or AGENTIC).
	Mode string `json:"mode" example:"AGENTIC"`
	// InputLanguage optionally hints the language the prompt is written in.
	InputLanguage string `json:"input_language" example:"en"`
	// OutputLanguage optionally requests the reply language.
	OutputLanguage string `json:"output_language" example:"fr"`
}

// SendMessageResponse is the JSON envelope for a completed exchange.
type SendMessageResponse struct {
	// Message is the assistant reply created as a result of the request.
	Message *domain.Message `json:"message"`
	// Conversation is the refreshed orchestration state (session, document).
	Conversation *services.ConversationState `json:"conversation"`
}

// ListConversationMessagesResponse contains the ordered message history.
type ListConversationMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
}

//
// Helpers
//

// maxPromptRunes caps the user prompt length enforced at the edge.
const maxPromptRunes = 8000

// maxUploadBytes caps the size of an attached document.
const maxUploadBytes = 10 << 20

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeMessage normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeMessage(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// readUpload extracts the attached document from a multipart request, if any.
// A missing "file" part is not an error; size violations are.
func readUpload(c *gin.Context) (*services.FileUpload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	if fh.Size > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxUploadBytes)
	}
	return &services.FileUpload{Name: fh.Filename, Data: data}, nil
}

// bindSendMessage decodes either encoding of the send-message request. A
// multipart form carries the text fields as form values plus the optional
// "file" part; everything else is treated as JSON.
func bindSendMessage(c *gin.Context) (req SendMessageRequest, file *services.FileUpload, err error) {
	ct := c.ContentType()
	if strings.HasPrefix(ct, "multipart/form-data") {
		req.Message = c.PostForm("message")
		req.Mode = c.PostForm("mode")
		req.InputLanguage = c.PostForm("input_language")
		req.OutputLanguage = c.PostForm("output_language")
		file, err = readUpload(c)
		return req, file, err
	}
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil && !errors.Is(bindErr, io.EOF) {
		return req, nil, bindErr
	}
	return req, nil, nil
}

// clampPagination reads limit/offset query parameters with sane bounds. A
// limit of 0 (the default) means "no limit".
func clampPagination(c *gin.Context, maxLimit int) (limit, offset int) {
	limit = utils.AtoiDefault(c.Query("limit"), 0)
	offset = utils.AtoiDefault(c.Query("offset"), 0)
	if limit < 0 {
		limit = 0
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message and get the assistant reply
// @Description Appends a user message to the conversation and returns the assistant reply
// @Description together with the refreshed conversation state. Accepts either a JSON body or a
// @Description multipart form with an attached document (field "file"), which switches the
// @Description conversation to AGENTIC mode. Supports idempotency via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID        header    string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path      string  true  "Conversation ID (UUID)" format(uuid)
// @Param       body             body      handlers.SendMessageRequest  false  "User message payload"
// @Param       file             formData  file    false "Document to upload alongside the message"
//
// @Success     200  {object}  handlers.SendMessageResponse  "Assistant reply"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     502  {object}  handlers.ErrorResponse        "AI backend failure"
// @Failure     503  {object}  handlers.ErrorResponse        "AI backend timeout"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	req, file, err := bindSendMessage(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	text := sanitizeMessage(req.Message)
	if utf8.RuneCountInString(text) > maxPromptRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("message too long: max %d runes", maxPromptRunes))
		return
	}
	if text == "" && file == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message or file required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.convSvc.(*services.ChatService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, conversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, SendMessageResponse{
						Message:      prev,
						Conversation: replayState(ctx, svc.DB, conversationID),
					})
					return
				}
			}
		}
	}

	m, state, err := h.convSvc.SendMessage(ctx, currentUser, conversationID, text, req.Mode, file, req.InputLanguage, req.OutputLanguage)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message or file required")
		case errors.Is(err, services.ErrInvalidMode):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mode must be NORMAL or AGENTIC")
		case errors.Is(err, services.ErrUpstreamTimeout):
			fail(c, http.StatusServiceUnavailable, ErrCodeUpstreamTimeout,
				"the AI backend took too long to respond; it may be waking up, please retry")
		case errors.Is(err, services.ErrUpstreamFailed):
			fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "the AI backend failed to answer")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.convSvc.(*services.ChatService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, conversationID, idemKey, m.ID, http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, SendMessageResponse{Message: m, Conversation: state})
}

// replayState rebuilds the orchestration state for an idempotent replay from
// the stored conversation row.
func replayState(ctx context.Context, db *gorm.DB, conversationID string) *services.ConversationState {
	state := &services.ConversationState{ID: conversationID}
	if conv, err := repo.GetConversationByID(ctx, db, conversationID); err == nil {
		if conv.SessionID != nil {
			state.SessionID = *conv.SessionID
		}
		if conv.DocumentID != nil {
			state.DocumentID = *conv.DocumentID
		}
	}
	return state
}

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List messages in a conversation
// @Description Returns the ordered message history of a conversation owned by the current user.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       id             path    string  true  "Conversation ID (UUID)"      format(uuid)
// @Param       limit          query   int     false "Max messages to return (0 = all)"  example(50)
// @Param       offset         query   int     false "Messages to skip"                  example(100)
//
// @Success     200  {object} handlers.ListConversationMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	// ETag pre-check (best effort). Message stats are owner-scoped data, so
	// the ownership check must come first: a non-owner must not learn the
	// conversation's message count or activity, nor be served a 304.
	var db *gorm.DB
	if svc, okSvc := h.convSvc.(*services.ChatService); okSvc {
		db = svc.DB
	}
	if db != nil {
		if _, err := repo.GetConversation(ctx, db, conversationID, userID(c)); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
				return
			}
			// Other DB errors fall through; the listing call reports them.
		} else if count, maxTS, err := repo.MessagesStats(ctx, db, conversationID); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, conversationID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.convSvc.GetConversationMessages(ctx, userID(c), conversationID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	total := len(items)
	limit, offset := clampPagination(c, 500)
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	ok(c, http.StatusOK, ListConversationMessagesResponse{
		Messages: items,
		Total:    total,
	})
}
