// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST   /conversations        (create)
//   - GET    /conversations        (list, ETag support)
//   - GET    /conversations/{id}   (info)
//   - DELETE /conversations/{id}   (delete one)
//   - DELETE /conversations        (delete all)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casemate/go-conversation-backend/internal/aiclient"
	"github.com/casemate/go-conversation-backend/internal/domain"
	"github.com/casemate/go-conversation-backend/internal/repo"
	"github.com/casemate/go-conversation-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle and messaging operations
// consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConversationService interface {
	// CreateConversation starts a new conversation for userID.
	CreateConversation(ctx context.Context, userID string, in services.CreateConversationInput) (*domain.Conversation, error)
	// SendMessage appends a user message, obtains the assistant reply, and
	// returns it along with the refreshed orchestration state.
	SendMessage(ctx context.Context, userID, conversationID, text, mode string, file *services.FileUpload, inputLanguage, outputLanguage string) (*domain.Message, *services.ConversationState, error)
	// GetConversations returns the user's conversation listing with previews.
	GetConversations(ctx context.Context, userID string) ([]services.ConversationListItem, error)
	// GetConversationInfo returns one conversation owned by userID.
	GetConversationInfo(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)
	// GetConversationMessages returns the full ordered message history.
	GetConversationMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
	// DeleteConversation removes a conversation owned by userID.
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	// DeleteAllConversations removes every conversation owned by userID.
	DeleteAllConversations(ctx context.Context, userID string) (int64, error)
}

// ShareService defines conversation sharing operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ShareService interface {
	// ShareConversation toggles sharing and returns the resulting link state.
	ShareConversation(ctx context.Context, userID, conversationID string, enable bool, baseURL string) (*services.ShareResult, error)
	// GetSharedConversation resolves a public share token into a read-only view.
	GetSharedConversation(ctx context.Context, token string) (*services.SharedConversationView, error)
}

// LanguageService defines the auxiliary language and document operations
// proxied to the AI backend.
type LanguageService interface {
	// DetectLanguage identifies the language of a text sample.
	DetectLanguage(ctx context.Context, text string) (*aiclient.DetectLanguageResponse, error)
	// Translate converts text between languages.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*aiclient.TranslateResponse, error)
	// GenerateDocument renders a document from a named template and data.
	GenerateDocument(ctx context.Context, templateName string, data map[string]any) (*aiclient.DocGenResponse, error)
}

// FeedbackService defines operations to capture user feedback on messages.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type FeedbackService interface {
	// Leave submits a feedback value (-1 or 1) for messageID by userID.
	Leave(ctx context.Context, userID, messageID string, value int) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, sharing, language tools,
// and feedback. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	convSvc  ConversationService
	shareSvc ShareService
	langSvc  LanguageService
	fbSvc    FeedbackService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(convSvc ConversationService, shareSvc ShareService, langSvc LanguageService, fbSvc FeedbackService) *Handlers {
	return &Handlers{convSvc: convSvc, shareSvc: shareSvc, langSvc: langSvc, fbSvc: fbSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateConversationRequest is the JSON payload for creating a conversation.
// Every field is optional; an empty body yields a fresh NORMAL conversation.
type CreateConversationRequest struct {
	// ID optionally supplies a client-generated conversation id (UUID).
	ID string `json:"id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Title optionally sets the conversation title; a default is used when empty.
	Title string `json:"title" example:"Quarterly report review"`
	// Mode selects NORMAL or AGENTIC; defaults to NORMAL.
	Mode string `json:"mode" example:"NORMAL"`
	// DocumentID optionally binds an already-uploaded document.
	DocumentID string `json:"document_id" example:"doc-42"`
	// DocumentName is the display name of the bound document.
	DocumentName string `json:"document_name" example:"report.pdf"`
	// SessionID optionally binds an existing agent session.
	SessionID string `json:"session_id" example:"sess-42"`
}

// ListConversationsResponse wraps the user's conversation listing.
type ListConversationsResponse struct {
	Conversations []services.ConversationListItem `json:"conversations"`
	Total         int                             `json:"total"`
}

// DeleteAllConversationsResponse reports how many conversations were removed.
type DeleteAllConversationsResponse struct {
	Deleted int64 `json:"deleted"`
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a new conversation
// @Description Creates a conversation for the current user and returns the conversation resource.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateConversationRequest  false  "Create conversation payload"
//
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	// An absent or empty body is a valid "defaults only" request.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	conv, err := h.convSvc.CreateConversation(c.Request.Context(), userID(c), services.CreateConversationInput{
		ID:           strings.TrimSpace(req.ID),
		Title:        req.Title,
		Mode:         req.Mode,
		DocumentID:   strings.TrimSpace(req.DocumentID),
		DocumentName: strings.TrimSpace(req.DocumentName),
		SessionID:    strings.TrimSpace(req.SessionID),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidMode):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mode must be NORMAL or AGENTIC")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns the user's conversations, most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.convSvc.(*services.ChatService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ConversationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.convSvc.GetConversations(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Total:         len(items),
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get conversation info
// @Description Returns one conversation owned by the current user, without its messages.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.Conversation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	conv, err := h.convSvc.GetConversationInfo(c.Request.Context(), userID(c), conversationID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, conv)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Description Deletes a conversation owned by the current user, with its messages and share links.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if err := h.convSvc.DeleteConversation(c.Request.Context(), userID(c), conversationID); err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteAllConversations godoc
// @ID          deleteAllConversations
// @Summary     Delete all conversations
// @Description Deletes every conversation owned by the current user and reports the count.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.DeleteAllConversationsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [delete]
func (h *Handlers) DeleteAllConversations(c *gin.Context) {
	n, err := h.convSvc.DeleteAllConversations(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, DeleteAllConversationsResponse{Deleted: n})
}
