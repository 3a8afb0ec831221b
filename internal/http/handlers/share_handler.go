// Share HTTP handlers.
//
// This file exposes the REST endpoints for conversation sharing:
//   - POST /conversations/{id}/share  (enable or disable sharing, owner only)
//   - GET  /shared/{token}            (public read-only view, no user header)
//
// The public endpoint enforces the full validation ladder server-side: link
// existence, the owner's global sharing toggle, the conversation's shared
// flag, expiry, and the view budget. Each successful read consumes one view.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/casemate/go-conversation-backend/internal/services"
)

// ShareConversationRequest is the JSON payload for toggling sharing.
type ShareConversationRequest struct {
	// Enable turns sharing on (true) or off (false).
	Enable *bool `json:"enable" binding:"required" example:"true"`
}

// requestBaseURL derives a public origin from the incoming request, used to
// build share links when no explicit base URL is configured.
func requestBaseURL(c *gin.Context) string {
	if c == nil || c.Request == nil || c.Request.Host == "" {
		return ""
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// ShareConversation godoc
// @ID          shareConversation
// @Summary     Enable or disable sharing for a conversation
// @Description Toggles public sharing. Enabling returns a share link; re-enabling reuses the
// @Description existing token. Disabling revokes the link immediately.
// @Tags        Sharing
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)" format(uuid)
// @Param       body       body    handlers.ShareConversationRequest true "Share toggle payload"
//
// @Success     200  {object} services.ShareResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/share [post]
func (h *Handlers) ShareConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req ShareConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enable == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enable (true or false) required")
		return
	}

	// Fall back to the request origin when no base URL is configured.
	var baseURL string
	if svc, okSvc := h.shareSvc.(*services.ShareService); okSvc && svc.BaseURL == "" {
		baseURL = requestBaseURL(c)
	}

	res, err := h.shareSvc.ShareConversation(c.Request.Context(), userID(c), conversationID, *req.Enable, baseURL)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, res)
}

// GetSharedConversation godoc
// @ID          getSharedConversation
// @Summary     Read a shared conversation
// @Description Public, unauthenticated view of a shared conversation by token. Each successful
// @Description read counts one view against the link's budget.
// @Tags        Sharing
// @Produce     json
//
// @Param       token  path  string  true  "Share token (16 hex chars)"  example(9f2b4c1a8e3d7f06)
//
// @Success     200  {object} services.SharedConversationView
// @Failure     403  {object} handlers.ErrorResponse "Sharing disabled, link expired, or view limit reached"
// @Failure     404  {object} handlers.ErrorResponse "Share link or conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /shared/{token} [get]
func (h *Handlers) GetSharedConversation(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "share link not found")
		return
	}

	view, err := h.shareSvc.GetSharedConversation(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrShareLinkNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "share link not found")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrSharingDisabled):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "sharing is disabled for this user")
		case errors.Is(err, services.ErrConversationNotShared):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "conversation is no longer shared")
		case errors.Is(err, services.ErrShareLinkExpired):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "share link has expired")
		case errors.Is(err, services.ErrShareViewLimit):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "share link view limit reached")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, view)
}
