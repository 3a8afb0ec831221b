// Package services – ShareService
//
// This file implements ShareService, the authority over token-gated public
// conversation views. Enabling a share mints (or reuses) a random token and
// flips both the conversation's IsShared flag and the owner's account-wide
// ShareEnabled flag; disabling clears the flag and removes the link rows.
//
// The unauthenticated read path validates a strict ladder before revealing
// anything: link exists, owner still has sharing enabled, conversation still
// exists and is still shared, link unexpired, view budget not spent. The view
// counter is claimed with a guarded UPDATE so concurrent readers cannot slip
// past max_views.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/casemate/go-conversation-backend/internal/domain"
	"github.com/casemate/go-conversation-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// shareTokenBytes is the entropy behind a share token (rendered as hex).
const shareTokenBytes = 8

// ShareResult is the outcome of toggling sharing on a conversation.
type ShareResult struct {
	Enabled bool   `json:"enabled"`
	Link    string `json:"link,omitempty"`
	Message string `json:"message,omitempty"`
}

// SharedConversationView is the public read-only projection of a shared
// conversation.
type SharedConversationView struct {
	UserName     string             `json:"user_name"`
	Conversation SharedConversation `json:"conversation"`
	ShareInfo    ShareInfo          `json:"share_info"`
}

// SharedConversation carries the conversation core fields plus the full
// ordered message history.
type SharedConversation struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Mode      string           `json:"mode"`
	CreatedAt time.Time        `json:"created_at"`
	Messages  []domain.Message `json:"messages"`
}

// ShareInfo reports the link's post-read usage state.
type ShareInfo struct {
	ViewCount int        `json:"view_count"`
	MaxViews  *int       `json:"max_views,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ShareService implements the use-cases around conversation sharing.
type ShareService struct {
	// DB is the database handle used for all share operations.
	DB *gorm.DB

	// BaseURL, when set, is the public origin used to build share links
	// (e.g. "https://chat.example.com"). Callers may override per request.
	BaseURL string
}

// ShareConversation enables or disables sharing for a conversation owned by
// userID. Enabling reuses an existing link token or mints a new one and
// returns the absolute link; disabling removes the links and returns a
// confirmation message. baseURL overrides the configured BaseURL when set.
func (s *ShareService) ShareConversation(ctx context.Context, userID, conversationID string, enable bool, baseURL string) (*ShareResult, error) {
	if _, err := repo.GetConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	if !enable {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repo.UpdateConversation(ctx, tx, conversationID, map[string]any{"is_shared": false}); err != nil {
				return err
			}
			return repo.DeleteSharedLinks(ctx, tx, userID, conversationID)
		})
		if err != nil {
			return nil, err
		}
		return &ShareResult{Enabled: false, Message: "Sharing disabled"}, nil
	}

	var token string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := repo.GetSharedLink(ctx, tx, userID, conversationID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			minted, merr := mintToken()
			if merr != nil {
				return merr
			}
			link, err = repo.CreateSharedLink(ctx, tx, userID, conversationID, minted)
		}
		if err != nil {
			return err
		}
		token = link.Token

		if err := repo.UpdateConversation(ctx, tx, conversationID, map[string]any{"is_shared": true}); err != nil {
			return err
		}
		return repo.SetShareEnabled(ctx, tx, userID, true)
	})
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = strings.TrimRight(s.BaseURL, "/")
	}
	return &ShareResult{
		Enabled: true,
		Link:    fmt.Sprintf("%s/api/v1/shared/%s", base, token),
	}, nil
}

// GetSharedConversation resolves a public share token into the read-only
// conversation view, enforcing the validation ladder and claiming one view.
func (s *ShareService) GetSharedConversation(ctx context.Context, token string) (*SharedConversationView, error) {
	tr := otel.Tracer("services/ShareService")
	ctx, span := tr.Start(ctx, "GetSharedConversation",
		trace.WithAttributes(attribute.String("share.token", token)),
	)
	defer span.End()

	link, err := repo.GetSharedLinkByToken(ctx, s.DB, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShareLinkNotFound
		}
		return nil, err
	}

	owner, err := repo.GetUser(ctx, s.DB, link.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No account row means the toggle was never switched on.
			return nil, ErrSharingDisabled
		}
		return nil, err
	}
	if !owner.ShareEnabled {
		return nil, ErrSharingDisabled
	}

	conv, err := repo.GetConversationByID(ctx, s.DB, link.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.IsShared {
		return nil, ErrConversationNotShared
	}
	if link.ExpiresAt != nil && link.ExpiresAt.Before(time.Now().UTC()) {
		return nil, ErrShareLinkExpired
	}
	if link.MaxViews != nil && link.ViewCount >= *link.MaxViews {
		return nil, ErrShareViewLimit
	}

	views, claimed, err := repo.ClaimShareView(ctx, s.DB, link.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShareLinkNotFound
		}
		return nil, err
	}
	if !claimed {
		// Lost the race against a concurrent reader spending the last view.
		return nil, ErrShareViewLimit
	}

	messages, err := repo.ListMessages(s.DB.WithContext(ctx), conv.ID, 0)
	if err != nil {
		return nil, err
	}

	userName := owner.Name
	if userName == "" {
		userName = owner.Email
	}

	return &SharedConversationView{
		UserName: userName,
		Conversation: SharedConversation{
			ID:        conv.ID,
			Title:     conv.Title,
			Mode:      conv.Mode,
			CreatedAt: conv.CreatedAt,
			Messages:  messages,
		},
		ShareInfo: ShareInfo{
			ViewCount: views,
			MaxViews:  link.MaxViews,
			ExpiresAt: link.ExpiresAt,
		},
	}, nil
}

// mintToken produces a new share token from crypto/rand.
func mintToken() (string, error) {
	buf := make([]byte, shareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint share token failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
