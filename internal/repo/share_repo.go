// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the SharedLink
// model backing the public read-only conversation views.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casemate/go-conversation-backend/internal/domain"
)

// GetSharedLink fetches the link for a (user, conversation) pair, or
// ErrNotFound. At most one row exists per pair (unique index).
func GetSharedLink(ctx context.Context, db *gorm.DB, userID, conversationID string) (*domain.SharedLink, error) {
	var link domain.SharedLink
	err := db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetSharedLinkByToken fetches a link by its public token, or ErrNotFound.
func GetSharedLinkByToken(ctx context.Context, db *gorm.DB, token string) (*domain.SharedLink, error) {
	var link domain.SharedLink
	err := db.WithContext(ctx).
		Where("token = ?", token).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// CreateSharedLink inserts a new link row for a (user, conversation) pair.
func CreateSharedLink(ctx context.Context, db *gorm.DB, userID, conversationID, token string) (*domain.SharedLink, error) {
	link := &domain.SharedLink{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Token:          token,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, err
	}
	return link, nil
}

// DeleteSharedLinks removes every link for a (user, conversation) pair.
// Hard delete, so the unique (user_id, conversation_id) slot frees up for a
// future re-share.
func DeleteSharedLinks(ctx context.Context, db *gorm.DB, userID, conversationID string) error {
	return db.WithContext(ctx).
		Unscoped().
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Delete(&domain.SharedLink{}).Error
}

// ClaimShareView bumps the link's view counter in a single guarded UPDATE so
// concurrent readers can neither lose increments nor exceed max_views. It
// returns the post-increment count and claimed=false when the view budget is
// already spent. A missing link yields ErrRecordNotFound.
func ClaimShareView(ctx context.Context, db *gorm.DB, id string) (int, bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SharedLink{}).
		Where("id = ? AND (max_views IS NULL OR view_count < max_views)", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "exhausted" from "gone".
		var exists int64
		if err := db.WithContext(ctx).Model(&domain.SharedLink{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return 0, false, err
		}
		if exists == 0 {
			return 0, false, gorm.ErrRecordNotFound
		}
		return 0, false, nil
	}
	var link domain.SharedLink
	if err := db.WithContext(ctx).Select("view_count").Where("id = ?", id).First(&link).Error; err != nil {
		return 0, false, err
	}
	return link.ViewCount, true, nil
}
