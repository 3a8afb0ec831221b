// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the minimal
// User row this service owns (display identity + sharing toggle).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/casemate/go-conversation-backend/internal/domain"
)

// GetUser fetches a user by ID, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetShareEnabled upserts the user's global sharing toggle. Accounts are
// provisioned elsewhere; a missing row is created on first use so the toggle
// never fails for a valid caller.
func SetShareEnabled(ctx context.Context, db *gorm.DB, id string, enabled bool) error {
	u := &domain.User{
		ID:           id,
		ShareEnabled: enabled,
		CreatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"share_enabled": enabled}),
		}).
		Create(u).Error
}
