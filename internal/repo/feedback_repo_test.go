package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casemate/go-conversation-backend/internal/domain"
)

func newFeedbackRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("feedback_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateFeedback_Error_NoTable(t *testing.T) {
	db := newFeedbackRepoDB(t /* no migrations */)
	if err := CreateFeedback(context.Background(), db, "m1", "u1", 1); err == nil {
		t.Fatalf("expected error when table missing")
	}
}

func TestCreateFeedback_SuccessAndDuplicate(t *testing.T) {
	db := newFeedbackRepoDB(t, &domain.Feedback{})

	if err := CreateFeedback(context.Background(), db, "m1", "u1", 1); err != nil {
		t.Fatalf("CreateFeedback: %v", err)
	}

	var got domain.Feedback
	if err := db.First(&got, "message_id = ? AND user_id = ?", "m1", "u1").Error; err != nil {
		t.Fatalf("load feedback: %v", err)
	}
	if got.ID == "" || got.Value != 1 {
		t.Fatalf("unexpected feedback row: %+v", got)
	}

	// Same (message, user) pair again must hit the unique index.
	if err := CreateFeedback(context.Background(), db, "m1", "u1", -1); err == nil {
		t.Fatalf("expected unique violation for duplicate feedback")
	}

	// Different user on the same message is fine.
	if err := CreateFeedback(context.Background(), db, "m1", "u2", -1); err != nil {
		t.Fatalf("CreateFeedback other user: %v", err)
	}
}
