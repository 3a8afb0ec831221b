package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casemate/go-conversation-backend/internal/domain"
)

func newShareRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("share_repo_test_%d.db", time.Now().UnixNano()))
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

func TestCreateSharedLink_PersistsAndEnforcesUniquePair(t *testing.T) {
	db := newShareRepoDB(t, &domain.SharedLink{})

	link, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-1")
	if err != nil {
		t.Fatalf("CreateSharedLink: %v", err)
	}
	if link.ID == "" || link.UserID != "u1" || link.ConversationID != "c1" || link.Token != "tok-1" {
		t.Fatalf("unexpected link: %+v", link)
	}
	if link.ViewCount != 0 {
		t.Fatalf("expected zero view count, got %d", link.ViewCount)
	}

	// Second link for the same (user, conversation) pair violates the unique index.
	if _, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-2"); err == nil {
		t.Fatalf("expected unique violation for duplicate pair")
	}
}

func TestGetSharedLink_ByPairAndByToken(t *testing.T) {
	db := newShareRepoDB(t, &domain.SharedLink{})

	if _, err := GetSharedLink(context.Background(), db, "u1", "c1"); err == nil {
		t.Fatalf("expected ErrRecordNotFound for missing pair")
	}
	if _, err := GetSharedLinkByToken(context.Background(), db, "nope"); err == nil {
		t.Fatalf("expected ErrRecordNotFound for missing token")
	}

	if _, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	byPair, err := GetSharedLink(context.Background(), db, "u1", "c1")
	if err != nil {
		t.Fatalf("GetSharedLink: %v", err)
	}
	byToken, err := GetSharedLinkByToken(context.Background(), db, "tok-1")
	if err != nil {
		t.Fatalf("GetSharedLinkByToken: %v", err)
	}
	if byPair.ID != byToken.ID {
		t.Fatalf("pair/token lookups disagree: %q vs %q", byPair.ID, byToken.ID)
	}
}

func TestDeleteSharedLinks_FreesUniqueSlot(t *testing.T) {
	db := newShareRepoDB(t, &domain.SharedLink{})

	if _, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := DeleteSharedLinks(context.Background(), db, "u1", "c1"); err != nil {
		t.Fatalf("DeleteSharedLinks: %v", err)
	}
	if _, err := GetSharedLink(context.Background(), db, "u1", "c1"); err == nil {
		t.Fatalf("expected link gone after delete")
	}

	// A re-share for the same pair must succeed (hard delete).
	if _, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-2"); err != nil {
		t.Fatalf("re-share after delete: %v", err)
	}
}

func TestClaimShareView_SequentialAndMissing(t *testing.T) {
	db := newShareRepoDB(t, &domain.SharedLink{})

	link, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, claimed, err := ClaimShareView(context.Background(), db, link.ID)
		if err != nil {
			t.Fatalf("ClaimShareView #%d: %v", want, err)
		}
		if !claimed || got != want {
			t.Fatalf("expected claimed count %d, got claimed=%v count=%d", want, claimed, got)
		}
	}

	if _, _, err := ClaimShareView(context.Background(), db, "missing"); err == nil {
		t.Fatalf("expected ErrRecordNotFound for missing link")
	}
}

func TestClaimShareView_RespectsMaxViews(t *testing.T) {
	db := newShareRepoDB(t, &domain.SharedLink{})

	link, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	max := 2
	if err := db.Model(&domain.SharedLink{}).Where("id = ?", link.ID).Update("max_views", max).Error; err != nil {
		t.Fatalf("set max_views: %v", err)
	}

	for want := 1; want <= max; want++ {
		got, claimed, err := ClaimShareView(context.Background(), db, link.ID)
		if err != nil || !claimed || got != want {
			t.Fatalf("claim #%d: claimed=%v count=%d err=%v", want, claimed, got, err)
		}
	}

	// Budget spent: further claims must be refused, not error.
	if _, claimed, err := ClaimShareView(context.Background(), db, link.ID); err != nil || claimed {
		t.Fatalf("expected refusal at the limit, got claimed=%v err=%v", claimed, err)
	}

	got, err := GetSharedLinkByToken(context.Background(), db, "tok-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ViewCount != max {
		t.Fatalf("expected view count to stay at %d, got %d", max, got.ViewCount)
	}
}

func TestClaimShareView_ConcurrentLosesNoIncrements(t *testing.T) {
	db := newShareRepoDB(t, &domain.SharedLink{})

	link, err := CreateSharedLink(context.Background(), db, "u1", "c1", "tok-1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			// busy_timeout is not set on raw test DBs; retry on lock contention.
			for {
				if _, _, err := ClaimShareView(context.Background(), db, link.ID); err == nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	got, err := GetSharedLinkByToken(context.Background(), db, "tok-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ViewCount != n {
		t.Fatalf("expected %d views, got %d", n, got.ViewCount)
	}
}
