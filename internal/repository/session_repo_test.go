package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/meetauth/internal/database"
	"github.com/hitoshi/meetauth/internal/model"
)

// --- バックエンド共通の契約テスト ---

func newRecord(id string, principal *model.Principal, ttl time.Duration) *model.SessionRecord {
	now := time.Now().Truncate(time.Millisecond)
	return &model.SessionRecord{
		ID:             id,
		Principal:      principal,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

func testPrincipal() *model.Principal {
	return &model.Principal{
		ProviderID:   "u1",
		DisplayName:  "Ana",
		Email:        "ana@example.com",
		AvatarURL:    "https://example.com/ana.png",
		AccessToken:  "tok1",
		RefreshToken: "ref1",
	}
}

func runSessionRepositoryContract(t *testing.T, newRepo func(t *testing.T) SessionRepository) {
	t.Run("FindByID_Missing_ReturnsNil", func(t *testing.T) {
		repo := newRepo(t)

		rec, err := repo.FindByID(context.Background(), "missing")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if rec != nil {
			t.Errorf("expected nil record, got %+v", rec)
		}
	})

	t.Run("Save_ThenFindByID_RoundTripsPrincipal", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		want := newRecord("s1", testPrincipal(), time.Hour)

		if err := repo.Save(ctx, want); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := repo.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got == nil {
			t.Fatal("expected record, got nil")
		}
		if got.Principal == nil {
			t.Fatal("expected principal, got nil")
		}
		if *got.Principal != *want.Principal {
			t.Errorf("principal = %+v, want %+v", *got.Principal, *want.Principal)
		}
		if !got.ExpiresAt.Equal(want.ExpiresAt) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
	})

	t.Run("Save_AnonymousRecord_HasNilPrincipal", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("anon", nil, time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := repo.FindByID(ctx, "anon")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got == nil {
			t.Fatal("expected record, got nil")
		}
		if got.Principal != nil {
			t.Errorf("expected nil principal, got %+v", got.Principal)
		}
	})

	t.Run("Save_Overwrite_LastWriteWins", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("s1", testPrincipal(), time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		second := testPrincipal()
		second.ProviderID = "u2"
		second.AccessToken = "tok2"
		if err := repo.Save(ctx, newRecord("s1", second, time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := repo.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got.Principal.ProviderID != "u2" || got.Principal.AccessToken != "tok2" {
			t.Errorf("principal = %+v, want overwritten principal", got.Principal)
		}
	})

	t.Run("FindByID_Expired_ReturnsNil", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("old", testPrincipal(), -time.Minute)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := repo.FindByID(ctx, "old")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got != nil {
			t.Errorf("expected nil for expired record, got %+v", got)
		}
	})

	t.Run("DeleteByID_RemovesRecord", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("s1", testPrincipal(), time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := repo.DeleteByID(ctx, "s1"); err != nil {
			t.Fatalf("DeleteByID() error = %v", err)
		}
		if err := repo.DeleteByID(ctx, "s1"); err != nil {
			t.Fatalf("DeleteByID() on missing record error = %v", err)
		}

		got, err := repo.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got != nil {
			t.Errorf("expected nil after delete, got %+v", got)
		}
	})

	t.Run("Touch_ExtendsExpiryAndKeepsPrincipal", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := newRecord("s1", testPrincipal(), time.Hour)

		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		accessed := rec.LastAccessedAt.Add(10 * time.Minute)
		expires := accessed.Add(2 * time.Hour)
		touched, err := repo.Touch(ctx, "s1", accessed, expires)
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if !touched {
			t.Fatal("Touch() = false, want true for a live record")
		}

		got, err := repo.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got == nil || got.Principal == nil {
			t.Fatal("expected authenticated record after Touch")
		}
		if !got.ExpiresAt.Equal(expires) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
		}
		if !got.LastAccessedAt.Equal(accessed) {
			t.Errorf("LastAccessedAt = %v, want %v", got.LastAccessedAt, accessed)
		}
	})

	t.Run("Touch_DeletedRecord_DoesNotResurrect", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("s1", testPrincipal(), time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := repo.DeleteByID(ctx, "s1"); err != nil {
			t.Fatalf("DeleteByID() error = %v", err)
		}

		now := time.Now().Truncate(time.Millisecond)
		touched, err := repo.Touch(ctx, "s1", now, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if touched {
			t.Error("Touch() = true, want false for a deleted record")
		}

		got, err := repo.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got != nil {
			t.Errorf("deleted record should stay deleted, got %+v", got)
		}
	})

	t.Run("Touch_ExpiredRecord_ReturnsFalse", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("old", testPrincipal(), -time.Minute)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		now := time.Now().Truncate(time.Millisecond)
		touched, err := repo.Touch(ctx, "old", now, now.Add(time.Hour))
		if err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if touched {
			t.Error("Touch() = true, want false for an expired record")
		}
	})

	t.Run("DeleteExpired_RemovesOnlyExpired", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		if err := repo.Save(ctx, newRecord("live", testPrincipal(), time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := repo.Save(ctx, newRecord("dead1", nil, -time.Minute)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := repo.Save(ctx, newRecord("dead2", testPrincipal(), -time.Hour)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		deleted, err := repo.DeleteExpired(ctx, time.Now())
		if err != nil {
			t.Fatalf("DeleteExpired() error = %v", err)
		}
		if deleted != 2 {
			t.Errorf("deleted = %d, want 2", deleted)
		}

		got, err := repo.FindByID(ctx, "live")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got == nil {
			t.Error("live record should survive DeleteExpired")
		}
	})

	t.Run("Ping_Succeeds", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}

// --- インメモリ ---

func TestMemorySessionRepo_Contract(t *testing.T) {
	runSessionRepositoryContract(t, func(t *testing.T) SessionRepository {
		return NewMemorySessionRepo()
	})
}

func TestMemorySessionRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()
	rec := newRecord("s1", testPrincipal(), time.Hour)

	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// 保存後に呼び出し側の値を書き換えても保存済みの値は変わらないこと
	rec.Principal.AccessToken = "mutated"

	got, _ := repo.FindByID(ctx, "s1")
	if got.Principal.AccessToken != "tok1" {
		t.Errorf("AccessToken = %q, want %q", got.Principal.AccessToken, "tok1")
	}

	got.Principal.AccessToken = "mutated-again"
	again, _ := repo.FindByID(ctx, "s1")
	if again.Principal.AccessToken != "tok1" {
		t.Errorf("AccessToken = %q, want %q", again.Principal.AccessToken, "tok1")
	}
}

func TestMemorySessionRepo_ConcurrentAccess(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Save(ctx, newRecord("shared", testPrincipal(), time.Hour))
			_, _ = repo.FindByID(ctx, "shared")
			_, _ = repo.DeleteExpired(ctx, time.Now())
		}()
	}
	wg.Wait()

	if repo.Len() != 1 {
		t.Errorf("Len() = %d, want 1", repo.Len())
	}
}

// --- SQLite ---

func TestSQLiteSessionRepo_Contract(t *testing.T) {
	runSessionRepositoryContract(t, func(t *testing.T) SessionRepository {
		db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })

		if err := database.RunSQLiteMigrations(db); err != nil {
			t.Fatalf("RunSQLiteMigrations() error = %v", err)
		}
		return NewSQLiteSessionRepo(db)
	})
}

// --- PostgreSQL（TEST_DATABASE_URLで接続できる場合のみ） ---

func TestPostgresSessionRepo_Contract(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	runSessionRepositoryContract(t, func(t *testing.T) SessionRepository {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			t.Fatalf("sql.Open() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })

		if err := db.Ping(); err != nil {
			t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
		}
		if err := database.RunMigrations(dbURL); err != nil {
			t.Fatalf("RunMigrations() error = %v", err)
		}
		if _, err := db.Exec(`TRUNCATE sessions`); err != nil {
			t.Fatalf("TRUNCATE error = %v", err)
		}
		return NewPostgresSessionRepo(db)
	})
}

// NewPostgresSessionRepoがDB接続なしで初期化できることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}
