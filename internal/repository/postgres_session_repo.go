package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/meetauth/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{}
	var principal sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, principal, created_at, last_accessed_at, expires_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&rec.ID, &principal, &rec.CreatedAt, &rec.LastAccessedAt, &rec.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	rec.Principal, err = decodePrincipal(principal)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save はセッションをUPSERTする。
func (r *PostgresSessionRepo) Save(ctx context.Context, record *model.SessionRecord) error {
	principal, err := encodePrincipal(record.Principal)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, principal, created_at, last_accessed_at, expires_at)
		 VALUES ($1, $2::jsonb, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   principal = EXCLUDED.principal,
		   last_accessed_at = EXCLUDED.last_accessed_at,
		   expires_at = EXCLUDED.expires_at`,
		record.ID, principal, record.CreatedAt, record.LastAccessedAt, record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Touch は有効なセッション行が残っている場合のみ有効期限を延長する。
// principalは更新しないため、ログアウトで削除された行が復活することはない。
func (r *PostgresSessionRepo) Touch(ctx context.Context, id string, lastAccessedAt, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET last_accessed_at = $2, expires_at = $3
		 WHERE id = $1 AND expires_at > now()`,
		id, lastAccessedAt, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get touched count: %w", err)
	}
	return n > 0, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return n, nil
}

// Ping はDB接続を確認する。
func (r *PostgresSessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
