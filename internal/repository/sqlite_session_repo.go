package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/meetauth/internal/model"
)

// SQLiteSessionRepo はSQLiteを使用したセッションリポジトリ。
// 単一ノード構成で再起動後もセッションを維持したい場合に使う。
// 時刻はUnixミリ秒で保存する。
type SQLiteSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSessionRepo はSQLiteSessionRepoを生成する。
func NewSQLiteSessionRepo(db *sql.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db, now: time.Now}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SQLiteSessionRepo) FindByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	var (
		recID                                string
		principal                            sql.NullString
		createdAt, lastAccessedAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, principal, created_at, last_accessed_at, expires_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ?`,
		id, r.now().UnixMilli(),
	).Scan(&recID, &principal, &createdAt, &lastAccessedAt, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	p, err := decodePrincipal(principal)
	if err != nil {
		return nil, err
	}

	return &model.SessionRecord{
		ID:             recID,
		Principal:      p,
		CreatedAt:      time.UnixMilli(createdAt),
		LastAccessedAt: time.UnixMilli(lastAccessedAt),
		ExpiresAt:      time.UnixMilli(expiresAt),
	}, nil
}

// Save はセッションをUPSERTする。
func (r *SQLiteSessionRepo) Save(ctx context.Context, record *model.SessionRecord) error {
	principal, err := encodePrincipal(record.Principal)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, principal, created_at, last_accessed_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   principal = excluded.principal,
		   last_accessed_at = excluded.last_accessed_at,
		   expires_at = excluded.expires_at`,
		record.ID, principal,
		record.CreatedAt.UnixMilli(), record.LastAccessedAt.UnixMilli(), record.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Touch は有効なセッション行が残っている場合のみ有効期限を延長する。
func (r *SQLiteSessionRepo) Touch(ctx context.Context, id string, lastAccessedAt, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET last_accessed_at = ?, expires_at = ?
		 WHERE id = ? AND expires_at > ?`,
		lastAccessedAt.UnixMilli(), expiresAt.UnixMilli(), id, r.now().UnixMilli(),
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
func (r *SQLiteSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *SQLiteSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`,
		now.UnixMilli(),
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
func (r *SQLiteSessionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// compile-time interface check
var _ SessionRepository = (*SQLiteSessionRepo)(nil)
