package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/meetauth/internal/model"
)

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
// 開発・テスト用。プロセス終了でセッションは失われる。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*model.SessionRecord
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*model.SessionRecord),
		now:      time.Now,
	}
}

// FindByID は指定IDのセッションのコピーを返す。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[id]
	if !ok || rec.Expired(r.now()) {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Save はセッションのコピーを保存する。
func (r *MemorySessionRepo) Save(_ context.Context, record *model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[record.ID] = record.Clone()
	return nil
}

// Touch は有効なセッションが残っている場合のみ有効期限を延長する。
func (r *MemorySessionRepo) Touch(_ context.Context, id string, lastAccessedAt, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok || rec.Expired(r.now()) {
		return false, nil
	}
	rec.LastAccessedAt = lastAccessedAt
	rec.ExpiresAt = expiresAt
	return true, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, rec := range r.sessions {
		if rec.Expired(now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping は常に成功する。
func (r *MemorySessionRepo) Ping(_ context.Context) error {
	return nil
}

// SetClock は期限判定に使う時刻関数を差し替える。テスト用。
func (r *MemorySessionRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Len は保持しているセッション数を返す（期限切れを含む）。
func (r *MemorySessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
