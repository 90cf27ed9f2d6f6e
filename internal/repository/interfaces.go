// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/meetauth/internal/model"
)

// SessionRepository はセッションレコードの永続化インターフェース。
// 実装はインメモリ・PostgreSQL・SQLiteの3種類。
// いずれも複数goroutineから同時に呼び出して安全であること。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SessionRecord, error)
	// Save はセッションを作成または上書きする。同一セッションへの並行書き込みは後勝ち。
	Save(ctx context.Context, record *model.SessionRecord) error
	// Touch は既存の有効なセッションの最終アクセス時刻と有効期限のみを更新する。
	// 対象が削除済みまたは期限切れの場合は何もせずfalseを返す。
	Touch(ctx context.Context, id string, lastAccessedAt, expiresAt time.Time) (bool, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// Ping はバックエンドの疎通を確認する。
	Ping(ctx context.Context) error
}
