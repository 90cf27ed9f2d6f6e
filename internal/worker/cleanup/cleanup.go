// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 読み出し時にも期限切れは無視されるため、このジョブはストレージの掃除のみを担う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter は期限切れセッションの一括削除を抽象化するインターフェース。
// repository.SessionRepository の全実装が満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepRecorder は削除件数の記録先。
type SweepRecorder interface {
	RecordSessionsSwept(count int64)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	repo     ExpiredSessionDeleter
	logger   *slog.Logger
	recorder SweepRecorder
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderがnilの場合は件数を記録しない。
func NewCleanupJob(repo ExpiredSessionDeleter, logger *slog.Logger, recorder SweepRecorder) *CleanupJob {
	return &CleanupJob{
		repo:     repo,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は現在時刻で期限切れのセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.repo.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsSwept(deletedCount)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降はintervalごとに実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
