// Package cleanup はリフレッシュトークンの自動削除ジョブを提供する。
// 期限切れまたは失効してから保持期間（デフォルト7日）を超えたトークンを
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenPurger は期限切れ・失効済みリフレッシュトークンを削除する。
// repository.RefreshTokenRepositoryが満たす。
type TokenPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordTokensPurged(count int64)
}

// CleanupJob は保持期間を超過したリフレッシュトークンの自動削除ジョブ。
// 冪等な削除処理で、何度実行してもよい。
type CleanupJob struct {
	tokens        TokenPurger
	logger        *slog.Logger
	recorder      Recorder
	now           func() time.Time
	RetentionDays int // 期限切れ・失効後の保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
// デフォルトの保持日数は7日。
func NewCleanupJob(tokens TokenPurger, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		tokens:        tokens,
		logger:        logger,
		recorder:      recorder,
		now:           time.Now,
		RetentionDays: 7,
	}
}

// Run はRetentionDays日より前に期限切れまたは失効したトークンを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.tokens.DeleteExpired(ctx, before)
	if err != nil {
		j.logger.Error("リフレッシュトークンのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("リフレッシュトークンのクリーンアップに失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordTokensPurged(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("リフレッシュトークンのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// Runの失敗はログに残して次の周期で再試行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup will be retried", slog.Duration("interval", interval))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("cleanup will be retried", slog.Duration("interval", interval))
			}
		}
	}
}
