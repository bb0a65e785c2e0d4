// Package besteffort はベストエフォートの非同期タスク実行を提供する。
// サインイン時のユーザー同期やローカル状態のミラーリングのように、
// 失敗しても呼び出し元に伝播させない副作用をここで実行する。
// タスクの失敗はログとメトリクスに記録されるのみで、戻り値には現れない。
package besteffort

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/jobboard/internal/metrics"
)

// Task はベストエフォートで実行する処理。
type Task func(ctx context.Context) error

// Runner はベストエフォートタスクを並列数を制限しながらバックグラウンドで実行する。
type Runner struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewRunner はRunnerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewRunner(logger *slog.Logger, m metrics.MetricsCollector, maxConcurrency int) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Runner{
		logger:  logger,
		metrics: m,
		sem:     make(chan struct{}, maxConcurrency),
	}
}

// Go はタスクを起動して即座に戻る。
// ctxの値は引き継ぐがキャンセルは引き継がない（呼び出し元の終了でタスクを中断しない）。
func (r *Runner) Go(ctx context.Context, name string, task Task) {
	taskCtx := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		start := time.Now()
		err := r.run(taskCtx, task)
		if err != nil {
			r.metrics.RecordTaskFailure(name)
			r.logger.Warn("best-effort task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			)
			return
		}

		r.logger.Debug("best-effort task completed",
			slog.String("task", name),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}()
}

// run はタスクを実行し、panicをエラーに変換する。
func (r *Runner) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task(ctx)
}

// Wait は起動済みの全タスクの完了を待つ。ctxが先に終了した場合はctx.Err()を返す。
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
