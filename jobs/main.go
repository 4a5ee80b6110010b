// Package jobs runs detached background work, bounded by a semaphore.
// Finalize tasks are submitted here so the update loop never blocks on a
// completion-backend call.
package jobs

import (
	"context"
	"sync"

	"mindpathdev/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type RunnerConnectProps struct {
	Logger     *logger.LogMiddleware
	MaxWorkers int
}

type Runner struct {
	logger    *logger.LogMiddleware
	semaphore *semaphore.Weighted
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func Connect(ctx context.Context, args RunnerConnectProps) *Runner {
	maxWorkers := args.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	args.Logger.Logger(ctx).Info("[Jobs] Runner started", zap.Int("max_workers", maxWorkers))

	return &Runner{
		logger:    args.Logger,
		semaphore: semaphore.NewWeighted(int64(maxWorkers)),
		ctx:       runCtx,
		cancel:    cancel,
	}
}

// Submit runs fn on the runner's own lifecycle context: the triggering
// request may long have returned by the time fn completes.
func (r *Runner) Submit(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.semaphore.Acquire(r.ctx, 1); err != nil {
			r.logger.Logger(r.ctx).Warn("[Jobs] Job dropped during shutdown", zap.String("job", name))
			return
		}
		defer r.semaphore.Release(1)

		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Logger(r.ctx).Error("[Jobs] Job panicked",
					zap.String("job", name), zap.Any("panic", rec))
			}
		}()

		fn(r.ctx)
	}()
}

// Shutdown cancels the job context and waits for in-flight jobs.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until all submitted jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
