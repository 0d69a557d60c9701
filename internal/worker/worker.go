package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/habitloop/notifier/internal/models"
)

// Processor is the batch entry point the worker polls.
type Processor interface {
	ProcessAll(ctx context.Context, now time.Time) (*models.RunResult, error)
}

// Worker periodically runs the due-notification batch in the background. It
// shares the claim protocol with the HTTP trigger, so both can run at once.
type Worker struct {
	processor    Processor
	pollInterval time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

func New(p Processor, pollInterval time.Duration, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		processor:    p,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker"),
		ctx:          ctx,
		cancel:       cancel,
		nowFn:        time.Now,
	}
}

// Start starts the worker
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker started", "poll_interval", w.pollInterval)
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	run, err := w.processor.ProcessAll(w.ctx, w.nowFn())
	if err != nil {
		w.logger.Error("batch run failed", "error", err)
		return
	}

	if run.ProcessedCount > 0 || len(run.Errors) > 0 {
		w.logger.Info("batch run finished",
			"processed", run.ProcessedCount, "errors", len(run.Errors))
	}
}
