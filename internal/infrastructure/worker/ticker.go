package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickFunc is one unit of periodic work
type TickFunc func(ctx context.Context) error

// TickerWorker calls a TickFunc on a fixed interval. A tick that overruns
// the interval makes the ticker drop the missed ticks instead of queueing them.
type TickerWorker struct {
	name     string
	interval time.Duration
	tick     TickFunc
	logger   *zap.Logger

	// RunOnStart fires one tick immediately after Start
	RunOnStart bool

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	ticks     int
}

// NewTickerWorker creates a ticker worker
func NewTickerWorker(name string, interval time.Duration, tick TickFunc, logger *zap.Logger) *TickerWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickerWorker{
		name:       name,
		interval:   interval,
		tick:       tick,
		logger:     logger.Named(name),
		RunOnStart: true,
	}
}

// Start launches the tick loop
func (w *TickerWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("%s is already running", w.name)
	}
	if w.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", w.name, w.interval)
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("Ticker started", zap.Duration("interval", w.interval))

	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current tick to return
func (w *TickerWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("Ticker stopped", zap.Int("ticks", w.Ticks()))
	return nil
}

// Name returns the worker name for identification
func (w *TickerWorker) Name() string {
	return w.name
}

// Ticks returns how many ticks have completed
func (w *TickerWorker) Ticks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

func (w *TickerWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if w.RunOnStart {
		w.run(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Tick loop context cancelled")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *TickerWorker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Tick panicked", zap.Any("panic", r))
		}
		w.mu.Lock()
		w.ticks++
		w.mu.Unlock()
	}()

	if err := w.tick(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("Tick failed", zap.Error(err))
	}
}
