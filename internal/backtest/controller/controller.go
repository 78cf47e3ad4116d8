// Package controller hosts concurrent backtest runs: it starts them, tracks
// their lifecycle, exposes their results, and cancels them on request.
package controller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/backtest/engine"
	engine_v1 "github.com/tradeforge/backtester/internal/backtest/engine/engine_v1"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/signal"
	"github.com/tradeforge/backtester/internal/sink"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// StartRequest carries everything one run needs. The definition and candle
// slice are owned by the run once submitted; callers must not mutate them.
type StartRequest struct {
	Definition *strategy.Definition
	Candles    []types.Candle
	Config     engine_v1.Config
	Bridge     signal.Bridge
}

// Snapshot is a point-in-time view of one run's lifecycle state.
type Snapshot struct {
	ID          string          `json:"id"`
	Status      types.RunStatus `json:"status"`
	BarsCurrent int             `json:"bars_current"`
	BarsTotal   int             `json:"bars_total"`
	Error       string          `json:"error,omitempty"`
}

// runHandle is the registry entry for one run. Only the run's own goroutine
// writes to it after creation; readers take snapshots under the read lock.
type runHandle struct {
	mu sync.RWMutex

	id          string
	status      types.RunStatus
	barsCurrent int
	barsTotal   int
	result      *types.BacktestResult
	err         error

	cancel context.CancelFunc
	done   chan struct{}
}

func (h *runHandle) snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := Snapshot{
		ID:          h.id,
		Status:      h.status,
		BarsCurrent: h.barsCurrent,
		BarsTotal:   h.barsTotal,
	}

	if h.err != nil {
		snap.Error = h.err.Error()
	}

	return snap
}

// Controller is the run registry. Runs execute on their own goroutines and
// never share mutable state with each other.
type Controller struct {
	log  *logger.Logger
	sink sink.ResultSink

	mu     sync.RWMutex
	runs   map[string]*runHandle
	closed bool
	wg     sync.WaitGroup
}

// NewController creates a controller. The sink is optional; a nil sink
// disables result persistence.
func NewController(resultSink sink.ResultSink, log *logger.Logger) *Controller {
	return &Controller{
		log:  log,
		sink: resultSink,
		runs: make(map[string]*runHandle),
	}
}

// Start validates the request, registers a new run, and launches it. The run
// detaches from the caller's context; only Cancel, the run timeout, or
// Close stop it early.
func (c *Controller) Start(req StartRequest) (string, error) {
	if req.Definition == nil {
		return "", errors.New(errors.ErrCodeRunRejected, "start request is missing a strategy definition")
	}

	if req.Bridge == nil {
		return "", errors.New(errors.ErrCodeRunRejected, "start request is missing a signal bridge")
	}

	if err := req.Definition.Validate(); err != nil {
		return "", err
	}

	if err := types.ValidateCandles(req.Candles); err != nil {
		return "", err
	}

	runID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())

	handle := &runHandle{
		id:        runID,
		status:    types.RunStatusPending,
		barsTotal: len(req.Candles),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()

		return "", errors.New(errors.ErrCodeControllerClosed, "controller is closed")
	}

	c.runs[runID] = handle
	c.wg.Add(1)
	c.mu.Unlock()

	go c.execute(ctx, handle, req)

	c.log.Info("run started",
		zap.String("run_id", runID),
		zap.String("strategy", req.Definition.Name),
		zap.Int("bars", len(req.Candles)),
	)

	return runID, nil
}

// execute is the run goroutine: the handle's single writer.
func (c *Controller) execute(ctx context.Context, handle *runHandle, req StartRequest) {
	defer c.wg.Done()
	defer close(handle.done)
	defer handle.cancel()

	runLog := c.log.WithRun(handle.id)

	e := engine_v1.NewBacktestEngineV1(req.Config, req.Bridge, runLog)
	e.SetRunID(handle.id)

	callbacks := engine.LifecycleCallbacks{
		OnRunStart: func(runID string, totalBars int) error {
			handle.mu.Lock()
			handle.status = types.RunStatusRunning
			handle.barsTotal = totalBars
			handle.mu.Unlock()

			return nil
		},
		OnProcessData: func(current, total int) error {
			handle.mu.Lock()
			handle.barsCurrent = current
			handle.mu.Unlock()

			return nil
		},
	}

	result, err := e.Run(ctx, req.Definition, req.Candles, callbacks)

	status := types.RunStatusCompleted

	switch {
	case err == nil:
	case errors.HasCode(err, errors.ErrCodeRunCancelled):
		status = types.RunStatusCancelled
	default:
		status = types.RunStatusFailed
		runLog.Error("run failed", zap.Error(err))
	}

	if result != nil && c.sink != nil {
		if sinkErr := c.sink.Write(context.Background(), result); sinkErr != nil {
			runLog.Warn("result sink write failed", zap.Error(sinkErr))
		}
	}

	handle.mu.Lock()
	handle.status = status
	handle.result = result
	handle.err = err
	handle.mu.Unlock()
}

func (c *Controller) handle(runID string) (*runHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handle, ok := c.runs[runID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", runID)
	}

	return handle, nil
}

// Status returns a snapshot of one run's lifecycle state.
func (c *Controller) Status(runID string) (Snapshot, error) {
	handle, err := c.handle(runID)
	if err != nil {
		return Snapshot{}, err
	}

	return handle.snapshot(), nil
}

// Result returns a terminal run's result. Cancelled runs return their
// partial result.
func (c *Controller) Result(runID string) (*types.BacktestResult, error) {
	handle, err := c.handle(runID)
	if err != nil {
		return nil, err
	}

	handle.mu.RLock()
	defer handle.mu.RUnlock()

	if !handle.status.Terminal() {
		return nil, errors.Newf(errors.ErrCodeRunNotFinished, "run %s is still %s", runID, handle.status)
	}

	if handle.result == nil {
		return nil, errors.Wrapf(errors.ErrCodeRunNotFinished, handle.err, "run %s produced no result", runID)
	}

	return handle.result, nil
}

// Cancel requests cooperative cancellation of a run. Cancelling a run that
// already reached a terminal state is a no-op.
func (c *Controller) Cancel(runID string) error {
	handle, err := c.handle(runID)
	if err != nil {
		return err
	}

	handle.cancel()

	c.log.Info("run cancellation requested", zap.String("run_id", runID))

	return nil
}

// Wait blocks until the run reaches a terminal state or ctx expires.
func (c *Controller) Wait(ctx context.Context, runID string) error {
	handle, err := c.handle(runID)
	if err != nil {
		return err
	}

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every live run, waits for them to finish, and rejects any
// further starts.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true

	for _, handle := range c.runs {
		handle.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()

	return nil
}
