// Package wasm hosts the strategy-authored computation unit as a WebAssembly
// module. The unit is invoked exactly once per backtest run with the full
// candle sequence and returns every indicator series and signal event in a
// single bulk response.
package wasm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/signal"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

const (
	exportMalloc  = "malloc"
	exportFree    = "free"
	exportCompute = "compute"
)

// ComputeBridge runs a compiled WASM computation unit. One bridge owns one
// compiled module; each Compute call instantiates a fresh instance so no
// guest state leaks across runs.
type ComputeBridge struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	log      *logger.Logger
}

// NewComputeBridge compiles the WASM computation unit at wasmPath.
func NewComputeBridge(wasmPath string, log *logger.Logger) (*ComputeBridge, error) {
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeModuleLoadFailed, err, "failed to read compute unit: %s", wasmPath)
	}

	return NewComputeBridgeFromBytes(wasmBytes, log)
}

// NewComputeBridgeFromBytes compiles a WASM computation unit from raw bytes.
func NewComputeBridgeFromBytes(wasmBytes []byte, log *logger.Logger) (*ComputeBridge, error) {
	ctx := context.Background()

	// CloseOnContextDone makes a cancelled or timed-out context terminate
	// guest execution instead of leaving it to run to completion.
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)

		return nil, errors.Wrap(errors.ErrCodeModuleLoadFailed, "failed to compile compute unit", err)
	}

	return &ComputeBridge{
		runtime:  runtime,
		compiled: compiled,
		log:      log,
	}, nil
}

// Compute implements signal.Bridge. It serializes the strategy definition and
// the full candle sequence into one request, calls the guest's compute export
// once, then validates the response schema. A guest error, timeout, or
// malformed response fails the whole call; no partial signal set is accepted.
func (b *ComputeBridge) Compute(ctx context.Context, def *strategy.Definition, candles []types.Candle) (*signal.ComputeResult, error) {
	request := computeRequest{
		Strategy: strategyHeader{
			Name:         def.Name,
			Version:      def.Version,
			LookbackBars: def.LookbackBars,
			Indicators:   def.Indicators,
			Params:       def.Params,
		},
		Candles: candles,
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeComputeFailed, "failed to encode compute request", err)
	}

	responseBytes, err := b.call(ctx, requestBytes)
	if err != nil {
		return nil, err
	}

	var response computeResponse
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return nil, errors.Wrap(errors.ErrCodeComputeBadSchema, "failed to decode compute response", err)
	}

	if response.Error != "" {
		return nil, errors.Newf(errors.ErrCodeComputeFailed, "compute unit reported error: %s", response.Error)
	}

	result := &signal.ComputeResult{
		LookbackBars:    response.LookbackBars,
		IndicatorSeries: response.IndicatorSeries,
		Events:          response.Events,
	}

	if err := signal.ValidateResult(result, len(candles)); err != nil {
		return nil, err
	}

	b.log.Debug("Compute call completed",
		zap.String("strategy", def.Name),
		zap.Int("candles", len(candles)),
		zap.Int("events", len(result.Events)),
		zap.Int("lookback", result.LookbackBars),
	)

	return result, nil
}

// call instantiates a fresh module instance and performs one request/response
// round trip through guest linear memory.
func (b *ComputeBridge) call(ctx context.Context, request []byte) ([]byte, error) {
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	module, err := b.runtime.InstantiateModule(ctx, b.compiled, moduleConfig)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, errors.Wrap(errors.ErrCodeModuleLoadFailed, "failed to instantiate compute unit", err)
	}
	defer module.Close(ctx)

	malloc := module.ExportedFunction(exportMalloc)
	free := module.ExportedFunction(exportFree)
	compute := module.ExportedFunction(exportCompute)

	if malloc == nil || free == nil || compute == nil {
		return nil, errors.Newf(errors.ErrCodeModuleMissingExport,
			"compute unit must export %q, %q and %q", exportMalloc, exportFree, exportCompute)
	}

	allocResult, err := malloc.Call(ctx, uint64(len(request)))
	if err != nil {
		return nil, b.guestError(ctx, "allocation failed", err)
	}

	requestPtr := allocResult[0]
	defer func() {
		_, _ = free.Call(context.WithoutCancel(ctx), requestPtr)
	}()

	if !module.Memory().Write(uint32(requestPtr), request) {
		return nil, errors.New(errors.ErrCodeComputeFailed, "failed to write request into guest memory")
	}

	computeResult, err := compute.Call(ctx, requestPtr, uint64(len(request)))
	if err != nil {
		return nil, b.guestError(ctx, "compute call failed", err)
	}

	// The guest packs the response location as ptr<<32 | len.
	packed := computeResult[0]
	responsePtr := uint32(packed >> 32)
	responseLen := uint32(packed)

	responseBytes, ok := module.Memory().Read(responsePtr, responseLen)
	if !ok {
		return nil, errors.New(errors.ErrCodeComputeBadSchema, "compute response is outside guest memory")
	}

	// Copy before the module (and its memory) is closed.
	response := make([]byte, len(responseBytes))
	copy(response, responseBytes)

	return response, nil
}

// guestError maps a failed guest call to the right error kind: a done
// context propagates as-is (the engine decides between cancellation and
// timeout), anything else is a strategy computation failure.
func (b *ComputeBridge) guestError(ctx context.Context, message string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return errors.Wrap(errors.ErrCodeComputeTimeout, "compute call timed out", err)
		}

		return ctxErr
	}

	return errors.Wrap(errors.ErrCodeComputeFailed, message, err)
}

// Close releases the compiled module and runtime resources.
func (b *ComputeBridge) Close(ctx context.Context) error {
	return b.runtime.Close(ctx)
}

type strategyHeader struct {
	Name         string                          `json:"name"`
	Version      string                          `json:"version"`
	LookbackBars int                             `json:"lookback_bars"`
	Indicators   []strategy.IndicatorRequirement `json:"indicators"`
	Params       map[string]float64              `json:"params"`
}

type computeRequest struct {
	Strategy strategyHeader `json:"strategy"`
	Candles  []types.Candle `json:"candles"`
}

type computeResponse struct {
	Error           string               `json:"error"`
	LookbackBars    int                  `json:"lookback_bars"`
	IndicatorSeries map[string][]float64 `json:"indicator_series"`
	Events          []types.SignalEvent  `json:"events"`
}
