// Package api exposes the run controller over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/backtest/controller"
	engine_v1 "github.com/tradeforge/backtester/internal/backtest/engine/engine_v1"
	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/commission"
	"github.com/tradeforge/backtester/internal/datasource"
	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/signal"
	"github.com/tradeforge/backtester/internal/signal/wasm"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// BridgeFactory builds the signal bridge for one run from the request's
// computation unit path.
type BridgeFactory func(wasmPath string) (signal.Bridge, error)

// Server wires the REST surface to the run controller. It owns no run
// state of its own; every lifecycle question is delegated.
type Server struct {
	controller *controller.Controller
	source     datasource.CandleSource
	bridges    BridgeFactory
	log        *logger.Logger
	router     *mux.Router
}

// NewServer creates an HTTP server over the given controller and candle
// source.
func NewServer(ctrl *controller.Controller, source datasource.CandleSource, log *logger.Logger) *Server {
	s := &Server{
		controller: ctrl,
		source:     source,
		bridges: func(wasmPath string) (signal.Bridge, error) {
			return wasm.NewComputeBridge(wasmPath, log)
		},
		log:    log,
		router: mux.NewRouter(),
	}

	s.routes()

	return s
}

// SetBridgeFactory overrides how signal bridges are built. Used by tests and
// by hosts embedding a non-WASM bridge.
func (s *Server) SetBridgeFactory(factory BridgeFactory) {
	s.bridges = factory
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/backtests", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/backtests/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}/result", s.handleResult).Methods(http.MethodGet)
	api.HandleFunc("/backtests/{id}", s.handleCancel).Methods(http.MethodDelete)
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// startRequestBody is the POST /backtests payload.
type startRequestBody struct {
	// StrategyPath is the YAML strategy definition on the server's disk.
	StrategyPath string `json:"strategy_path"`
	// Definition inlines a strategy definition instead of a path.
	Definition json.RawMessage `json:"definition,omitempty"`
	// WasmPath is the strategy's computation unit.
	WasmPath string `json:"wasm_path"`

	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`

	InitialCapital float64 `json:"initial_capital,omitempty"`
	Broker         string  `json:"broker,omitempty"`
}

type startResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest,
			errors.Wrap(errors.ErrCodeInvalidParameter, "malformed request body", err))

		return
	}

	def, err := s.loadDefinition(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	bridge, err := s.bridges(body.WasmPath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	candles, err := s.fetchCandles(r, body)
	if err != nil {
		s.writeError(w, statusFor(err), err)

		return
	}

	config := engine_v1.DefaultConfig()
	if body.InitialCapital > 0 {
		config.InitialCapital = body.InitialCapital
	}

	if body.Broker != "" {
		config.Broker = commission.Broker(body.Broker)
	}

	runID, err := s.controller.Start(controller.StartRequest{
		Definition: def,
		Candles:    candles,
		Config:     config,
		Bridge:     bridge,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, startResponse{ID: runID})
}

func (s *Server) loadDefinition(body startRequestBody) (*strategy.Definition, error) {
	if body.StrategyPath != "" {
		return strategy.LoadFile(body.StrategyPath)
	}

	if len(body.Definition) > 0 {
		var def strategy.Definition
		if err := json.Unmarshal(body.Definition, &def); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidDefinition, "malformed inline definition", err)
		}

		if err := def.Validate(); err != nil {
			return nil, err
		}

		return &def, nil
	}

	return nil, errors.New(errors.ErrCodeInvalidParameter, "strategy_path or definition is required")
}

func (s *Server) fetchCandles(r *http.Request, body startRequestBody) ([]types.Candle, error) {
	from := optional.None[time.Time]()

	if body.From != "" {
		parsed, err := time.Parse(time.RFC3339, body.From)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidParameter, "malformed from time", err)
		}

		from = optional.Some(parsed)
	}

	to := optional.None[time.Time]()

	if body.To != "" {
		parsed, err := time.Parse(time.RFC3339, body.To)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidParameter, "malformed to time", err)
		}

		to = optional.Some(parsed)
	}

	return s.source.Fetch(r.Context(), body.Symbol, types.Timeframe(body.Timeframe), from, to)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	snap, err := s.controller.Status(runID)
	if err != nil {
		s.writeError(w, statusFor(err), err)

		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	result, err := s.controller.Result(runID)
	if err != nil {
		s.writeError(w, statusFor(err), err)

		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	if err := s.controller.Cancel(runID); err != nil {
		s.writeError(w, statusFor(err), err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps error codes onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.HasCode(err, errors.ErrCodeRunNotFound):
		return http.StatusNotFound
	case errors.HasCode(err, errors.ErrCodeRunNotFinished):
		return http.StatusConflict
	case errors.HasCode(err, errors.ErrCodeControllerClosed):
		return http.StatusServiceUnavailable
	case errors.IsDataError(err),
		errors.HasCode(err, errors.ErrCodeInvalidParameter),
		errors.HasCode(err, errors.ErrCodeInvalidDefinition),
		errors.HasCode(err, errors.ErrCodeRunRejected):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn("request failed", zap.Int("status", status), zap.Error(err))

	s.writeJSON(w, status, errorResponse{
		Code:    int(errors.GetCode(err)),
		Message: err.Error(),
	})
}
