package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for long exposure and -1 for short exposure.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}

	return 1
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonSignal      ExitReason = "signal"
	ExitReasonStopLoss    ExitReason = "stop_loss"
	ExitReasonTakeProfit  ExitReason = "take_profit"
	ExitReasonTimeExit    ExitReason = "time_exit"
	ExitReasonRiskTrigger ExitReason = "risk_trigger"
	ExitReasonCancelled   ExitReason = "cancelled"
)

// IntentType distinguishes entry intents from exit intents.
type IntentType string

const (
	IntentTypeEntry IntentType = "entry"
	IntentTypeExit  IntentType = "exit"
)

// TradeIntent is an intent-to-trade produced by the signal processor for one
// bar. Intents are ephemeral: generated and consumed within a single bar's
// processing.
type TradeIntent struct {
	BarIndex int        `yaml:"bar_index" json:"bar_index"`
	Type     IntentType `yaml:"type" json:"type"`
	Side     Side       `yaml:"side" json:"side"`
	// Reason is the matched entry rule's signal name for entries, or the
	// exit reason for exits.
	Reason string `yaml:"reason" json:"reason"`
	// RequestedSize is the quantity requested by the sizing method. Zero
	// means "let the position manager size the entry".
	RequestedSize float64 `yaml:"requested_size" json:"requested_size"`
}

// Position is an open, currently-held market exposure in one symbol.
// It is mutated every bar (mark-to-market) while open and converted to a
// Trade on close.
type Position struct {
	ID            string                   `yaml:"id" json:"id"`
	Symbol        string                   `yaml:"symbol" json:"symbol"`
	Side          Side                     `yaml:"side" json:"side"`
	Size          float64                  `yaml:"size" json:"size"`
	EntryPrice    float64                  `yaml:"entry_price" json:"entry_price"`
	EntryTime     time.Time                `yaml:"entry_time" json:"entry_time"`
	EntryBar      int                      `yaml:"entry_bar" json:"entry_bar"`
	StopLoss      optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit    optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	EntryFee      float64                  `yaml:"entry_fee" json:"entry_fee"`
	UnrealizedPnL float64                  `yaml:"unrealized_pnl" json:"unrealized_pnl"`
}

// MarketValue returns the current notional value of the position at the
// given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Size * price
}

// Trade is a fully closed position with realized profit/loss.
// Immutable once created.
type Trade struct {
	ID         string     `yaml:"id" json:"id" csv:"id"`
	PositionID string     `yaml:"position_id" json:"position_id" csv:"position_id"`
	Symbol     string     `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side       Side       `yaml:"side" json:"side" csv:"side"`
	EntryPrice float64    `yaml:"entry_price" json:"entry_price" csv:"entry_price"`
	ExitPrice  float64    `yaml:"exit_price" json:"exit_price" csv:"exit_price"`
	EntryTime  time.Time  `yaml:"entry_time" json:"entry_time" csv:"entry_time"`
	ExitTime   time.Time  `yaml:"exit_time" json:"exit_time" csv:"exit_time"`
	Size       float64    `yaml:"size" json:"size" csv:"size"`
	Commission float64    `yaml:"commission" json:"commission" csv:"commission"`
	PnL        float64    `yaml:"pnl" json:"pnl" csv:"pnl"`
	PnLPct     float64    `yaml:"pnl_pct" json:"pnl_pct" csv:"pnl_pct"`
	ExitReason ExitReason `yaml:"exit_reason" json:"exit_reason" csv:"exit_reason"`
}

// RealizedPnL computes the profit/loss of closing size units entered at
// entryPrice and exited at exitPrice, net of commission. Decimal arithmetic
// keeps the result stable across runs.
func RealizedPnL(side Side, entryPrice, exitPrice, size, commission float64) float64 {
	entryDec := decimal.NewFromFloat(entryPrice).Mul(decimal.NewFromFloat(size))
	exitDec := decimal.NewFromFloat(exitPrice).Mul(decimal.NewFromFloat(size))

	grossDec := exitDec.Sub(entryDec)
	if side == SideShort {
		grossDec = grossDec.Neg()
	}

	pnl, _ := grossDec.Sub(decimal.NewFromFloat(commission)).Float64()

	return pnl
}
