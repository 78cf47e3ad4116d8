package strategy

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// SchemaVersionConstraint is the range of definition schema versions this
// engine accepts.
const SchemaVersionConstraint = "^1.0.0"

type SizingMethod string

const (
	// SizingFixedFraction sizes an entry as a fraction of portfolio equity
	// at entry time. This is the default method.
	SizingFixedFraction SizingMethod = "fixed_fraction"
	// SizingFixedQuantity sizes every entry with a constant quantity.
	SizingFixedQuantity SizingMethod = "fixed_quantity"
	// SizingFixedNotional sizes every entry with a constant currency amount.
	SizingFixedNotional SizingMethod = "fixed_notional"
)

// IndicatorRequirement names an indicator the strategy's computation unit
// needs, with its parameters. The engine itself never computes indicators;
// the requirement list is passed through to the bridge.
type IndicatorRequirement struct {
	Name   string             `yaml:"name" json:"name" validate:"required"`
	Params map[string]float64 `yaml:"params" json:"params"`
}

// EntryRule declares when an entry intent may be generated. A rule matches a
// signal event by logical name (and event type, when set) — rule matching is
// entirely data-driven.
type EntryRule struct {
	// Signal is the logical signal name the rule listens for.
	Signal string `yaml:"signal" json:"signal" validate:"required"`
	// Type restricts the rule to events of this kind. Empty matches any type.
	Type string `yaml:"type" json:"type"`
	// Side is the direction of the position the rule opens.
	Side types.Side `yaml:"side" json:"side" validate:"required,oneof=LONG SHORT"`
	// Outputs are raw output values the event must carry for the rule to match.
	Outputs map[string]float64 `yaml:"outputs" json:"outputs"`
	// MinStrength is an explicit strength threshold. Absent means any
	// non-zero strength triggers.
	MinStrength optional.Option[float64] `yaml:"min_strength" json:"min_strength"`
}

// ExitRule declares when an open position must be closed on signal.
type ExitRule struct {
	Signal string `yaml:"signal" json:"signal" validate:"required"`
	Type   string `yaml:"type" json:"type"`
}

// RiskLimits holds the portfolio-level constraints enforced by the risk
// manager every bar. Fractions are expressed in [0, 1]; zero disables a limit.
type RiskLimits struct {
	// MaxDrawdownPct force-closes everything and kills the run when
	// mark-to-market equity falls this fraction below its peak.
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" validate:"gte=0,lte=1"`
	// DailyLossLimitPct blocks the rest of the trading day when the day's
	// mark-to-market loss reaches this fraction of the day's opening equity.
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct" validate:"gte=0,lte=1"`
	// MaxPositionPct rejects entries whose notional exceeds this fraction of
	// equity in a single symbol. Rejected, never clamped.
	MaxPositionPct float64 `yaml:"max_position_pct" json:"max_position_pct" validate:"gte=0,lte=1"`
	// StopLossPct places a protective stop this fraction below (long) or
	// above (short) the entry price.
	StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" validate:"gte=0,lte=1"`
	// TakeProfitPct places a profit target this fraction above (long) or
	// below (short) the entry price.
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct" validate:"gte=0"`
}

// PositionSizing configures how entry quantities are derived.
type PositionSizing struct {
	Method SizingMethod `yaml:"method" json:"method" validate:"required,oneof=fixed_fraction fixed_quantity fixed_notional"`
	// Value is the fraction of equity, quantity, or notional, depending on Method.
	Value float64 `yaml:"value" json:"value" validate:"required,gt=0"`
	// AllowScaling permits multiple concurrent positions in the same symbol.
	// Off by default.
	AllowScaling bool `yaml:"allow_scaling" json:"allow_scaling"`
	// MaxConcurrentPositions bounds concurrent positions per symbol when
	// scaling is enabled. Ignored otherwise.
	MaxConcurrentPositions int `yaml:"max_concurrent_positions" json:"max_concurrent_positions" validate:"gte=0"`
}

// Definition is the parsed, validated in-memory representation of a strategy.
// It is immutable after load and owned exclusively by one backtest run.
type Definition struct {
	Name          string `yaml:"name" json:"name" validate:"required"`
	Version       string `yaml:"version" json:"version" validate:"required"`
	SchemaVersion string `yaml:"schema_version" json:"schema_version" validate:"required"`
	// LookbackBars is the number of leading bars consumed purely for
	// indicator warm-up, not eligible for trading. Explicit and required.
	LookbackBars int                      `yaml:"lookback_bars" json:"lookback_bars" validate:"gte=0"`
	Indicators   []IndicatorRequirement   `yaml:"indicators" json:"indicators" validate:"dive"`
	Signals      []string                 `yaml:"signal_dependencies" json:"signal_dependencies"`
	EntryRules   []EntryRule              `yaml:"entry_rules" json:"entry_rules" validate:"min=1,dive"`
	ExitRules    []ExitRule               `yaml:"exit_rules" json:"exit_rules" validate:"dive"`
	Risk         RiskLimits               `yaml:"risk_limits" json:"risk_limits"`
	Sizing       PositionSizing           `yaml:"position_sizing" json:"position_sizing"`
	// ComputeUnit is the path to the strategy-authored WASM computation unit.
	ComputeUnit string `yaml:"compute_unit" json:"compute_unit"`
	// Params are free-form parameters forwarded to the computation unit.
	Params map[string]float64 `yaml:"params" json:"params"`
}

// Validate checks the definition's structural invariants.
func (d *Definition) Validate() error {
	validate := validator.New()
	if err := validate.Struct(d); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidDefinition, "invalid strategy definition", err)
	}

	if d.Sizing.AllowScaling && d.Sizing.MaxConcurrentPositions < 1 {
		return errors.New(errors.ErrCodeInvalidSizing,
			"max_concurrent_positions must be at least 1 when scaling is enabled")
	}

	for i, rule := range d.EntryRules {
		if min, err := rule.MinStrength.Take(); err == nil && min < 0 {
			return errors.Newf(errors.ErrCodeInvalidRule,
				"entry rule %d: min_strength must not be negative, got %f", i, min)
		}

		// A short profit target at or beyond 100% would sit at a
		// non-positive price.
		if rule.Side == types.SideShort && d.Risk.TakeProfitPct >= 1 {
			return errors.Newf(errors.ErrCodeInvalidRiskLimits,
				"take_profit_pct %f leaves no valid target price for short entries", d.Risk.TakeProfitPct)
		}
	}

	return nil
}

// MaxConcurrent returns the effective concurrent-position bound per symbol.
func (d *Definition) MaxConcurrent() int {
	if !d.Sizing.AllowScaling {
		return 1
	}

	return d.Sizing.MaxConcurrentPositions
}
