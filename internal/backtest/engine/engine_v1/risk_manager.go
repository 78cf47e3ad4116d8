package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/strategy"
)

// Assessment is the risk manager's per-bar verdict.
type Assessment struct {
	// Kill marks the hard kill switch: the max drawdown limit was breached
	// and entries stay blocked for the rest of the run. Hitting the kill
	// switch is a normal run outcome, not an error.
	Kill bool
	// ForceClose closes every open position at the current price with
	// reason risk_trigger.
	ForceClose bool
	// BlockEntries suppresses new entries for the rest of the trading day
	// (or the rest of the run, when Kill is set).
	BlockEntries bool
}

// RiskManager enforces the strategy's portfolio-level limits. It sees the
// mark-to-market equity once per bar, before any of the bar's trading
// activity, and gates every entry the signal processor proposes.
type RiskManager struct {
	limits strategy.RiskLimits
	log    *logger.Logger

	peakEquity    float64
	dayStart      time.Time
	dayOpenEquity float64
	dayBlocked    bool
	killed        bool
}

// NewRiskManager creates a risk manager seeded with the run's starting equity.
func NewRiskManager(limits strategy.RiskLimits, initialEquity float64, log *logger.Logger) *RiskManager {
	return &RiskManager{
		limits:        limits,
		log:           log,
		peakEquity:    initialEquity,
		dayStart:      time.Time{},
		dayOpenEquity: initialEquity,
		dayBlocked:    false,
	}
}

// Observe updates the peak and daily baselines from the bar's mark-to-market
// equity and returns the verdict for this bar. Trading days roll over at
// midnight UTC.
func (r *RiskManager) Observe(barTime time.Time, equity float64) Assessment {
	if r.killed {
		return Assessment{Kill: true, ForceClose: false, BlockEntries: true}
	}

	if equity > r.peakEquity {
		r.peakEquity = equity
	}

	day := barTime.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.dayStart) {
		r.dayStart = day
		r.dayOpenEquity = equity
		r.dayBlocked = false
	}

	if r.limits.MaxDrawdownPct > 0 && r.peakEquity > 0 {
		drawdown := (r.peakEquity - equity) / r.peakEquity
		if drawdown >= r.limits.MaxDrawdownPct {
			r.killed = true

			r.log.Info("max drawdown limit hit, kill switch engaged",
				zap.Float64("drawdown", drawdown),
				zap.Float64("limit", r.limits.MaxDrawdownPct),
				zap.Float64("equity", equity),
				zap.Float64("peak", r.peakEquity),
			)

			return Assessment{Kill: true, ForceClose: true, BlockEntries: true}
		}
	}

	forceClose := false

	if !r.dayBlocked && r.limits.DailyLossLimitPct > 0 && r.dayOpenEquity > 0 {
		dayLoss := (r.dayOpenEquity - equity) / r.dayOpenEquity
		if dayLoss >= r.limits.DailyLossLimitPct {
			r.dayBlocked = true
			forceClose = true

			r.log.Info("daily loss limit hit, blocking entries for the day",
				zap.Float64("day_loss", dayLoss),
				zap.Float64("limit", r.limits.DailyLossLimitPct),
				zap.Time("day", day),
			)
		}
	}

	return Assessment{Kill: false, ForceClose: forceClose, BlockEntries: r.dayBlocked}
}

// AllowEntry gates one proposed entry by notional size. Oversized entries
// are rejected whole, never clamped down to fit.
func (r *RiskManager) AllowEntry(notional float64, equity float64) bool {
	if r.killed || r.dayBlocked {
		return false
	}

	if r.limits.MaxPositionPct > 0 && notional > r.limits.MaxPositionPct*equity {
		r.log.Debug("entry rejected by position size limit",
			zap.Float64("notional", notional),
			zap.Float64("limit", r.limits.MaxPositionPct*equity),
		)

		return false
	}

	return true
}
