package engine

import (
	"go.uber.org/zap"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
)

// SignalProcessor turns one bar's signal events into trade intents by
// matching them against the strategy's declared rules. Matching is purely
// data-driven: a rule references a signal by logical name and event type,
// and the processor knows nothing about what any particular signal means.
type SignalProcessor struct {
	log *logger.Logger
}

// NewSignalProcessor creates a signal processor.
func NewSignalProcessor(log *logger.Logger) *SignalProcessor {
	return &SignalProcessor{log: log}
}

// Process evaluates the bar's events against the definition's rules. Exits
// are returned separately from entries because the engine applies all exits
// before any entry within a bar. Multiple matching exit rules collapse into
// a single close-all intent; closing twice in one bar settles nothing twice.
func (p *SignalProcessor) Process(def *strategy.Definition, barIndex int,
	events []types.SignalEvent) (exits []types.TradeIntent, entries []types.TradeIntent) {
	if len(events) == 0 {
		return nil, nil
	}

	exitMatched := false

	for _, event := range events {
		if !event.Triggered() {
			continue
		}

		if !exitMatched {
			for _, rule := range def.ExitRules {
				if matchesExit(rule, event) {
					exitMatched = true

					exits = append(exits, types.TradeIntent{
						BarIndex: barIndex,
						Type:     types.IntentTypeExit,
						Reason:   event.Name,
					})

					p.log.Debug("exit rule matched",
						zap.String("signal", event.Name),
						zap.String("type", event.Type),
						zap.Int("bar", barIndex),
					)

					break
				}
			}
		}

		for _, rule := range def.EntryRules {
			if !matchesEntry(rule, event) {
				continue
			}

			entries = append(entries, types.TradeIntent{
				BarIndex: barIndex,
				Type:     types.IntentTypeEntry,
				Side:     rule.Side,
				Reason:   event.Name,
			})

			p.log.Debug("entry rule matched",
				zap.String("signal", event.Name),
				zap.String("type", event.Type),
				zap.String("side", string(rule.Side)),
				zap.Int("bar", barIndex),
			)
		}
	}

	return exits, entries
}

func matchesExit(rule strategy.ExitRule, event types.SignalEvent) bool {
	if rule.Signal != event.Name {
		return false
	}

	return rule.Type == "" || rule.Type == event.Type
}

func matchesEntry(rule strategy.EntryRule, event types.SignalEvent) bool {
	if rule.Signal != event.Name {
		return false
	}

	if rule.Type != "" && rule.Type != event.Type {
		return false
	}

	// An explicit threshold replaces the default any-non-zero trigger.
	if min, err := rule.MinStrength.Take(); err == nil && event.Strength < min {
		return false
	}

	for name, want := range rule.Outputs {
		got, ok := event.RawOutputs[name]
		if !ok || got != want {
			return false
		}
	}

	return true
}
