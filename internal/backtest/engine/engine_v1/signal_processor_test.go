package engine

import (
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/tradeforge/backtester/internal/logger"
	"github.com/tradeforge/backtester/internal/strategy"
	"github.com/tradeforge/backtester/internal/types"
)

type SignalProcessorTestSuite struct {
	suite.Suite
	processor *SignalProcessor
}

func TestSignalProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(SignalProcessorTestSuite))
}

func (suite *SignalProcessorTestSuite) SetupTest() {
	suite.processor = NewSignalProcessor(logger.NewNopLogger())
}

func processorDefinition() *strategy.Definition {
	return &strategy.Definition{
		Name:          "rule-matching",
		Version:       "1.0.0",
		SchemaVersion: "1.0.0",
		EntryRules: []strategy.EntryRule{
			{Signal: "breakout", Type: "upper_band", Side: types.SideLong},
			{Signal: "breakout", Type: "lower_band", Side: types.SideShort},
		},
		ExitRules: []strategy.ExitRule{
			{Signal: "reversal"},
		},
	}
}

func (suite *SignalProcessorTestSuite) TestEntryMatchesNameAndType() {
	def := processorDefinition()

	events := []types.SignalEvent{
		{BarIndex: 10, Name: "breakout", Type: "upper_band", Strength: 1},
	}

	exits, entries := suite.processor.Process(def, 10, events)
	suite.Empty(exits)
	suite.Require().Len(entries, 1)
	suite.Equal(types.SideLong, entries[0].Side)
	suite.Equal("breakout", entries[0].Reason)
}

func (suite *SignalProcessorTestSuite) TestUnknownSignalIgnored() {
	def := processorDefinition()

	events := []types.SignalEvent{
		{BarIndex: 10, Name: "momentum", Type: "upper_band", Strength: 1},
	}

	exits, entries := suite.processor.Process(def, 10, events)
	suite.Empty(exits)
	suite.Empty(entries)
}

func (suite *SignalProcessorTestSuite) TestZeroStrengthDoesNotTrigger() {
	def := processorDefinition()

	events := []types.SignalEvent{
		{BarIndex: 10, Name: "breakout", Type: "upper_band", Strength: 0},
	}

	_, entries := suite.processor.Process(def, 10, events)
	suite.Empty(entries)
}

func (suite *SignalProcessorTestSuite) TestExplicitMinStrength() {
	def := processorDefinition()
	def.EntryRules[0].MinStrength = optional.Some(0.7)

	weak := []types.SignalEvent{{BarIndex: 10, Name: "breakout", Type: "upper_band", Strength: 0.5}}
	_, entries := suite.processor.Process(def, 10, weak)
	suite.Empty(entries)

	strong := []types.SignalEvent{{BarIndex: 10, Name: "breakout", Type: "upper_band", Strength: 0.7}}
	_, entries = suite.processor.Process(def, 10, strong)
	suite.Len(entries, 1)
}

func (suite *SignalProcessorTestSuite) TestOutputConstraints() {
	def := processorDefinition()
	def.EntryRules[0].Outputs = map[string]float64{"confirmed": 1}

	unconfirmed := []types.SignalEvent{{
		BarIndex: 10, Name: "breakout", Type: "upper_band", Strength: 1,
		RawOutputs: map[string]float64{"confirmed": 0},
	}}
	_, entries := suite.processor.Process(def, 10, unconfirmed)
	suite.Empty(entries)

	confirmed := []types.SignalEvent{{
		BarIndex: 10, Name: "breakout", Type: "upper_band", Strength: 1,
		RawOutputs: map[string]float64{"confirmed": 1},
	}}
	_, entries = suite.processor.Process(def, 10, confirmed)
	suite.Len(entries, 1)
}

func (suite *SignalProcessorTestSuite) TestExitCollapsesToSingleIntent() {
	def := processorDefinition()
	def.ExitRules = append(def.ExitRules, strategy.ExitRule{Signal: "reversal", Type: "hard"})

	// Two exit events on one bar still produce exactly one close-all intent.
	events := []types.SignalEvent{
		{BarIndex: 10, Name: "reversal", Type: "soft", Strength: 1},
		{BarIndex: 10, Name: "reversal", Type: "hard", Strength: 1},
	}

	exits, _ := suite.processor.Process(def, 10, events)
	suite.Len(exits, 1)
	suite.Equal(types.IntentTypeExit, exits[0].Type)
}

func (suite *SignalProcessorTestSuite) TestExitAndEntrySameBar() {
	def := processorDefinition()

	events := []types.SignalEvent{
		{BarIndex: 10, Name: "reversal", Strength: 1},
		{BarIndex: 10, Name: "breakout", Type: "lower_band", Strength: 1},
	}

	exits, entries := suite.processor.Process(def, 10, events)
	suite.Len(exits, 1)
	suite.Require().Len(entries, 1)
	suite.Equal(types.SideShort, entries[0].Side)
}
