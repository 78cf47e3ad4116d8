package strategy

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

const validDefinition = `
name: ma_crossover_long
version: "1.2.0"
schema_version: "1.0.0"
lookback_bars: 50
indicators:
  - name: sma
    params:
      fast: 10
      slow: 50
signal_dependencies:
  - ma_crossover
entry_rules:
  - signal: ma_crossover
    type: golden_cross
    side: LONG
exit_rules:
  - signal: ma_crossover
    type: death_cross
risk_limits:
  max_drawdown_pct: 0.15
  daily_loss_limit_pct: 0.05
  max_position_pct: 0.5
  stop_loss_pct: 0.02
  take_profit_pct: 0.04
position_sizing:
  method: fixed_fraction
  value: 0.25
compute_unit: strategies/ma_crossover.wasm
`

type LoaderTestSuite struct {
	suite.Suite
}

func TestLoaderSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func (suite *LoaderTestSuite) TestLoadValid() {
	def, err := Load([]byte(validDefinition))
	suite.Require().NoError(err)
	suite.Equal("ma_crossover_long", def.Name)
	suite.Equal(50, def.LookbackBars)
	suite.Len(def.EntryRules, 1)
	suite.Equal("ma_crossover", def.EntryRules[0].Signal)
	suite.Equal(types.SideLong, def.EntryRules[0].Side)
	suite.Equal(0.15, def.Risk.MaxDrawdownPct)
	suite.Equal(SizingFixedFraction, def.Sizing.Method)
	suite.Equal(1, def.MaxConcurrent())
}

func (suite *LoaderTestSuite) TestLoadMissingLookback() {
	content := `
name: no_lookback
version: "1.0.0"
schema_version: "1.0.0"
entry_rules:
  - signal: x
    side: LONG
position_sizing:
  method: fixed_fraction
  value: 0.1
`
	_, err := Load([]byte(content))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeMissingLookback))
}

func (suite *LoaderTestSuite) TestLoadZeroLookbackIsExplicit() {
	content := `
name: zero_lookback
version: "1.0.0"
schema_version: "1.0.0"
lookback_bars: 0
entry_rules:
  - signal: x
    side: LONG
position_sizing:
  method: fixed_fraction
  value: 0.1
`
	def, err := Load([]byte(content))
	suite.Require().NoError(err)
	suite.Equal(0, def.LookbackBars)
}

func (suite *LoaderTestSuite) TestLoadBadSchemaVersion() {
	content := `
name: future_schema
version: "1.0.0"
schema_version: "2.0.0"
lookback_bars: 10
entry_rules:
  - signal: x
    side: LONG
position_sizing:
  method: fixed_fraction
  value: 0.1
`
	_, err := Load([]byte(content))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeSchemaVersion))
}

func (suite *LoaderTestSuite) TestLoadNoEntryRules() {
	content := `
name: no_rules
version: "1.0.0"
schema_version: "1.0.0"
lookback_bars: 10
position_sizing:
  method: fixed_fraction
  value: 0.1
`
	_, err := Load([]byte(content))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDefinition))
}

func (suite *LoaderTestSuite) TestLoadScalingRequiresBound() {
	content := `
name: scaling
version: "1.0.0"
schema_version: "1.0.0"
lookback_bars: 10
entry_rules:
  - signal: x
    side: LONG
position_sizing:
  method: fixed_fraction
  value: 0.1
  allow_scaling: true
`
	_, err := Load([]byte(content))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSizing))
}

func (suite *LoaderTestSuite) TestLoadScalingWithBound() {
	content := `
name: scaling
version: "1.0.0"
schema_version: "1.0.0"
lookback_bars: 10
entry_rules:
  - signal: x
    side: LONG
position_sizing:
  method: fixed_fraction
  value: 0.1
  allow_scaling: true
  max_concurrent_positions: 3
`
	def, err := Load([]byte(content))
	suite.Require().NoError(err)
	suite.Equal(3, def.MaxConcurrent())
}

func (suite *LoaderTestSuite) TestLoadInvalidYAML() {
	_, err := Load([]byte("not: [valid"))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDefinition))
}

func (suite *LoaderTestSuite) TestGenerateSchemaJSON() {
	schema, err := GenerateSchemaJSON()
	suite.Require().NoError(err)
	suite.Contains(schema, "strategy-definition")
	suite.Contains(schema, "lookback_bars")
}
