package strategy

import (
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/tradeforge/backtester/internal/types"
	"github.com/tradeforge/backtester/pkg/errors"
)

// rawEntryRule keeps min_strength as a pointer because optional fields carry
// no YAML support; an absent threshold and an explicit zero mean different
// things to the signal processor.
type rawEntryRule struct {
	Signal      string             `yaml:"signal"`
	Type        string             `yaml:"type"`
	Side        types.Side         `yaml:"side"`
	Outputs     map[string]float64 `yaml:"outputs"`
	MinStrength *float64           `yaml:"min_strength"`
}

// rawDefinition mirrors Definition but keeps lookback_bars as a pointer so a
// missing field can be told apart from an explicit zero. An unbounded data
// request caused by an absent lookback is exactly the defect this guards
// against.
type rawDefinition struct {
	Name          string                 `yaml:"name"`
	Version       string                 `yaml:"version"`
	SchemaVersion string                 `yaml:"schema_version"`
	LookbackBars  *int                   `yaml:"lookback_bars"`
	Indicators    []IndicatorRequirement `yaml:"indicators"`
	Signals       []string               `yaml:"signal_dependencies"`
	EntryRules    []rawEntryRule         `yaml:"entry_rules"`
	ExitRules     []ExitRule             `yaml:"exit_rules"`
	Risk          RiskLimits             `yaml:"risk_limits"`
	Sizing        PositionSizing         `yaml:"position_sizing"`
	ComputeUnit   string                 `yaml:"compute_unit"`
	Params        map[string]float64     `yaml:"params"`
}

// Load parses and validates a strategy definition from YAML content.
func Load(content []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidDefinition, "failed to parse strategy definition", err)
	}

	if raw.LookbackBars == nil {
		return nil, errors.New(errors.ErrCodeMissingLookback, "lookback_bars is required")
	}

	if err := checkSchemaVersion(raw.SchemaVersion); err != nil {
		return nil, err
	}

	entryRules := make([]EntryRule, 0, len(raw.EntryRules))

	for _, rule := range raw.EntryRules {
		minStrength := optional.None[float64]()
		if rule.MinStrength != nil {
			minStrength = optional.Some(*rule.MinStrength)
		}

		entryRules = append(entryRules, EntryRule{
			Signal:      rule.Signal,
			Type:        rule.Type,
			Side:        rule.Side,
			Outputs:     rule.Outputs,
			MinStrength: minStrength,
		})
	}

	def := &Definition{
		Name:          raw.Name,
		Version:       raw.Version,
		SchemaVersion: raw.SchemaVersion,
		LookbackBars:  *raw.LookbackBars,
		Indicators:    raw.Indicators,
		Signals:       raw.Signals,
		EntryRules:    entryRules,
		ExitRules:     raw.ExitRules,
		Risk:          raw.Risk,
		Sizing:        raw.Sizing,
		ComputeUnit:   raw.ComputeUnit,
		Params:        raw.Params,
	}

	if def.Sizing.Method == "" {
		def.Sizing.Method = SizingFixedFraction
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

// LoadFile reads and parses a strategy definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidDefinition, err, "failed to read strategy definition: %s", path)
	}

	return Load(content)
}

func checkSchemaVersion(version string) error {
	if version == "" {
		return errors.New(errors.ErrCodeSchemaVersion, "schema_version is required")
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeSchemaVersion, err, "invalid schema_version: %s", version)
	}

	constraint, err := semver.NewConstraint(SchemaVersionConstraint)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSchemaVersion, "invalid schema version constraint", err)
	}

	if !constraint.Check(v) {
		return errors.Newf(errors.ErrCodeSchemaVersion,
			"schema_version %s does not satisfy %s", version, SchemaVersionConstraint)
	}

	return nil
}
