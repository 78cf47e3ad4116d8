package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v2"

	"github.com/tradeforge/backtester/internal/backtest/engine/engine_v1/commission"
	"github.com/tradeforge/backtester/pkg/errors"
)

// Config configures one backtest run.
type Config struct {
	InitialCapital float64           `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting capital for the backtest in USD,minimum=0"`
	Broker         commission.Broker `yaml:"broker" json:"broker" jsonschema:"title=Broker,description=The broker to use for commission calculations"`
	// DecimalPrecision is the number of decimal places used when rounding
	// order quantities.
	DecimalPrecision int `yaml:"decimal_precision" json:"decimal_precision" jsonschema:"title=Decimal Precision,description=Decimal places for quantity rounding,minimum=0"`
	// ComputeTimeout bounds the bulk signal computation call. None means no
	// timeout.
	ComputeTimeout optional.Option[time.Duration] `yaml:"compute_timeout" json:"compute_timeout" jsonschema:"title=Compute Timeout,description=Wall-clock budget for the signal computation call"`
	// RunTimeout bounds the whole run. None means no timeout.
	RunTimeout optional.Option[time.Duration] `yaml:"run_timeout" json:"run_timeout" jsonschema:"title=Run Timeout,description=Wall-clock budget for the whole run"`
}

// UnmarshalYAML implements custom unmarshaling for Config.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		InitialCapital   float64           `yaml:"initial_capital"`
		Broker           commission.Broker `yaml:"broker"`
		DecimalPrecision int               `yaml:"decimal_precision"`
		ComputeTimeout   string            `yaml:"compute_timeout"`
		RunTimeout       string            `yaml:"run_timeout"`
	}

	// Seed from the current values so omitted keys keep their defaults.
	raw := rawConfig{
		InitialCapital:   c.InitialCapital,
		Broker:           c.Broker,
		DecimalPrecision: c.DecimalPrecision,
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.InitialCapital = raw.InitialCapital
	c.Broker = raw.Broker
	c.DecimalPrecision = raw.DecimalPrecision

	if raw.ComputeTimeout != "" {
		timeout, err := time.ParseDuration(raw.ComputeTimeout)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "bad compute_timeout %q", raw.ComputeTimeout)
		}

		c.ComputeTimeout = optional.Some(timeout)
	}

	if raw.RunTimeout != "" {
		timeout, err := time.ParseDuration(raw.RunTimeout)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "bad run_timeout %q", raw.RunTimeout)
		}

		c.RunTimeout = optional.Some(timeout)
	}

	return nil
}

// ParseConfig parses a run config from YAML content and validates it.
func ParseConfig(content string) (Config, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse engine config", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the config invariants.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"initial_capital must be positive, got %f", c.InitialCapital)
	}

	if c.DecimalPrecision < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"decimal_precision must not be negative, got %d", c.DecimalPrecision)
	}

	return nil
}

// GenerateSchema generates a JSON schema for the Config.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.Contains(t.String(), "optional.Option[time.Duration]") {
				return &jsonschema.Schema{
					Type: "string",
				}
			}

			if strings.Contains(t.String(), "commission.Broker") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: commission.AllBrokers,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-engine-v1-config"
	schema.Description = "Configuration schema for BacktestEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates a JSON schema string for the Config.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema := c.GenerateSchema()

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   10000,
		Broker:           commission.BrokerZero,
		DecimalPrecision: 4,
		ComputeTimeout:   optional.Some(2 * time.Minute),
		RunTimeout:       optional.None[time.Duration](),
	}
}
