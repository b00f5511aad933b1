// Copyright 2025 The octopus-usage-exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AccountNumber    string `yaml:"account_number"`
	APIKey           string `yaml:"api_key"`
	Gas              bool   `yaml:"gas"`
	Electric         bool   `yaml:"electric"`
	NGMetrics        bool   `yaml:"ng_metrics"`
	TariffRates      bool   `yaml:"tariff_rates"`
	TariffRemaining  bool   `yaml:"tariff_remaining"`
	Interval         int    `yaml:"interval"`
	PromPort         int    `yaml:"prom_port"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	TokenSkewMinutes int    `yaml:"token_skew_minutes"`
	StateFile        string `yaml:"state_file"`
	Debug            bool   `yaml:"debug"`
}

// DefaultConfig returns the built-in defaults, the lowest configuration layer
func DefaultConfig() *Config {
	return &Config{
		Interval:         int(IntervalDefault / time.Second),
		PromPort:         DefaultPromPort,
		LogLevel:         "info",
		LogFormat:        "console",
		TokenSkewMinutes: int(JWTRefreshSkew / time.Minute),
	}
}

// LoadConfig layers a YAML file over the defaults. An empty path yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides options from environment variables named after the
// upper-cased option, e.g. ACCOUNT_NUMBER or PROM_PORT
func (c *Config) ApplyEnv() {
	v := viper.New()
	v.AutomaticEnv()

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setString("account_number", &c.AccountNumber)
	setString("api_key", &c.APIKey)
	setBool("gas", &c.Gas)
	setBool("electric", &c.Electric)
	setBool("ng_metrics", &c.NGMetrics)
	setBool("tariff_rates", &c.TariffRates)
	setBool("tariff_remaining", &c.TariffRemaining)
	setInt("interval", &c.Interval)
	setInt("prom_port", &c.PromPort)
	setString("log_level", &c.LogLevel)
	setString("log_format", &c.LogFormat)
	setInt("token_skew_minutes", &c.TokenSkewMinutes)
	setString("state_file", &c.StateFile)
	setBool("debug", &c.Debug)
}

// RegisterFlags declares one command line flag per option; flag names use dashes
func RegisterFlags(fs *flag.FlagSet) {
	d := DefaultConfig()
	fs.String("account-number", "", "Octopus Energy account number (A-XXXXXXXX)")
	fs.String("api-key", "", "Octopus Energy API key")
	fs.Bool("gas", false, "Export gas meter readings")
	fs.Bool("electric", false, "Export electricity meter readings")
	fs.Bool("ng-metrics", false, "Use shared metric names with device_id/meter_type labels")
	fs.Bool("tariff-rates", false, "Export tariff unit rate and standing charge")
	fs.Bool("tariff-remaining", false, "Export tariff expiry and days remaining")
	fs.Int("interval", d.Interval, "Base poll interval in seconds (1-1800)")
	fs.Int("prom-port", d.PromPort, "Port for the /metrics endpoint")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "Log format: console or json")
	fs.Int("token-skew-minutes", d.TokenSkewMinutes, "Refresh the API token when it has less than this many minutes left")
	fs.String("state-file", "", "Token cache file (\"disable\" turns caching off)")
	fs.Bool("debug", false, "Log API requests and responses")
}

// ApplyFlags overrides options with the flags explicitly set on the command line
func (c *Config) ApplyFlags(fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		getter, ok := f.Value.(flag.Getter)
		if !ok {
			return
		}
		value := getter.Get()
		switch f.Name {
		case "account-number":
			c.AccountNumber = value.(string)
		case "api-key":
			c.APIKey = value.(string)
		case "gas":
			c.Gas = value.(bool)
		case "electric":
			c.Electric = value.(bool)
		case "ng-metrics":
			c.NGMetrics = value.(bool)
		case "tariff-rates":
			c.TariffRates = value.(bool)
		case "tariff-remaining":
			c.TariffRemaining = value.(bool)
		case "interval":
			c.Interval = value.(int)
		case "prom-port":
			c.PromPort = value.(int)
		case "log-level":
			c.LogLevel = value.(string)
		case "log-format":
			c.LogFormat = value.(string)
		case "token-skew-minutes":
			c.TokenSkewMinutes = value.(int)
		case "state-file":
			c.StateFile = value.(string)
		case "debug":
			c.Debug = value.(bool)
		}
	})
}

// ApplyDefaults normalises free-form values
func (c *Config) ApplyDefaults() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var err error

	if c.AccountNumber == "" {
		err = multierr.Append(err, &ValidationError{Field: "account_number", Message: "is required"})
	} else if !strings.HasPrefix(c.AccountNumber, "A-") {
		err = multierr.Append(err, &ValidationError{Field: "account_number", Value: c.AccountNumber, Message: "should start with 'A-'"})
	}

	if c.APIKey == "" {
		err = multierr.Append(err, &ValidationError{Field: "api_key", Message: "is required"})
	}

	if !c.Gas && !c.Electric {
		err = multierr.Append(err, &ValidationError{Field: "gas/electric", Message: "at least one fuel must be enabled"})
	}

	if c.PromPort < 1 || c.PromPort > 65535 {
		err = multierr.Append(err, &ValidationError{Field: "prom_port", Value: c.PromPort, Message: "must be between 1-65535"})
	}

	if c.TokenSkewMinutes < 1 {
		err = multierr.Append(err, &ValidationError{Field: "token_skew_minutes", Value: c.TokenSkewMinutes, Message: "must be at least 1"})
	} else if time.Duration(c.TokenSkewMinutes)*time.Minute > JWTMaxRefreshSkew {
		err = multierr.Append(err, &ValidationError{Field: "token_skew_minutes", Value: c.TokenSkewMinutes, Message: fmt.Sprintf("must be at most %d", int(JWTMaxRefreshSkew/time.Minute))})
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		err = multierr.Append(err, &ValidationError{Field: "log_format", Value: c.LogFormat, Message: "must be console or json"})
	}

	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// ValidationErrors unpacks the individual problems of a Validate error
func ValidationErrors(err error) []*ValidationError {
	var out []*ValidationError
	for _, e := range multierr.Errors(errors.Unwrap(err)) {
		var ve *ValidationError
		if errors.As(e, &ve) {
			out = append(out, ve)
		}
	}
	return out
}

// PollInterval is the configured base interval before clamping
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// TokenSkew is the configured skew window
func (c *Config) TokenSkew() time.Duration {
	return time.Duration(c.TokenSkewMinutes) * time.Minute
}
