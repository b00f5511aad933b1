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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var configPath string
	var showVersion, once bool

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&once, "once", false, "Discover meters, poll each once, print the readings and exit")
	RegisterFlags(flag.CommandLine)
	flag.Parse()

	if showVersion {
		fmt.Printf("octopus-usage-exporter %s\n", GetVersion())
		fmt.Printf("User-Agent: %s\n", GetUserAgent())
		os.Exit(0)
	}

	// Layers, later wins: defaults, config file, environment, command line
	config, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
		os.Exit(1)
	}
	config.ApplyEnv()
	config.ApplyFlags(flag.CommandLine)
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		for _, ve := range ValidationErrors(err) {
			fmt.Fprintf(os.Stderr, "  - %s\n", ve.Error())
		}
		fmt.Fprintf(os.Stderr, "Usage: %s -account-number=<A-XXXXXXXX> -api-key=<api_key> -electric|-gas\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Or set environment variables: ACCOUNT_NUMBER, API_KEY, ELECTRIC, GAS\n")
		fmt.Fprintf(os.Stderr, "Or use a configuration file with -config=<path>\n")
		os.Exit(1)
	}

	level := config.LogLevel
	if config.Debug {
		level = "debug"
	}
	logger, err := NewLogger(level, config.LogFormat == "json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Flush()

	if err := run(config, once, logger); err != nil {
		logger.Errorw("Exiting", "error", err.Error())
		logger.Flush()
		os.Exit(1)
	}
}

func run(config *Config, once bool, logger *Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("Starting Octopus Energy usage exporter",
		"version", GetVersion(),
		"account_id", config.AccountNumber,
		"api_key", maskAPIKey(config.APIKey),
		"electric", config.Electric,
		"gas", config.Gas,
		"labeled_metrics", config.NGMetrics,
	)
	accountLog := logger.WithAccountID(config.AccountNumber)

	transport := NewOctopusClient(accountLog, config.Debug)
	tokens := NewTokenManager(transport, config.APIKey, config.TokenSkew(), accountLog)

	statePath, err := ResolveStatePath(config.StateFile, config.AccountNumber)
	if err != nil {
		logger.Warnw("Token cache disabled", "error", err.Error())
	} else if statePath != "" {
		state, err := LoadState(statePath)
		if err != nil {
			logger.Warnw("Failed to load state, starting fresh", "error", err.Error())
		} else {
			tokens.UseStore(state)
		}
	}

	client := NewAuthenticatedClient(transport, tokens, accountLog)

	interval := EffectiveInterval(config.PollInterval(), logger)
	registry := NewMeterRegistry(client, DiscoveryOptions{
		ElectricInterval: interval,
		GasInterval:      GasPollingInterval,
		TariffRates:      config.TariffRates,
		TariffRemaining:  config.TariffRemaining,
	}, accountLog)

	meters, err := registry.Discover(ctx, config.AccountNumber, config.Gas, config.Electric)
	if err != nil {
		return fmt.Errorf("meter discovery failed: %w", err)
	}

	collector := NewReadingCollector(client, logger)

	if once {
		for _, meter := range meters {
			reading := collector.Collect(ctx, meter)
			for _, readingType := range reading.sortedKeys() {
				fmt.Printf("%s %s %s = %g\n", meter.Kind, meter.DeviceID, readingType, reading[readingType])
			}
		}
		return nil
	}

	metrics := NewRegistry()
	publisher := NewGaugePublisher(metrics, config.NGMetrics, logger)
	scheduler := NewPollingScheduler(tokens, collector, publisher, meters, interval, logger)
	metrics.MustRegister(NewMetricsCollector(transport.Metrics(), tokens, scheduler))

	server := NewWebServer(metrics, scheduler, config.PromPort, logger)
	if err := server.Start(); err != nil {
		return err
	}

	scheduler.Run(ctx)

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Warnw("Metrics server shutdown", "error", err.Error())
	}
	return nil
}

// maskAPIKey shows only the first 8 characters
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "..."
}
