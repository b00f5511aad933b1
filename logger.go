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
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap's sugared logger for key/value structured logging throughout the application
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a structured logger. Accepted levels: debug, info, warn, error.
// jsonOutput selects the JSON encoder (useful for production/log aggregation).
func NewLogger(level string, jsonOutput bool) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if jsonOutput {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), zapLevel)
	return newLoggerFromCore(core), nil
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func newLoggerFromCore(core zapcore.Core) *Logger {
	return &Logger{SugaredLogger: zap.New(core, zap.AddCaller()).Sugar()}
}

// WithComponent returns a logger with a component field pre-set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{SugaredLogger: l.With("component", component)}
}

// WithAccountID returns a logger with an account_id field pre-set
func (l *Logger) WithAccountID(accountID string) *Logger {
	// Mask account ID for privacy (show only prefix)
	maskedID := accountID
	if len(accountID) > 5 {
		maskedID = accountID[:5] + "***"
	}
	return &Logger{SugaredLogger: l.With("account_id", maskedID)}
}

// WithMeter returns a logger carrying the meter's identity
func (l *Logger) WithMeter(m *Meter) *Logger {
	return &Logger{SugaredLogger: l.With("device_id", m.DeviceID, "meter_type", m.Kind.String())}
}

// LogAPIRequest logs an API request with common fields
func (l *Logger) LogAPIRequest(method, endpoint string, statusCode int, duration float64) {
	l.Debugw("API request",
		"method", method,
		"endpoint", endpoint,
		"status_code", statusCode,
		"duration_ms", duration*1000,
	)
}

// LogAPIError logs an API error with details
func (l *Logger) LogAPIError(err error, endpoint string) {
	var apiErr *APIError
	var gqlErr *GraphQLError
	switch {
	case errors.As(err, &apiErr):
		l.Errorw("API request failed",
			"endpoint", endpoint,
			"status_code", apiErr.StatusCode,
			"retryable", apiErr.Retryable,
			"error", apiErr.Message,
		)
	case errors.As(err, &gqlErr):
		l.Errorw("API request failed",
			"endpoint", endpoint,
			"code", gqlErr.Code,
			"rate_limited", gqlErr.RateLimited(),
			"error", gqlErr.Message,
		)
	default:
		l.Errorw("API request failed",
			"endpoint", endpoint,
			"error", err.Error(),
		)
	}
}

// Flush writes any buffered entries. Sync errors on stdout are not actionable.
func (l *Logger) Flush() {
	_ = l.Sync()
}

// maskSecret shows only the first 6 and last 4 characters of a credential
func maskSecret(val string) string {
	if len(val) > 12 {
		return val[:6] + "..." + val[len(val)-4:]
	}
	return "***"
}
