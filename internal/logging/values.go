/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// This file contains structured logging values, that ensure use of consistent keys across our
// logs. While adhoc logging fields make sense in certain cases, ones with common reuse should be
// defined here.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
)

// LogValue represents a key-value pair for logging with a known key.
type LogValue struct {
	key   string
	value any
}

// Key returns the logging key.
func (m LogValue) Key() string {
	return m.key
}

// Value returns the logging value.
func (m LogValue) Value() any {
	return m.value
}

// Constructor functions for each log value type with known keys.

func Operation(value string) LogValue {
	return LogValue{key: OperationName, value: value}
}

func RegID(value string) LogValue {
	return LogValue{key: RegistrationID, value: value}
}

func OpID(value string) LogValue {
	return LogValue{key: OperationID, value: value}
}

func RegStatus(value string) LogValue {
	return LogValue{key: RegistrationStatus, value: value}
}

func Status(value int) LogValue {
	return LogValue{key: StatusCode, value: value}
}

func Error(value error) LogValue {
	return LogValue{key: "error", value: value}
}

// ValuesToKeyValuePairs converts a slice of LogValues into the flattened
// key-value pairs logr.Logger.Info/Error expect.
func ValuesToKeyValuePairs(values ...LogValue) []any {
	var pairs []any
	for _, v := range values {
		pairs = append(pairs, v.Key(), v.Value())
	}
	return pairs
}

// NewLogger builds the zap-backed logr.Logger the rest of the module logs
// through, with the given verbosity (0 = info only, 1+ = debug-level detail
// from V(1) calls in the pipeline stages).
func NewLogger(development bool, verbosity int) (logr.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevelFor(verbosity))

	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zapLog), nil
}

func zapLevelFor(verbosity int) zapcore.Level {
	if verbosity > 0 {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
