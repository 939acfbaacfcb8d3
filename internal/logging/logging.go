/*
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

// Package logging builds the process-wide structured logger and carries it
// through a context.Context, the same shape as the teacher's
// LoggingContextOrDie helper but without the controller-runtime manager
// this system has no use for.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// NewOrDie builds the production zap logger. It panics on misconfiguration,
// matching the teacher's "OrDie" naming convention for startup-time helpers
// that have no sensible recovery path.
func NewOrDie() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		panic("logging: failed to build logger: " + err.Error())
	}
	return logger.Sugar()
}

// WithLogger returns a child context carrying logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op fallback if none
// was injected (tests frequently exercise jobmanager/dispatcher without ever
// wiring a logger).
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && l != nil {
		return l
	}
	return zap.NewNop().Sugar()
}
