// Copyright 2024 AI SA Assistant Project
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

package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// TimeoutFunc is a function that can be executed with a timeout. It must
// return once its context is done.
type TimeoutFunc func(ctx context.Context) error

// WithTimeout runs fn under its own deadline. Expiry of that deadline is
// reported as a timeout ServiceError; cancellation of the parent context is
// returned unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, logger *zap.Logger, fn TimeoutFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(timeoutCtx)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		logger.Warn("Operation timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err))
		return NewTimeoutError("Operation timed out", err)
	}

	logger.Debug("Operation completed with error",
		zap.Error(err),
		zap.Duration("timeout", timeout))
	return err
}
