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

// Package pollingstatusstage implements C5 from spec.md: repeated GET-status
// queries for a single PollStatusOperation, until it is assigned, failed, or
// times out.
package pollingstatusstage

import (
	"context"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/Azure/azure-iot-dps-go-client/internal/logging"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/constant"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/dpserrors"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/classify"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/decode"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/metrics"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/transport"
)

// Stage drives PollStatusOperations. All other operation types pass
// through to Next unchanged.
type Stage struct {
	pipeline.BaseStage

	Executor        *pipeline.Executor
	Transport       transport.RequestResponder
	TimeoutInterval time.Duration
	DefaultInterval time.Duration
	Logger          logr.Logger
}

var _ pipeline.Stage = (*Stage)(nil)

// RunOp dispatches PollStatusOperations to entry and forwards everything
// else down the chain.
func (s *Stage) RunOp(ctx context.Context, op pipeline.Operation) {
	if pollOp, ok := op.(*pipeline.PollStatusOperation); ok {
		s.entry(ctx, pollOp)
		return
	}
	s.BaseStage.RunOp(ctx, op)
}

func (s *Stage) entry(ctx context.Context, op *pipeline.PollStatusOperation) {
	gen := op.Generation()

	op.Timers.ArmTimeout(s.Executor, s.timeoutInterval(), func() {
		s.onTimeout(op, gen)
	})

	reqOp := pipeline.NewRequestAndResponseOperation(
		constant.Query,
		"GET",
		"/",
		map[string]string{"operation_id": op.OperationID},
		op.RequestPayload,
		func(sub *pipeline.RequestAndResponseOperation, err error) {
			s.Executor.Post(func() {
				s.onQueryResponse(ctx, op, gen, sub, err)
			})
		},
	)

	transport.SendOpDown(ctx, s.Transport, reqOp)
}

func (s *Stage) onTimeout(op *pipeline.PollStatusOperation, gen int) {
	if op.Generation() != gen || op.Completed() {
		return
	}
	s.Logger.Info("poll status operation timed out",
		logging.ValuesToKeyValuePairs(logging.Operation(op.Name()))...)
	metrics.OperationTimeouts.WithLabelValues("poll_status").Inc()
	op.Complete(dpserrors.NewServiceError(
		"Operation timed out before provisioning service could respond for PollStatus operation",
	))
}

func (s *Stage) onQueryResponse(ctx context.Context, op *pipeline.PollStatusOperation, gen int, sub *pipeline.RequestAndResponseOperation, transportErr error) {
	if op.Generation() != gen || op.Completed() {
		return
	}
	op.Timers.Timeout.Cancel()

	s.Logger.V(1).Info("received poll status response",
		logging.ValuesToKeyValuePairs(
			logging.Operation(op.Name()), logging.Status(sub.StatusCode), logging.OpID(op.OperationID),
		)...)

	if err := classify.Classify(sub.StatusCode, constant.Query, transportErr); err != nil {
		op.Complete(err)
		return
	}

	decoded, err := decode.Decode(sub.ResponseBody)
	if err != nil {
		op.Complete(err)
		return
	}

	registrationStatus, err := decoded.RegistrationStatus()
	if err != nil {
		op.Complete(err)
		return
	}

	operationID := decoded.OperationID()
	pollingInterval := retryAfterOrDefault(sub.RetryAfter, s.defaultInterval())
	statusCode := sub.StatusCode

	if statusCode >= 429 || registrationStatus == constant.StatusAssigning {
		metrics.PollAttempts.WithLabelValues("retry").Inc()
		metrics.RetryAfterWaitSeconds.Observe(pollingInterval.Seconds())
		s.armRetry(ctx, op, pollingInterval)
		return
	}

	switch registrationStatus {
	case constant.StatusAssigned, constant.StatusFailed:
		s.Logger.V(1).Info("poll status operation reached a terminal registration status",
			logging.ValuesToKeyValuePairs(logging.Operation(op.Name()), logging.RegStatus(registrationStatus))...)
		op.RegistrationResult = decode.BuildResult(operationID, decoded, registrationStatus)
		var completionErr error
		if registrationStatus == constant.StatusFailed {
			completionErr = dpserrors.NewServiceError(
				"Query Status operation returned a failed registration status with a status code of %d", statusCode,
			)
			metrics.PollAttempts.WithLabelValues("failed").Inc()
		} else {
			metrics.PollAttempts.WithLabelValues("assigned").Inc()
		}
		op.Complete(completionErr)
	default:
		op.Complete(dpserrors.NewServiceError(
			"Query Status Operation encountered an invalid registration status %q with a status code of %d",
			registrationStatus, statusCode,
		))
	}
}

// armRetry handles both the 429-throttled and "assigning" cases: both
// re-enter this same PollStatusOperation through this stage after the
// indicated interval (spec.md §4.5 "Retry branch").
func (s *Stage) armRetry(ctx context.Context, op *pipeline.PollStatusOperation, interval time.Duration) {
	gen := op.Generation()
	op.Timers.ArmPolling(s.Executor, interval, func() {
		if op.Generation() != gen || op.Completed() {
			return
		}
		op.Timers.Polling.Cancel()
		op.Retry()
		s.Logger.V(1).Info("retrying poll status operation",
			logging.ValuesToKeyValuePairs(logging.Operation(op.Name()))...)
		s.entry(ctx, op)
	})
}

func (s *Stage) timeoutInterval() time.Duration {
	if s.TimeoutInterval > 0 {
		return s.TimeoutInterval
	}
	return constant.DefaultTimeoutInterval
}

func (s *Stage) defaultInterval() time.Duration {
	if s.DefaultInterval > 0 {
		return s.DefaultInterval
	}
	return constant.DefaultPollingInterval
}

// retryAfterOrDefault parses a base-10 decimal-seconds retry-after string.
// An absent value, or one that fails to parse, falls back to def — spec.md
// §8 leaves the unparsable case a documented choice rather than promoting
// it to MalformedResponse, since a throttle signal should never itself
// become a hard failure.
func retryAfterOrDefault(retryAfter *string, def time.Duration) time.Duration {
	if retryAfter == nil {
		return def
	}
	seconds, err := strconv.ParseInt(*retryAfter, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(seconds) * time.Second
}
