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

// Package registrationstage implements C6 from spec.md: the first stage a
// RegisterOperation hits, which turns it into a PUT register request and,
// depending on the response, retries, completes, or hands off to the
// polling-status stage.
package registrationstage

import (
	"context"
	"encoding/json"
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

// Stage drives RegisterOperations. PollStatusOperations it spawns on
// "assigning" are handed to PollingStage. Everything else passes through to
// Next unchanged.
type Stage struct {
	pipeline.BaseStage

	Executor        *pipeline.Executor
	Transport       transport.RequestResponder
	PollingStage    pipeline.Stage // the next stage down, which owns PollStatusOperation
	TimeoutInterval time.Duration
	DefaultInterval time.Duration
	Logger          logr.Logger
}

var _ pipeline.Stage = (*Stage)(nil)

func (s *Stage) RunOp(ctx context.Context, op pipeline.Operation) {
	if registerOp, ok := op.(*pipeline.RegisterOperation); ok {
		s.entry(ctx, registerOp)
		return
	}
	s.BaseStage.RunOp(ctx, op)
}

func (s *Stage) entry(ctx context.Context, op *pipeline.RegisterOperation) {
	gen := op.Generation()

	op.Timers.ArmTimeout(s.Executor, s.timeoutInterval(), func() {
		s.onTimeout(op, gen)
	})

	payload := decode.DeviceRegistrationPayload{
		RegistrationID: op.RegistrationID,
		Payload:        bytesToAny(op.RequestPayload),
	}
	body, err := payload.JSON()
	if err != nil {
		// Can only happen if the user's custom payload isn't JSON-marshalable;
		// treat it as an immediate terminal failure, there is nothing to retry.
		op.Complete(dpserrors.NewServiceError("failed to build registration payload: %s", err))
		return
	}

	reqOp := pipeline.NewRequestAndResponseOperation(
		constant.Register,
		"PUT",
		"/",
		nil,
		body,
		func(sub *pipeline.RequestAndResponseOperation, transportErr error) {
			s.Executor.Post(func() {
				s.onRegistrationResponse(ctx, op, gen, sub, transportErr)
			})
		},
	)

	transport.SendOpDown(ctx, s.Transport, reqOp)
}

func (s *Stage) onTimeout(op *pipeline.RegisterOperation, gen int) {
	if op.Generation() != gen || op.Completed() {
		return
	}
	s.Logger.Info("register operation timed out",
		logging.ValuesToKeyValuePairs(logging.Operation(op.Name()))...)
	metrics.OperationTimeouts.WithLabelValues("register").Inc()
	op.Complete(dpserrors.NewServiceError(
		"Operation timed out before provisioning service could respond for Register operation",
	))
}

func (s *Stage) onRegistrationResponse(ctx context.Context, op *pipeline.RegisterOperation, gen int, sub *pipeline.RequestAndResponseOperation, transportErr error) {
	if op.Generation() != gen || op.Completed() {
		return
	}
	op.Timers.Timeout.Cancel()

	s.Logger.V(1).Info("received registration response",
		logging.ValuesToKeyValuePairs(
			logging.Operation(op.Name()), logging.RegID(op.RegistrationID), logging.Status(sub.StatusCode),
		)...)

	if err := classify.Classify(sub.StatusCode, constant.Register, transportErr); err != nil {
		op.Complete(err)
		return
	}

	decoded, err := decode.Decode(sub.ResponseBody)
	if err != nil {
		op.Complete(err)
		return
	}

	operationID := decoded.OperationID()
	statusCode := sub.StatusCode

	if statusCode >= 429 {
		s.armRetryAfter(ctx, op, retryAfterOrDefault(sub.RetryAfter, s.defaultInterval()))
		return
	}

	registrationStatus, err := decoded.RegistrationStatus()
	if err != nil {
		op.Complete(err)
		return
	}

	switch registrationStatus {
	case constant.StatusAssigned, constant.StatusFailed:
		s.Logger.V(1).Info("register operation reached a terminal registration status",
			logging.ValuesToKeyValuePairs(logging.Operation(op.Name()), logging.RegStatus(registrationStatus))...)
		op.RegistrationResult = decode.BuildResult(operationID, decoded, registrationStatus)
		var completionErr error
		if registrationStatus == constant.StatusFailed {
			completionErr = dpserrors.NewServiceError(
				"Registration operation returned failed registration status with a status code of %d", statusCode,
			)
			metrics.RegistrationAttempts.WithLabelValues("failed").Inc()
		} else {
			metrics.RegistrationAttempts.WithLabelValues("assigned").Inc()
		}
		op.Complete(completionErr)

	case constant.StatusAssigning:
		// Deliberate asymmetry, preserved from the source this is modeled on
		// (spec.md §9 Open Question): the handoff into polling always uses
		// DefaultInterval, never the server's retry-after from *this*
		// response, even though the polling stage itself does honor
		// retry-after on its own responses.
		s.armPolling(ctx, op, operationID)

	default:
		op.Complete(dpserrors.NewServiceError(
			"Registration Request encountered an invalid registration status %q with a status code of %d",
			registrationStatus, statusCode,
		))
	}
}

func (s *Stage) armRetryAfter(ctx context.Context, op *pipeline.RegisterOperation, interval time.Duration) {
	metrics.RegistrationAttempts.WithLabelValues("throttled").Inc()
	metrics.RetryAfterWaitSeconds.Observe(interval.Seconds())
	gen := op.Generation()
	op.Timers.ArmRetryAfter(s.Executor, interval, func() {
		if op.Generation() != gen || op.Completed() {
			return
		}
		op.Timers.RetryAfter.Cancel()
		op.Retry()
		s.Logger.V(1).Info("retrying register operation",
			logging.ValuesToKeyValuePairs(logging.Operation(op.Name()))...)
		s.entry(ctx, op)
	})
}

func (s *Stage) armPolling(ctx context.Context, op *pipeline.RegisterOperation, operationID string) {
	gen := op.Generation()
	op.Timers.ArmPolling(s.Executor, s.defaultInterval(), func() {
		if op.Generation() != gen || op.Completed() {
			return
		}
		op.Timers.Polling.Cancel()
		s.Logger.V(1).Info("transitioning to polling",
			logging.ValuesToKeyValuePairs(logging.Operation(op.Name()), logging.OpID(operationID))...)

		workerOp := op.SpawnPollStatusOperation(operationID, []byte(" "))
		if s.PollingStage != nil {
			s.PollingStage.RunOp(ctx, workerOp)
		}
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

// bytesToAny turns the user's opaque request payload into a value suitable
// for JSON-embedding as the "payload" field: nil if empty, or the decoded
// JSON value if the bytes are themselves JSON, so that `payload` is nested
// as an object/array/string rather than double-encoded.
func bytesToAny(requestPayload []byte) any {
	if len(requestPayload) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(requestPayload, &v); err != nil {
		return string(requestPayload)
	}
	return v
}
