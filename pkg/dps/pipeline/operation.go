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

// Package pipeline holds the operation model and the pipeline-thread
// executor the registration and polling-status stages are driven on. The
// source this is modeled on dispatches on runtime isinstance checks; here
// operations are a tagged sum expressed as the Operation interface, and each
// stage type-switches on the concrete type it cares about and forwards
// anything else to the next stage.
package pipeline

import (
	"github.com/google/uuid"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/constant"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/model"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/timerset"
)

// Operation is implemented by every operation type that can flow through
// the pipeline.
type Operation interface {
	// Name is a short, stable identifier used for log correlation only.
	Name() string
}

func newName(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// RegisterOperation is the root user-visible operation: one call to
// Register fans out into zero or more PollStatusOperation workers but
// completes exactly once.
type RegisterOperation struct {
	name string

	RegistrationID string
	RequestPayload []byte // opaque user blob, becomes the "payload" field

	RegistrationResult model.RegistrationResult
	Err                 error

	// Timers owns the three independent handles this operation may arm.
	// RetryAfter and Polling are mutually exclusive at any instant.
	Timers timerset.Set

	// generation guards against a fired timer mutating state after this
	// operation has already moved on (re-armed or completed). A timer
	// captures the generation at Arm time and is inert if the generation
	// has since changed.
	generation int
	completed  bool

	callback func(*RegisterOperation)
}

// NewRegisterOperation constructs a fresh RegisterOperation with its own
// stable name for log correlation.
func NewRegisterOperation(registrationID string, requestPayload []byte, callback func(*RegisterOperation)) *RegisterOperation {
	return &RegisterOperation{
		name:           newName("register"),
		RegistrationID: registrationID,
		RequestPayload: requestPayload,
		callback:       callback,
	}
}

func (op *RegisterOperation) Name() string { return op.name }

// Generation returns the operation's current generation, for timers armed
// against it.
func (op *RegisterOperation) Generation() int { return op.generation }

// Completed reports whether this operation's callback has already fired.
func (op *RegisterOperation) Completed() bool { return op.completed }

// Retry clears the completed flag and bumps the generation, invalidating
// any timer that was armed under the prior generation. Call this
// immediately before re-running the operation through its stage.
func (op *RegisterOperation) Retry() {
	op.completed = false
	op.generation++
}

// Complete marks the operation terminal and invokes its callback exactly
// once. A second call is a no-op, matching the "exactly one completion
// callback" invariant.
func (op *RegisterOperation) Complete(err error) {
	if op.completed {
		return
	}
	op.completed = true
	op.Err = err
	op.Timers.CancelAll()
	if op.callback != nil {
		op.callback(op)
	}
}

// SpawnPollStatusOperation creates a worker operation whose completion
// copies its result back into this RegisterOperation and then completes
// this RegisterOperation with the worker's error.
func (op *RegisterOperation) SpawnPollStatusOperation(operationID string, requestPayload []byte) *PollStatusOperation {
	parent := op
	return NewPollStatusOperation(operationID, requestPayload, func(worker *PollStatusOperation, err error) {
		parent.RegistrationResult = worker.RegistrationResult
		parent.Complete(err)
	})
}

// PollStatusOperation is the worker operation spawned once the service
// reports "assigning". Its completion propagates its result and error back
// to the parent RegisterOperation via the callback captured at spawn time.
type PollStatusOperation struct {
	name string

	OperationID    string
	RequestPayload []byte

	RegistrationResult model.RegistrationResult
	Err                 error

	Timers timerset.Set

	generation int
	completed  bool

	callback func(*PollStatusOperation, error)
}

// NewPollStatusOperation constructs a PollStatusOperation. Most callers
// should go through RegisterOperation.SpawnPollStatusOperation instead, so
// that the parent/child completion linkage (spec.md's "worker operation"
// pattern) is wired automatically.
func NewPollStatusOperation(operationID string, requestPayload []byte, callback func(*PollStatusOperation, error)) *PollStatusOperation {
	return &PollStatusOperation{
		name:           newName("pollstatus"),
		OperationID:    operationID,
		RequestPayload: requestPayload,
		callback:       callback,
	}
}

func (op *PollStatusOperation) Name() string     { return op.name }
func (op *PollStatusOperation) Generation() int  { return op.generation }
func (op *PollStatusOperation) Completed() bool  { return op.completed }

func (op *PollStatusOperation) Retry() {
	op.completed = false
	op.generation++
}

func (op *PollStatusOperation) Complete(err error) {
	if op.completed {
		return
	}
	op.completed = true
	op.Err = err
	op.Timers.CancelAll()
	if op.callback != nil {
		op.callback(op, err)
	}
}

// RequestAndResponseOperation is handed to the transport binding. It is the
// only operation type that crosses the boundary named in spec.md §6.
type RequestAndResponseOperation struct {
	name string

	RequestType      constant.RequestType
	Method           string
	ResourceLocation string
	QueryParams      map[string]string
	RequestBody      []byte

	StatusCode   int
	RetryAfter   *string // base-10 decimal seconds, as a string, if present
	ResponseBody []byte

	callback func(*RequestAndResponseOperation, error)
}

// NewRequestAndResponseOperation constructs the transport-facing operation
// described in spec.md §6.
func NewRequestAndResponseOperation(
	requestType constant.RequestType,
	method string,
	resourceLocation string,
	queryParams map[string]string,
	requestBody []byte,
	callback func(*RequestAndResponseOperation, error),
) *RequestAndResponseOperation {
	return &RequestAndResponseOperation{
		name:             newName("reqresp"),
		RequestType:      requestType,
		Method:           method,
		ResourceLocation: resourceLocation,
		QueryParams:      queryParams,
		RequestBody:      requestBody,
		callback:         callback,
	}
}

func (op *RequestAndResponseOperation) Name() string { return op.name }

// Complete invokes the operation's completion callback. The transport
// binding calls this exactly once, regardless of success or failure.
func (op *RequestAndResponseOperation) Complete(err error) {
	if op.callback != nil {
		op.callback(op, err)
	}
}
