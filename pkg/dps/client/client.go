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

// Package client is the synchronous, blocking-call wrapper around the
// pipeline: Register and Cancel, the two operations an end user of a
// provisioning client actually calls, built on top of the asynchronous
// operation/stage machinery in pkg/dps/pipeline.
package client

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/Azure/azure-iot-dps-go-client/internal/logging"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/dpserrors"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/model"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
)

// Client drives one device's registration through the pipeline and blocks
// the caller until it completes, fails, times out, or is cancelled.
type Client struct {
	RegistrationID string
	Stage          pipeline.Stage // the head of the pipeline, typically *registrationstage.Stage
	Executor       *pipeline.Executor
	Logger         logr.Logger

	// sf ensures a second Register call observes the first's in-flight
	// attempt rather than racing a second RegisterOperation onto the
	// pipeline, the same single-flight shape golang.org/x/sync/singleflight
	// gives a cache-stampede-prone read path.
	sf singleflight.Group

	mu      sync.Mutex
	current *pipeline.RegisterOperation
}

// Register sends payload through the pipeline and blocks until the
// RegisterOperation completes, the context is cancelled, or Cancel is
// called concurrently from another goroutine.
func (c *Client) Register(ctx context.Context, payload []byte) (model.RegistrationResult, error) {
	v, err, _ := c.sf.Do(c.RegistrationID, func() (any, error) {
		return c.register(ctx, payload)
	})
	if err != nil {
		return model.RegistrationResult{}, err
	}
	return v.(model.RegistrationResult), nil
}

func (c *Client) register(ctx context.Context, payload []byte) (model.RegistrationResult, error) {
	done := make(chan struct{})
	var result model.RegistrationResult
	var opErr error

	op := pipeline.NewRegisterOperation(c.RegistrationID, payload, func(completed *pipeline.RegisterOperation) {
		result = completed.RegistrationResult
		opErr = completed.Err
		if opErr != nil {
			c.Logger.Error(opErr, "registration did not complete successfully",
				logging.ValuesToKeyValuePairs(logging.Operation(completed.Name()), logging.RegID(c.RegistrationID))...)
		}
		close(done)
	})

	c.mu.Lock()
	c.current = op
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.current == op {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	c.Executor.Post(func() {
		c.Stage.RunOp(ctx, op)
	})

	select {
	case <-done:
		return result, opErr
	case <-ctx.Done():
		return model.RegistrationResult{}, ctx.Err()
	}
}

// Cancel synthesizes a CancelledError into the in-flight RegisterOperation,
// if any, unblocking a concurrent Register call. This is a documented
// rendering of the source's unresolved "what does cancel actually produce"
// question (spec.md §9): rather than leaving Register's caller blocked
// forever, cancellation always resolves with dpserrors.CancelledError.
func (c *Client) Cancel(ctx context.Context) {
	c.mu.Lock()
	op := c.current
	c.mu.Unlock()
	if op == nil {
		return
	}
	c.Executor.Post(func() {
		op.Complete(dpserrors.NewCancelledError("registration operation was cancelled"))
	})
}

// handleResult is intentionally left unimplemented: spec.md §9 leaves the
// shape of post-registration result handling (e.g. persisting the assigned
// hub, retrying on the caller's behalf) as an explicit open question rather
// than inventing behavior the source never specified.
// TODO: decide what, if anything, should happen here once a concrete
// consumer of RegistrationResult.RegistrationState exists.
func (c *Client) handleResult(model.RegistrationResult) {}
