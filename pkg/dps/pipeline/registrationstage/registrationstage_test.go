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

package registrationstage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
)

// fakeResponse is one canned reply for the fake transport below.
type fakeResponse struct {
	statusCode int
	retryAfter *string
	body       string
	err        error
}

// fakeResponder implements transport.RequestResponder, returning responses
// from a queue in order and repeating the last one once exhausted, the same
// shape as aksmachinepoller's mockGetter.
type fakeResponder struct {
	responses []fakeResponse
	callCount atomic.Int32
}

func (f *fakeResponder) Do(ctx context.Context, op *pipeline.RequestAndResponseOperation) {
	idx := int(f.callCount.Add(1)) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	resp := f.responses[idx]
	op.StatusCode = resp.statusCode
	op.RetryAfter = resp.retryAfter
	op.ResponseBody = []byte(resp.body)
	op.Complete(resp.err)
}

func newTestStage(responder *fakeResponder) (*Stage, *pipeline.Executor, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := pipeline.NewExecutor()
	go executor.Run(ctx)

	stage := &Stage{
		Executor:        executor,
		Transport:       responder,
		TimeoutInterval: time.Second,
		DefaultInterval: 10 * time.Millisecond,
		Logger:          logr.Discard(),
	}
	return stage, executor, cancel
}

func runRegister(t *testing.T, stage *Stage, executor *pipeline.Executor) *pipeline.RegisterOperation {
	t.Helper()
	done := make(chan struct{})
	var completed *pipeline.RegisterOperation
	op := pipeline.NewRegisterOperation("reg1", nil, func(o *pipeline.RegisterOperation) {
		completed = o
		close(done)
	})
	executor.Post(func() {
		stage.RunOp(context.Background(), op)
	})

	select {
	case <-done:
		return completed
	case <-time.After(2 * time.Second):
		t.Fatal("register operation never completed")
		return nil
	}
}

func TestRegistrationStage_ImmediateAssigned(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{
		{statusCode: 200, body: `{"operationId":"op1","status":"assigned","registrationState":{"deviceId":"d1","assignedHub":"hub.azure-devices.net"}}`},
	}}
	stage, executor, cancel := newTestStage(responder)
	defer cancel()

	op := runRegister(t, stage, executor)

	require.NoError(t, op.Err)
	require.NotNil(t, op.RegistrationResult.RegistrationState)
	assert.Equal(t, "hub.azure-devices.net", op.RegistrationResult.RegistrationState.AssignedHub)
	assert.Equal(t, int32(1), responder.callCount.Load())
}

func TestRegistrationStage_FailedTerminal(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{
		{statusCode: 200, body: `{"operationId":"op1","status":"failed"}`},
	}}
	stage, executor, cancel := newTestStage(responder)
	defer cancel()

	op := runRegister(t, stage, executor)

	require.Error(t, op.Err)
	assert.Contains(t, op.Err.Error(), "failed registration status")
}

func TestRegistrationStage_ThrottledThenAssigned(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{
		{statusCode: 429, body: `{}`},
		{statusCode: 200, body: `{"operationId":"op1","status":"assigned","registrationState":{"deviceId":"d1"}}`},
	}}
	stage, executor, cancel := newTestStage(responder)
	defer cancel()

	op := runRegister(t, stage, executor)

	require.NoError(t, op.Err)
	assert.Equal(t, int32(2), responder.callCount.Load())
}

func TestRegistrationStage_InvalidStatus(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{
		{statusCode: 200, body: `{"operationId":"op1","status":"bogus"}`},
	}}
	stage, executor, cancel := newTestStage(responder)
	defer cancel()

	op := runRegister(t, stage, executor)

	require.Error(t, op.Err)
	assert.Contains(t, op.Err.Error(), "invalid registration status")
}

func TestRegistrationStage_AssigningSpawnsPolling(t *testing.T) {
	responder := &fakeResponder{responses: []fakeResponse{
		{statusCode: 202, body: `{"operationId":"op1","status":"assigning"}`},
	}}
	stage, executor, cancel := newTestStage(responder)
	defer cancel()

	var spawned atomic.Bool
	stage.PollingStage = pipelineStageFunc(func(ctx context.Context, op pipeline.Operation) {
		if _, ok := op.(*pipeline.PollStatusOperation); ok {
			spawned.Store(true)
		}
	})

	done := make(chan struct{})
	op := pipeline.NewRegisterOperation("reg1", nil, func(o *pipeline.RegisterOperation) {
		close(done)
	})
	executor.Post(func() {
		stage.RunOp(context.Background(), op)
	})

	require.Eventually(t, spawned.Load, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("register operation should not complete until the polling stage completes it")
	case <-time.After(50 * time.Millisecond):
	}
}

// silentResponder never completes the RequestAndResponseOperation, standing
// in for a service that never answers before the timeout fires.
type silentResponder struct{}

func (silentResponder) Do(ctx context.Context, op *pipeline.RequestAndResponseOperation) {}

func TestRegistrationStage_TimeoutCompletesWithError(t *testing.T) {
	stage, executor, cancel := newTestStage(&fakeResponder{})
	stage.Transport = silentResponder{}
	defer cancel()
	stage.TimeoutInterval = 5 * time.Millisecond

	op := runRegister(t, stage, executor)

	require.Error(t, op.Err)
	assert.Contains(t, op.Err.Error(), "timed out")
}

// pipelineStageFunc adapts a function literal to pipeline.Stage for tests.
type pipelineStageFunc func(ctx context.Context, op pipeline.Operation)

func (f pipelineStageFunc) RunOp(ctx context.Context, op pipeline.Operation) { f(ctx, op) }
