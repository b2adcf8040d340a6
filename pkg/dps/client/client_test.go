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

package client_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/client"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/pollingstatusstage"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/registrationstage"
)

func TestClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Client")
}

type scriptedResponse struct {
	statusCode int
	retryAfter *string
	body       string
	err        error
}

type scriptedResponder struct {
	responses []scriptedResponse
	callCount atomic.Int32
}

func (s *scriptedResponder) Do(ctx context.Context, op *pipeline.RequestAndResponseOperation) {
	idx := int(s.callCount.Add(1)) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	resp := s.responses[idx]
	op.StatusCode = resp.statusCode
	op.RetryAfter = resp.retryAfter
	op.ResponseBody = []byte(resp.body)
	op.Complete(resp.err)
}

func newClient(responder *scriptedResponder) (*client.Client, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := pipeline.NewExecutor()
	go executor.Run(ctx)

	polling := &pollingstatusstage.Stage{
		Executor:        executor,
		Transport:       responder,
		TimeoutInterval: time.Second,
		DefaultInterval: 5 * time.Millisecond,
		Logger:          logr.Discard(),
	}
	registration := &registrationstage.Stage{
		Executor:        executor,
		Transport:       responder,
		PollingStage:    polling,
		TimeoutInterval: time.Second,
		DefaultInterval: 5 * time.Millisecond,
		Logger:          logr.Discard(),
	}

	return &client.Client{
		RegistrationID: "device1",
		Stage:          registration,
		Executor:       executor,
		Logger:         logr.Discard(),
	}, cancel
}

var _ = Describe("Client.Register", func() {
	var cancel context.CancelFunc

	AfterEach(func() {
		if cancel != nil {
			cancel()
		}
	})

	It("completes immediately when the register response is already assigned", func() {
		responder := &scriptedResponder{responses: []scriptedResponse{
			{statusCode: 200, body: `{"operationId":"op1","status":"assigned","registrationState":{"deviceId":"device1","assignedHub":"hub.azure-devices.net"}}`},
		}}
		c, cfn := newClient(responder)
		cancel = cfn

		result, err := c.Register(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RegistrationState).NotTo(BeNil())
		Expect(result.RegistrationState.AssignedHub).To(Equal("hub.azure-devices.net"))
	})

	It("completes after a single poll once the register response says assigning", func() {
		responder := &scriptedResponder{responses: []scriptedResponse{
			{statusCode: 202, body: `{"operationId":"op1","status":"assigning"}`},
			{statusCode: 200, body: `{"operationId":"op1","status":"assigned","registrationState":{"deviceId":"device1"}}`},
		}}
		c, cfn := newClient(responder)
		cancel = cfn

		result, err := c.Register(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RegistrationState.DeviceID).To(Equal("device1"))
	})

	It("retries the register request after a retry-after throttle", func() {
		retryAfter := "0"
		responder := &scriptedResponder{responses: []scriptedResponse{
			{statusCode: 429, retryAfter: &retryAfter, body: `{}`},
			{statusCode: 200, body: `{"operationId":"op1","status":"assigned","registrationState":{"deviceId":"device1"}}`},
		}}
		c, cfn := newClient(responder)
		cancel = cfn

		result, err := c.Register(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RegistrationState.DeviceID).To(Equal("device1"))
	})

	It("surfaces a terminal failed registration status as an error", func() {
		responder := &scriptedResponder{responses: []scriptedResponse{
			{statusCode: 200, body: `{"operationId":"op1","status":"failed"}`},
		}}
		c, cfn := newClient(responder)
		cancel = cfn

		_, err := c.Register(context.Background(), nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("failed registration status"))
	})

	It("times out while polling if the service never replies", func() {
		responder := &scriptedResponder{responses: []scriptedResponse{
			{statusCode: 202, body: `{"operationId":"op1","status":"assigning"}`},
		}}
		c, cfn := newClient(responder)
		cancel = cfn
		registration := c.Stage.(*registrationstage.Stage)
		registration.PollingStage.(*pollingstatusstage.Stage).TimeoutInterval = 5 * time.Millisecond
		registration.PollingStage.(*pollingstatusstage.Stage).Transport = neverResponds{}

		_, err := c.Register(context.Background(), nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("timed out"))
	})

	It("reports an invalid registration status as an error", func() {
		responder := &scriptedResponder{responses: []scriptedResponse{
			{statusCode: 200, body: `{"operationId":"op1","status":"unrecognized"}`},
		}}
		c, cfn := newClient(responder)
		cancel = cfn

		_, err := c.Register(context.Background(), nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid registration status"))
	})
})

type neverResponds struct{}

func (neverResponds) Do(ctx context.Context, op *pipeline.RequestAndResponseOperation) {}
