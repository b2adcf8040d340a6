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

// Package httptransport is a concrete binding of the transport.RequestResponder
// contract over the DPS REST surface. The registration protocol itself
// (spec.md) treats transport as an external collaborator; this package
// exists so the module is runnable end to end, built the same way the
// teacher layers a custom azcore/policy.Policy onto net/http (see
// pkg/auth/policy.go) rather than inventing a bespoke retry client.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/security"
)

const apiVersion = "2021-06-01"

// Client sends RequestAndResponseOperations over HTTPS to a DPS global
// endpoint, the way runtime.Pipeline-based Azure SDK clients do: a fixed
// retry policy for transport-level failures, with the 429/"assigning"
// protocol retries always staying in the calling stage, never here.
//
// A Client is scoped to a single device registration id, matching the
// spec's non-goal of "no concurrent multi-device registration in a single
// pipeline" — the registration id a RegisterOperation carries (spec.md §3)
// is known here at construction time rather than threaded through
// RequestAndResponseOperation, which spec.md §3 defines without it.
type Client struct {
	Host           string // e.g. "global.azure-devices-provisioning.net"
	IDScope        string
	RegistrationID string
	SASTokenAuth   func(ctx context.Context) (string, error)
	pipeline       runtime.Pipeline
}

var _ interface {
	Do(ctx context.Context, op *pipeline.RequestAndResponseOperation)
} = (*Client)(nil)

// NewClient builds an httptransport.Client backed by azcore's retryable
// pipeline, with one retry policy tuned for transport/5xx failures only.
func NewClient(host, idScope, registrationID string, sasTokenAuth func(ctx context.Context) (string, error)) *Client {
	return &Client{
		Host:           host,
		IDScope:        idScope,
		RegistrationID: registrationID,
		SASTokenAuth:   sasTokenAuth,
		pipeline: runtime.NewPipeline("azure-iot-dps-go-client", "v1", runtime.PipelineOptions{
			PerCall: []policy.Policy{security.SASTokenPolicy{TokenFunc: sasTokenAuth}},
		}, &policy.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: 3,
				// Listed explicitly: azcore's default set also includes 408
				// and 429, and 429 must reach the stages unretried.
				StatusCodes: []int{
					http.StatusInternalServerError,
					http.StatusBadGateway,
					http.StatusServiceUnavailable,
					http.StatusGatewayTimeout,
				},
			},
		}),
	}
}

// Do implements transport.RequestResponder. It is called from the pipeline
// thread (the stage's entry runs there), so the actual round trip runs on
// its own goroutine and Do returns immediately: op.Complete's callback
// already posts back onto the pipeline thread (see registrationstage's and
// pollingstatusstage's entry), so completing op from here is safe, the same
// non-blocking discipline timerset.Handle.Arm follows by firing on its own
// timer goroutine rather than the pipeline thread.
func (c *Client) Do(ctx context.Context, op *pipeline.RequestAndResponseOperation) {
	go c.do(ctx, op)
}

func (c *Client) do(ctx context.Context, op *pipeline.RequestAndResponseOperation) {
	req, err := c.buildRequest(ctx, op)
	if err != nil {
		op.Complete(fmt.Errorf("failed to build %s request: %w", op.RequestType, err))
		return
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		op.Complete(fmt.Errorf("transport error sending %s request: %w", op.RequestType, err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		op.Complete(fmt.Errorf("failed to read %s response body: %w", op.RequestType, err))
		return
	}

	op.StatusCode = resp.StatusCode
	op.ResponseBody = body
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		op.RetryAfter = &ra
	}

	op.Complete(nil)
}

func (c *Client) buildRequest(ctx context.Context, op *pipeline.RequestAndResponseOperation) (*policy.Request, error) {
	var resourcePath string
	switch op.RequestType {
	case "register":
		resourcePath = fmt.Sprintf("/%s/registrations/%s/register", c.IDScope, c.RegistrationID)
	case "query":
		resourcePath = fmt.Sprintf("/%s/registrations/%s/operations/%s", c.IDScope, c.RegistrationID, op.QueryParams["operation_id"])
	default:
		return nil, fmt.Errorf("unsupported request type %q", op.RequestType)
	}

	u := url.URL{
		Scheme: "https",
		Host:   c.Host,
		Path:   resourcePath,
	}
	q := u.Query()
	q.Set("api-version", apiVersion)
	u.RawQuery = q.Encode()

	req, err := runtime.NewRequest(ctx, op.Method, u.String())
	if err != nil {
		return nil, err
	}

	if len(op.RequestBody) > 0 {
		if err := req.SetBody(streaming.NopCloser(bytes.NewReader(op.RequestBody)), "application/json"); err != nil {
			return nil, err
		}
	}

	return req, nil
}

