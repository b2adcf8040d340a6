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

// Package transport names the boundary the registration and polling-status
// stages send RequestAndResponseOperations across. The transport binding
// itself — how the request actually reaches the provisioning service — is
// out of scope for this module (spec.md §1); this package only names the
// contract, and pipeline/httptransport provides one concrete binding so the
// module runs end to end.
package transport

import (
	"context"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
)

// RequestResponder sends a RequestAndResponseOperation to the service and
// fills in its StatusCode, RetryAfter, and ResponseBody fields, or reports a
// transport-level error. It must call op.Complete exactly once.
type RequestResponder interface {
	Do(ctx context.Context, op *pipeline.RequestAndResponseOperation)
}

// SendOpDown hands op to responder, matching the send_op_down contract
// named in spec.md §6: a stage never inspects the result synchronously, it
// relies on op's own completion callback.
func SendOpDown(ctx context.Context, responder RequestResponder, op *pipeline.RequestAndResponseOperation) {
	responder.Do(ctx, op)
}
