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

// Package classify turns a transport error and status code into either a
// terminal ServiceError or a nil, meaning "inspect the body, this wasn't an
// error at the transport layer".
package classify

import (
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/constant"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/dpserrors"
)

// Classify implements the error taxonomy boundary between transport,
// terminal service errors, and the 429-class throttling signal.
//
// Status codes >= 429 are intentionally NOT classified as errors here: the
// service uses them (and, in this simplified model, conceptually 5xx >= 429
// too) to mean "retry after the indicated interval", which callers handle
// as a protocol signal rather than a failure.
func Classify(statusCode int, requestType constant.RequestType, transportErr error) error {
	if transportErr != nil {
		return transportErr
	}
	if statusCode >= 300 && statusCode < 429 {
		return dpserrors.NewServiceError(
			"%s request returned a service error status code %d", requestType, statusCode,
		)
	}
	return nil
}
