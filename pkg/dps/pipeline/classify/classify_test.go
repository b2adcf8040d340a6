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

package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/constant"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/dpserrors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		requestType constant.RequestType
		transportErr error
		wantNil     bool
		wantService bool
	}{
		{
			name:         "transport error always wins",
			statusCode:   200,
			requestType:  constant.Register,
			transportErr: errors.New("connection reset"),
			wantNil:      false,
		},
		{
			name:       "200 is not an error",
			statusCode: 200,
			wantNil:    true,
		},
		{
			name:       "202 is not an error",
			statusCode: 202,
			wantNil:    true,
		},
		{
			name:        "300 is a service error",
			statusCode:  300,
			wantNil:     false,
			wantService: true,
		},
		{
			name:        "404 is a service error",
			statusCode:  404,
			wantNil:     false,
			wantService: true,
		},
		{
			name:        "428 is still a service error",
			statusCode:  428,
			wantNil:     false,
			wantService: true,
		},
		{
			name:       "429 is a throttle signal, not an error",
			statusCode: 429,
			wantNil:    true,
		},
		{
			name:       "500 is also treated as a throttle-shaped non-error per spec boundary",
			statusCode: 500,
			wantNil:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.statusCode, tt.requestType, tt.transportErr)
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.wantService {
				var svcErr *dpserrors.ServiceError
				assert.ErrorAs(t, err, &svcErr)
			}
		})
	}
}
