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

// Package decode turns a DPS response body into a Decoded tree and, from
// there, into a model.RegistrationResult. It never fails on a missing key —
// only on a body that isn't valid JSON, or isn't a JSON object at the top
// level, or has a "status" field that isn't a string.
package decode

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/dpserrors"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/model"
)

// Decoded is the parsed response body, keyed by the service's field names.
type Decoded map[string]any

// Decode parses a UTF-8 JSON response body into a Decoded tree.
func Decode(body []byte) (Decoded, error) {
	var tree map[string]any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, dpserrors.NewMalformedResponseError(err, "response body is not a JSON object")
	}
	if tree == nil {
		return nil, dpserrors.NewMalformedResponseError(nil, "response body is not a JSON object")
	}
	return Decoded(tree), nil
}

// GetOptional returns the value at key, or (nil, false) if it is absent.
// It never errors on a missing key.
func (d Decoded) GetOptional(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

// getOptionalString returns the string at key, or ("", false) if the key is
// absent or its value is not a string; the two cases are not told apart.
// RegistrationStatus, which must reject a wrong-typed value, does its own
// lookup instead.
func (d Decoded) getOptionalString(key string) (string, bool) {
	v, ok := d.GetOptional(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return s, true
}

// OperationID extracts the "operationId" field, or "" if absent or of the
// wrong type — downstream treats a missing operation id as informational,
// not an error.
func (d Decoded) OperationID() string {
	s, _ := d.getOptionalString("operationId")
	return s
}

// RegistrationStatus extracts the "status" field. Unlike OperationID, a
// present-but-non-string status is a protocol violation.
func (d Decoded) RegistrationStatus() (string, error) {
	v, ok := d.GetOptional("status")
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", dpserrors.NewMalformedResponseError(nil, "status field %v is not a string", v)
	}
	return s, nil
}

// BuildResult assembles a RegistrationResult from the decoded body and the
// registration status that was already extracted from it. It reads the
// (optional) "registrationState" sub-object directly, not through an
// accidental one-element-tuple indirection — see DESIGN.md for why the
// source this is modeled on did that and why it isn't reproduced here.
func BuildResult(operationID string, decoded Decoded, status string) model.RegistrationResult {
	var state *model.RegistrationState

	if raw, ok := decoded.GetOptional("registrationState"); ok {
		if sub, ok := raw.(map[string]any); ok {
			subDecoded := Decoded(sub)
			deviceID, _ := subDecoded.getOptionalString("deviceId")
			assignedHub, _ := subDecoded.getOptionalString("assignedHub")
			subStatus, _ := subDecoded.getOptionalString("substatus")
			createdDateTime, _ := subDecoded.getOptionalString("createdDateTimeUtc")
			lastUpdateDateTime, _ := subDecoded.getOptionalString("lastUpdatedDateTimeUtc")
			etag, _ := subDecoded.getOptionalString("etag")
			payload, _ := subDecoded.GetOptional("payload")

			state = lo.ToPtr(model.RegistrationState{
				DeviceID:            deviceID,
				AssignedHub:         assignedHub,
				SubStatus:           subStatus,
				CreatedDateTime:     createdDateTime,
				LastUpdateDateTime:  lastUpdateDateTime,
				ETag:                etag,
				Payload:             payload,
			})
		}
	}

	return model.RegistrationResult{
		OperationID:       operationID,
		Status:            status,
		RegistrationState: state,
	}
}

// DeviceRegistrationPayload is the canonical JSON body sent for the initial
// PUT register request. Field names match the exact casing the service
// requires.
type DeviceRegistrationPayload struct {
	RegistrationID string `json:"registrationId"`
	Payload        any    `json:"payload,omitempty"`
}

// JSON serializes the payload with sorted keys, matching the service's
// expectations for request body canonicalization.
func (p DeviceRegistrationPayload) JSON() ([]byte, error) {
	// encoding/json sorts struct fields in declaration order, not
	// alphabetically; go through a map so the key order matches the
	// "sort_keys=True" behavior this is modeled on.
	asMap := map[string]any{"registrationId": p.RegistrationID}
	if p.Payload != nil {
		asMap["payload"] = p.Payload
	}
	b, err := json.Marshal(asMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration payload: %w", err)
	}
	return b, nil
}
