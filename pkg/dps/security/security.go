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

// Package security adapts the two security-credential shapes spec.md §4.7
// names — symmetric key and X.509 — into connection args the registration
// pipeline can use. This is peripheral to the core state machine; it exists
// for completeness, the way UseSecurityClientStage exists in the source
// this is modeled on.
package security

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// ConnectionArgs is the synthesized result of adapting a security client:
// the equivalent of SetProvisioningClientConnectionArgsOperation in spec.md
// §4.7, flattened into a plain value since this module has no separate
// "connection args" pipeline stage to spawn it into.
type ConnectionArgs struct {
	ProvisioningHost string
	RegistrationID   string
	IDScope          string

	// Exactly one of SASToken or ClientCert is set.
	SASToken   string
	ClientCert *tls.Certificate
}

// SASTokenProvider plays the role azcore.TokenCredential plays for AAD
// clients, but returns a plain SAS token string from GetSASToken rather than
// an azcore.AccessToken from GetToken: DPS symmetric-key auth is a SAS token,
// not an OAuth token, so neither azcore's credential interface nor
// azidentity is used here (see DESIGN.md for why azidentity has no real home
// in this module).
type SASTokenProvider interface {
	GetSASToken(ctx context.Context) (string, error)
}

// SymmetricKeySecurityClient adapts a symmetric-key device identity into
// ConnectionArgs.
type SymmetricKeySecurityClient struct {
	ProvisioningHost string
	RegistrationID   string
	IDScope          string
	TokenProvider    SASTokenProvider
}

// ToConnectionArgs synthesizes ConnectionArgs the way
// UseSecurityClientStage._run_op does for
// SetSymmetricKeySecurityClientOperation in spec.md §4.7.
func (c *SymmetricKeySecurityClient) ToConnectionArgs(ctx context.Context) (ConnectionArgs, error) {
	token, err := c.TokenProvider.GetSASToken(ctx)
	if err != nil {
		return ConnectionArgs{}, err
	}
	return ConnectionArgs{
		ProvisioningHost: c.ProvisioningHost,
		RegistrationID:   c.RegistrationID,
		IDScope:          c.IDScope,
		SASToken:         token,
	}, nil
}

// X509SecurityClient adapts an X.509 device identity into ConnectionArgs.
type X509SecurityClient struct {
	ProvisioningHost string
	RegistrationID   string
	IDScope          string
	Certificate      *tls.Certificate
}

// ToConnectionArgs synthesizes ConnectionArgs for
// SetX509SecurityClientOperation in spec.md §4.7.
func (c *X509SecurityClient) ToConnectionArgs() ConnectionArgs {
	return ConnectionArgs{
		ProvisioningHost: c.ProvisioningHost,
		RegistrationID:   c.RegistrationID,
		IDScope:          c.IDScope,
		ClientCert:       c.Certificate,
	}
}

// SASTokenPolicy is an azcore/policy.Policy that stamps every outgoing
// request with the device's DPS SAS token, adapted from the teacher's
// AuxiliaryTokenPolicy (pkg/auth/policy.go), which does the identical thing
// for an auxiliary AAD token against shared image galleries. Installed as a
// per-call policy on httptransport.Client's runtime.Pipeline rather than
// set header-by-header in the request builder.
type SASTokenPolicy struct {
	TokenFunc func(ctx context.Context) (string, error)
}

func (p SASTokenPolicy) Do(req *policy.Request) (*http.Response, error) {
	token, err := p.TokenFunc(req.Raw().Context())
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set("Authorization", token)
	return req.Next()
}
