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

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/Azure/azure-iot-dps-go-client/internal/config"
	applogging "github.com/Azure/azure-iot-dps-go-client/internal/logging"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/client"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/httptransport"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/pollingstatusstage"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/pipeline/registrationstage"
	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/security"
)

func main() {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := applogging.NewLogger(opts.Development, opts.Verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.TimeoutInterval+30*time.Second)
	defer cancel()

	result, err := register(ctx, opts, logger)
	if err != nil {
		logger.Error(err, "registration failed")
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error(err, "failed to marshal result")
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func register(ctx context.Context, opts *config.Options, logger logr.Logger) (any, error) {
	executor := pipeline.NewExecutor()
	go executor.Run(ctx)

	secClient := &security.SymmetricKeySecurityClient{
		ProvisioningHost: opts.ProvisioningHost,
		RegistrationID:   opts.RegistrationID,
		IDScope:          opts.IDScope,
		TokenProvider:    sasTokenProviderFunc(sasTokenFunc(opts)),
	}
	connArgs, err := secClient.ToConnectionArgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("deriving connection args: %w", err)
	}

	transportClient := httptransport.NewClient(connArgs.ProvisioningHost, connArgs.IDScope, connArgs.RegistrationID,
		func(ctx context.Context) (string, error) { return connArgs.SASToken, nil })

	polling := &pollingstatusstage.Stage{
		Executor:        executor,
		Transport:       transportClient,
		TimeoutInterval: opts.TimeoutInterval,
		DefaultInterval: opts.PollingInterval,
		Logger:          logger,
	}
	registration := &registrationstage.Stage{
		Executor:        executor,
		Transport:       transportClient,
		PollingStage:    polling,
		TimeoutInterval: opts.TimeoutInterval,
		DefaultInterval: opts.PollingInterval,
		Logger:          logger,
	}

	c := &client.Client{
		RegistrationID: opts.RegistrationID,
		Stage:          registration,
		Executor:       executor,
		Logger:         logger,
	}

	return c.Register(ctx, nil)
}

// sasTokenProviderFunc adapts a bare token-generating func to
// security.SASTokenProvider.
type sasTokenProviderFunc func(ctx context.Context) (string, error)

func (f sasTokenProviderFunc) GetSASToken(ctx context.Context) (string, error) { return f(ctx) }

// sasTokenFunc builds a DPS-flavored SAS token generator from the
// configured symmetric key, following the standard IoT Hub/DPS
// sr/sig/se token shape.
func sasTokenFunc(opts *config.Options) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		key, err := base64.StdEncoding.DecodeString(opts.SymmetricKey)
		if err != nil {
			return "", fmt.Errorf("symmetric key is not valid base64: %w", err)
		}

		resourceURI := fmt.Sprintf("%s/registrations/%s", opts.IDScope, opts.RegistrationID)
		expiry := time.Now().Add(time.Hour).Unix()
		signatureString := fmt.Sprintf("%s\n%d", url.QueryEscape(resourceURI), expiry)

		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(signatureString))
		signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d",
			url.QueryEscape(resourceURI), url.QueryEscape(signature), expiry)
		return token, nil
	}
}
