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

// Package config hand-rolls a flag.FlagSet-based Options loader, the same
// shape the teacher uses for its own operator options rather than reaching
// for a config/flags library.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/Azure/azure-iot-dps-go-client/pkg/dps/constant"
)

// Options holds every knob the provisioning client CLI and the library's
// default wiring need.
type Options struct {
	ProvisioningHost string
	IDScope          string
	RegistrationID   string
	SymmetricKey     string

	TimeoutInterval time.Duration
	PollingInterval time.Duration

	Development bool
	Verbosity   int
}

// AddFlags registers every Options field onto fs, following the teacher's
// pkg/operator/options/options.go pattern of direct flag.StringVar /
// flag.DurationVar calls rather than struct tags or a builder.
func (o *Options) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.ProvisioningHost, "provisioning-host", "global.azure-devices-provisioning.net", "DPS global provisioning endpoint")
	fs.StringVar(&o.IDScope, "id-scope", "", "DPS ID scope for the target provisioning service instance")
	fs.StringVar(&o.RegistrationID, "registration-id", "", "device registration id")
	fs.StringVar(&o.SymmetricKey, "symmetric-key", "", "base64-encoded symmetric key used to sign SAS tokens")

	fs.DurationVar(&o.TimeoutInterval, "timeout-interval", constant.DefaultTimeoutInterval, "per-operation timeout before a Register/PollStatus operation is failed")
	fs.DurationVar(&o.PollingInterval, "polling-interval", constant.DefaultPollingInterval, "default interval used between polling attempts absent a server-provided retry-after")

	fs.BoolVar(&o.Development, "development", false, "use zap's development logging config (console-friendly, unsampled)")
	fs.IntVar(&o.Verbosity, "verbosity", 0, "log verbosity; 1 enables per-operation debug logging")
}

// Validate checks the options that have no usable default.
func (o *Options) Validate() error {
	if o.IDScope == "" {
		return fmt.Errorf("id-scope is required")
	}
	if o.RegistrationID == "" {
		return fmt.Errorf("registration-id is required")
	}
	if o.SymmetricKey == "" {
		return fmt.Errorf("symmetric-key is required")
	}
	return nil
}

// ParseOptions builds a FlagSet, registers Options onto it, and parses args
// (typically os.Args[1:]).
func ParseOptions(args []string) (*Options, error) {
	o := &Options{}
	fs := flag.NewFlagSet("provisioning-client", flag.ContinueOnError)
	o.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
