/*
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

// Package config parses the process-wide, set-once configuration described
// in spec.md §6, following the teacher's flag+env convention
// (cmd/controller/main.go) rather than a config-file format: every field
// here is either a CLI flag or a flag with an environment-variable default.
package config

import (
	"flag"
	"strings"

	"github.com/pkg/errors"
)

// Config is the full set of process-wide parameters. Every field is
// enumerated in spec.md §6; none are derived from ambient process state
// (spec.md §9 "Global user info" explicitly calls out the rates path must
// not be derived from the OS user).
type Config struct {
	Profile   string
	KeyName   string
	Regions   []string
	RPC       string
	Rates     string
	Bandwidth string
	Contract  string
	Provider  string

	Blacklist        string
	Whitelist        string
	AddressBlacklist string
	AddressWhitelist string

	MetricsAddr string
	HealthAddr  string
}

// Parse builds a Config from CLI flags, falling back to environment
// variables of the same name in upper snake case, matching
// env.WithDefaultString in the teacher.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("control-plane", flag.ContinueOnError)

	var cfg Config
	var regions string

	fs.StringVar(&cfg.Profile, "profile", WithDefaultString("PROFILE", ""), "cloud credentials profile name")
	fs.StringVar(&cfg.KeyName, "key-name", WithDefaultString("KEY_NAME", ""), "cloud SSH keypair name")
	fs.StringVar(&regions, "regions", WithDefaultString("REGIONS", ""), "comma-separated cloud regions")
	fs.StringVar(&cfg.RPC, "rpc", WithDefaultString("RPC", ""), "websocket URL of the chain RPC")
	fs.StringVar(&cfg.Rates, "rates", WithDefaultString("RATES", ""), "filesystem path to the rate-card file")
	fs.StringVar(&cfg.Bandwidth, "bandwidth", WithDefaultString("BANDWIDTH", ""), "filesystem path passed through to the provisioner")
	fs.StringVar(&cfg.Contract, "contract", WithDefaultString("CONTRACT", ""), "hex address of the marketplace contract")
	fs.StringVar(&cfg.Provider, "provider", WithDefaultString("PROVIDER", ""), "hex address of this provider")
	fs.StringVar(&cfg.Blacklist, "blacklist", WithDefaultString("BLACKLIST", ""), "image blacklist file")
	fs.StringVar(&cfg.Whitelist, "whitelist", WithDefaultString("WHITELIST", ""), "image whitelist file")
	fs.StringVar(&cfg.AddressBlacklist, "address-blacklist", WithDefaultString("ADDRESS_BLACKLIST", ""), "address blacklist file")
	fs.StringVar(&cfg.AddressWhitelist, "address-whitelist", WithDefaultString("ADDRESS_WHITELIST", ""), "address whitelist file")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", WithDefaultString("METRICS_ADDR", ":8080"), "address the metrics endpoint binds to")
	fs.StringVar(&cfg.HealthAddr, "health-addr", WithDefaultString("HEALTH_ADDR", ":8081"), "address the health endpoint binds to")

	if err := fs.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "config: parsing flags")
	}

	for _, r := range strings.Split(regions, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			cfg.Regions = append(cfg.Regions, r)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations missing a required field. Filesystem
// errors reading the files these paths point at are surfaced later, at
// load time, per spec.md §7 ("Filesystem error reading config files at
// startup: Exit process with non-zero status").
func (c Config) Validate() error {
	required := map[string]string{
		"key-name":  c.KeyName,
		"rpc":       c.RPC,
		"rates":     c.Rates,
		"bandwidth": c.Bandwidth,
		"contract":  c.Contract,
		"provider":  c.Provider,
	}
	for name, val := range required {
		if val == "" {
			return errors.Errorf("config: missing required flag --%s", name)
		}
	}
	if len(c.Regions) == 0 {
		return errors.New("config: at least one region is required")
	}
	return nil
}
