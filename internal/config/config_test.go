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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validArgs() []string {
	return []string{
		"--key-name=my-key",
		"--regions=us-east-1,us-west-2",
		"--rpc=wss://example.invalid",
		"--rates=/tmp/rates.json",
		"--bandwidth=/tmp/bandwidth.json",
		"--contract=0x0000000000000000000000000000000000000001",
		"--provider=0x0000000000000000000000000000000000000002",
	}
}

func TestParseValidArgsPopulatesRegionsAndDefaults(t *testing.T) {
	cfg, err := Parse(validArgs())
	require.NoError(t, err)
	require.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Regions)
	require.Equal(t, ":8080", cfg.MetricsAddr)
	require.Equal(t, ":8081", cfg.HealthAddr)
}

func TestParseMissingRequiredFlagFails(t *testing.T) {
	args := []string{
		"--regions=us-east-1",
		"--rpc=wss://example.invalid",
		"--rates=/tmp/rates.json",
		"--contract=0x0000000000000000000000000000000000000001",
		"--provider=0x0000000000000000000000000000000000000002",
	}
	_, err := Parse(args)
	require.Error(t, err)
}

func TestParseNoRegionsFails(t *testing.T) {
	args := []string{
		"--key-name=my-key",
		"--rpc=wss://example.invalid",
		"--rates=/tmp/rates.json",
		"--bandwidth=/tmp/bandwidth.json",
		"--contract=0x0000000000000000000000000000000000000001",
		"--provider=0x0000000000000000000000000000000000000002",
	}
	_, err := Parse(args)
	require.Error(t, err)
}

func TestParseTrimsWhitespaceInRegions(t *testing.T) {
	args := []string{
		"--key-name=my-key",
		"--regions= us-east-1 , us-west-2 ",
		"--rpc=wss://example.invalid",
		"--rates=/tmp/rates.json",
		"--bandwidth=/tmp/bandwidth.json",
		"--contract=0x0000000000000000000000000000000000000001",
		"--provider=0x0000000000000000000000000000000000000002",
	}
	cfg, err := Parse(args)
	require.NoError(t, err)
	require.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Regions)
}

func TestWithDefaultStringFallsBackWhenUnset(t *testing.T) {
	t.Setenv("CONTROL_PLANE_TEST_UNSET_VAR", "")
	require.Equal(t, "fallback", WithDefaultString("CONTROL_PLANE_TEST_DEFINITELY_UNSET", "fallback"))
}

func TestWithDefaultStringUsesEnv(t *testing.T) {
	t.Setenv("CONTROL_PLANE_TEST_VAR", "from-env")
	require.Equal(t, "from-env", WithDefaultString("CONTROL_PLANE_TEST_VAR", "fallback"))
}
