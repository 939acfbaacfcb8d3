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

package fake

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/marlinprotocol/control-plane/internal/provisioner"
)

func TestFindInstanceMissWhenNeverSpunUp(t *testing.T) {
	p := New()
	exists, _, err := p.FindInstance(context.Background(), provisioner.JobID{1})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSpinUpThenFindInstance(t *testing.T) {
	p := New()
	job := provisioner.JobID{2}

	instance, err := p.SpinUp(context.Background(), job, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)
	require.NotEmpty(t, instance)

	exists, found, err := p.FindInstance(context.Background(), job)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, instance, found)
}

func TestSpinDownRemovesLiveness(t *testing.T) {
	p := New()
	job := provisioner.JobID{3}

	instance, err := p.SpinUp(context.Background(), job, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)
	require.True(t, p.IsLive(instance))

	require.NoError(t, p.SpinDown(context.Background(), instance))
	require.False(t, p.IsLive(instance))

	exists, _, err := p.FindInstance(context.Background(), job)
	require.NoError(t, err)
	require.False(t, exists, "a spun-down instance must not be found")
}

func TestSpinUpErrInjection(t *testing.T) {
	p := New()
	p.SpinUpErr = errors.New("injected spin up failure")

	_, err := p.SpinUp(context.Background(), provisioner.JobID{4}, "http://x/enclave.eif", "c6a.xlarge")
	require.Error(t, err)
	require.Equal(t, 1, p.SpinUpCalls)
}
