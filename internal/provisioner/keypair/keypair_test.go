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

package keypair

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	describeOut *ec2.DescribeKeyPairsOutput
	describeErr error

	createOut *ec2.CreateKeyPairOutput
	createErr error

	createCalls int
}

func (f *fakeEC2) DescribeKeyPairs(context.Context, *ec2.DescribeKeyPairsInput, ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error) {
	return f.describeOut, f.describeErr
}

func (f *fakeEC2) CreateKeyPair(context.Context, *ec2.CreateKeyPairInput, ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error) {
	f.createCalls++
	return f.createOut, f.createErr
}

func TestEnsureCreatesWhenNeitherExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	api := &fakeEC2{
		describeOut: &ec2.DescribeKeyPairsOutput{},
		createOut:   &ec2.CreateKeyPairOutput{KeyMaterial: strPtr("-----BEGIN KEY-----")},
	}

	err := Ensure(context.Background(), api, "job-runner", path)
	require.NoError(t, err)
	require.Equal(t, 1, api.createCalls)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "-----BEGIN KEY-----", string(contents))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o400), info.Mode().Perm())
}

func TestEnsureNoopWhenBothExist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o400))

	api := &fakeEC2{
		describeOut: &ec2.DescribeKeyPairsOutput{
			KeyPairs: []ec2types.KeyPairInfo{{KeyName: strPtr("job-runner")}},
		},
	}

	err := Ensure(context.Background(), api, "job-runner", path)
	require.NoError(t, err)
	require.Equal(t, 0, api.createCalls)
}

func TestEnsureRefusesHalfPresentKeyPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o400))

	api := &fakeEC2{describeOut: &ec2.DescribeKeyPairsOutput{}}

	err := Ensure(context.Background(), api, "job-runner", path)
	require.Error(t, err)
	require.Equal(t, 0, api.createCalls)
}

func TestEnsureRefusesWhenOnlyAWSSideExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")

	api := &fakeEC2{
		describeOut: &ec2.DescribeKeyPairsOutput{
			KeyPairs: []ec2types.KeyPairInfo{{KeyName: strPtr("job-runner")}},
		},
	}

	err := Ensure(context.Background(), api, "job-runner", path)
	require.Error(t, err)
}

func TestEnsureTreatsDescribeErrorAsNotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	api := &fakeEC2{
		describeErr: errNotFound{},
		createOut:   &ec2.CreateKeyPairOutput{KeyMaterial: strPtr("material")},
	}

	err := Ensure(context.Background(), api, "job-runner", path)
	require.NoError(t, err)
	require.Equal(t, 1, api.createCalls)
}

type errNotFound struct{}

func (errNotFound) Error() string { return "InvalidKeyPair.NotFound" }

func strPtr(s string) *string { return &s }
