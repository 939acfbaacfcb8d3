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

package awsec2

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/require"

	"github.com/marlinprotocol/control-plane/internal/provisioner"
)

func TestNewRegionPoolRejectsEmpty(t *testing.T) {
	_, err := NewRegionPool(nil)
	require.Error(t, err)
}

func TestSpinUpRoundRobinsAcrossRegions(t *testing.T) {
	east, _, _ := newSpinUpReadyClient("us-east-1", "i-east")
	west, _, _ := newSpinUpReadyClient("us-west-2", "i-west")

	pool, err := NewRegionPool([]*Client{east, west})
	require.NoError(t, err)

	instance1, err := pool.SpinUp(context.Background(), provisioner.JobID{0x01}, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)
	require.Equal(t, provisioner.InstanceID("i-east"), instance1)

	instance2, err := pool.SpinUp(context.Background(), provisioner.JobID{0x02}, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)
	require.Equal(t, provisioner.InstanceID("i-west"), instance2)

	instance3, err := pool.SpinUp(context.Background(), provisioner.JobID{0x03}, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)
	require.Equal(t, provisioner.InstanceID("i-east"), instance3)
}

func TestFindInstanceUsesBoundRegionWithoutScanning(t *testing.T) {
	east, _, _ := newSpinUpReadyClient("us-east-1", "i-east")
	west, westAPI, _ := newSpinUpReadyClient("us-west-2", "i-west")

	pool, err := NewRegionPool([]*Client{east, west})
	require.NoError(t, err)

	job := provisioner.JobID{0x09}
	_, err = pool.SpinUp(context.Background(), job, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)

	found, instance, err := pool.FindInstance(context.Background(), job)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, provisioner.InstanceID("i-east"), instance)
	require.Zero(t, westAPI.describeInstancesCallCount, "bound region lookup must not touch the other region's client")
}

func TestFindInstanceScansUnknownJobAcrossRegions(t *testing.T) {
	east := newTestClient(&fakeEC2{describeInstancesOut: &ec2.DescribeInstancesOutput{}})
	east.region = "us-east-1"

	west := newTestClient(&fakeEC2{
		describeInstancesOut: &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{
				Instances: []ec2types.Instance{{InstanceId: aws.String("i-matched")}},
			}},
		},
	})
	west.region = "us-west-2"

	pool, err := NewRegionPool([]*Client{east, west})
	require.NoError(t, err)

	found, instance, err := pool.FindInstance(context.Background(), provisioner.JobID{0x05})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, provisioner.InstanceID("i-matched"), instance)
}

func TestSpinDownUsesBoundRegion(t *testing.T) {
	east, eastAPI, _ := newSpinUpReadyClient("us-east-1", "i-east")
	west, westAPI, _ := newSpinUpReadyClient("us-west-2", "i-west")

	pool, err := NewRegionPool([]*Client{east, west})
	require.NoError(t, err)

	job := provisioner.JobID{0x07}
	instance, err := pool.SpinUp(context.Background(), job, "http://x/enclave.eif", "c6a.xlarge")
	require.NoError(t, err)

	require.NoError(t, pool.SpinDown(context.Background(), instance))
	require.Equal(t, 1, eastAPI.terminateInstancesCalls)
	require.Zero(t, westAPI.terminateInstancesCalls, "spin-down must not reach the other region's client")
}

func TestSpinDownFallsBackToScanWhenUnbound(t *testing.T) {
	east := newTestClient(&fakeEC2{})
	east.region = "us-east-1"
	west := newTestClient(&fakeEC2{})
	west.region = "us-west-2"

	pool, err := NewRegionPool([]*Client{east, west})
	require.NoError(t, err)

	require.NoError(t, pool.SpinDown(context.Background(), "i-unknown"))
}
