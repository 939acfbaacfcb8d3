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
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/marlinprotocol/control-plane/internal/logging"
	"github.com/marlinprotocol/control-plane/internal/provisioner"
)

const (
	jobTagKey = "jobId"

	defaultInstanceType = "c6a.xlarge"
	defaultVCPUs        = int32(4)
	defaultMemMiB       = int64(8192)

	minVolumeGiB = 15
	sshPort      = ":22"
)

// FindInstance searches for a running VM tagged jobId==job, returning the
// first match and warning if more than one is found, per spec.md §4.B.
func (c *Client) FindInstance(ctx context.Context, job provisioner.JobID) (bool, provisioner.InstanceID, error) {
	jobTag := jobIDString(job)

	var out *ec2.DescribeInstancesOutput
	err := c.describeRetry(ctx, func() error {
		var innerErr error
		out, innerErr = c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:" + jobTagKey), Values: []string{jobTag}},
				{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
			},
		})
		return innerErr
	})
	if err != nil {
		return false, "", errors.Wrap(err, "awsec2: describe instances")
	}

	instances := lo.FlatMap(out.Reservations, func(r ec2types.Reservation, _ int) []ec2types.Instance { return r.Instances })
	matches := lo.FilterMap(instances, func(i ec2types.Instance, _ int) (string, bool) {
		if i.InstanceId == nil {
			return "", false
		}
		return *i.InstanceId, true
	})
	if len(matches) == 0 {
		return false, "", nil
	}
	if len(matches) > 1 {
		logging.FromContext(ctx).Warnw("multiple instances tagged for job, adopting first",
			"job", jobTag, "count", len(matches))
	}
	return true, provisioner.InstanceID(matches[0]), nil
}

// SpinUp provisions a VM of instanceType running the enclave image at
// imageURL, tagged for job. Matches original_source/src/aws.rs's spin_up:
// resolve instance-type shape, launch, wait for reachability, install the
// enclave over SSH.
func (c *Client) SpinUp(ctx context.Context, job provisioner.JobID, imageURL, instanceType string) (provisioner.InstanceID, error) {
	if instanceType == "" {
		instanceType = defaultInstanceType
	}

	arch, vCPUs, memMiB := c.describeInstanceTypeShape(ctx, instanceType)

	ami, err := c.findAMIs(ctx)
	if err != nil {
		return "", err
	}
	imageID, err := ami.forArchitecture(arch)
	if err != nil {
		return "", err
	}

	volumeSize := eifVolumeSizeGiB(c.headContentLength(ctx, imageURL))

	sgID, err := c.findSecurityGroup(ctx)
	if err != nil {
		return "", err
	}
	subnetID, err := c.findSubnet(ctx)
	if err != nil {
		return "", err
	}

	jobTag := jobIDString(job)
	out, err := c.api.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(imageID),
		InstanceType: ec2types.InstanceType(instanceType),
		KeyName:      aws.String(c.keyName),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		EnclaveOptions: &ec2types.EnclaveOptionsRequest{
			Enabled: aws.Bool(true),
		},
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs:        &ec2types.EbsBlockDevice{VolumeSize: aws.Int32(volumeSize)},
		}},
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: aws.String("Name"), Value: aws.String("JobRunner")},
				{Key: aws.String("managedBy"), Value: aws.String(managedByValue)},
				{Key: aws.String("project"), Value: aws.String(projectTagValue)},
				{Key: aws.String(jobTagKey), Value: aws.String(jobTag)},
			},
		}},
		SecurityGroupIds: []string{sgID},
		SubnetId:         aws.String(subnetID),
	})
	if err != nil {
		return "", errors.Wrap(err, "awsec2: run instances")
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", errors.New("awsec2: run instances returned no instance id")
	}
	instanceID := *out.Instances[0].InstanceId

	publicIP, err := c.waitForReachability(ctx, instanceID)
	if err != nil {
		return provisioner.InstanceID(instanceID), errors.Wrap(err, "awsec2: instance never became reachable")
	}

	bandwidthRates := c.readBandwidthRates(ctx)

	if err := c.enclave.Install(ctx, publicIP+sshPort, imageURL, vCPUs, memMiB, bandwidthRates); err != nil {
		return provisioner.InstanceID(instanceID), errors.Wrap(err, "awsec2: installing enclave")
	}

	return provisioner.InstanceID(instanceID), nil
}

// readBandwidthRates loads the configured bandwidth rate-card file, logging
// a warning and continuing without it on any error: a missing or unreadable
// bandwidth file should never block spinning up a job's instance.
func (c *Client) readBandwidthRates(ctx context.Context) []byte {
	if c.bandwidthRatesPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.bandwidthRatesPath)
	if err != nil {
		logging.FromContext(ctx).Warnw("reading bandwidth rates file failed, continuing without it",
			"path", c.bandwidthRatesPath, "error", err)
		return nil
	}
	return data
}

// SpinDown terminates instance. An InvalidInstanceID.NotFound API error is
// treated as success, matching spec.md §4.B ("404-equivalent is not an
// error") and the smithy.APIError code-matching idiom used in kwok/ec2/ec2.go.
func (c *Client) SpinDown(ctx context.Context, instance provisioner.InstanceID) error {
	_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{string(instance)},
	})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
		return nil
	}
	return errors.Wrap(err, "awsec2: terminate instances")
}

func (c *Client) describeInstanceTypeShape(ctx context.Context, instanceType string) (architecture string, vCPUs int32, memMiB int64) {
	architecture, vCPUs, memMiB = "x86_64", defaultVCPUs, defaultMemMiB

	var out *ec2.DescribeInstanceTypesOutput
	err := c.describeRetry(ctx, func() error {
		var innerErr error
		out, innerErr = c.api.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
			InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
		})
		return innerErr
	})
	if err != nil || len(out.InstanceTypes) == 0 {
		return architecture, vCPUs, memMiB
	}

	info := out.InstanceTypes[0]
	if info.ProcessorInfo != nil && len(info.ProcessorInfo.SupportedArchitectures) > 0 {
		architecture = string(info.ProcessorInfo.SupportedArchitectures[0])
	}
	if info.VCpuInfo != nil && info.VCpuInfo.DefaultVCpus != nil {
		vCPUs = *info.VCpuInfo.DefaultVCpus
	}
	if info.MemoryInfo != nil && info.MemoryInfo.SizeInMiB != nil {
		memMiB = *info.MemoryInfo.SizeInMiB
	}
	return architecture, vCPUs, memMiB
}

// eifVolumeSizeGiB implements spec.md §4.B's sizing rule:
// max(15, ceil(eif_bytes/1e9) + 10) GiB.
func eifVolumeSizeGiB(eifBytes int64) int32 {
	if eifBytes <= 0 {
		return minVolumeGiB
	}
	gib := (eifBytes + 1_000_000_000 - 1) / 1_000_000_000
	size := int32(gib) + 10
	if size < minVolumeGiB {
		return minVolumeGiB
	}
	return size
}

// headContentLength issues a HEAD request for imageURL to size the volume,
// defaulting to 0 (minVolumeGiB is then used) on any failure, matching
// original_source/src/aws.rs's launch_instance HEAD-request sizing logic.
func (c *Client) headContentLength(ctx context.Context, imageURL string) int64 {
	req, err := httpHeadRequest(ctx, imageURL)
	if err != nil {
		return 0
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	length := resp.Header.Get("Content-Length")
	n, err := strconv.ParseInt(length, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func jobIDString(job provisioner.JobID) string {
	return fmt.Sprintf("0x%x", job)
}
