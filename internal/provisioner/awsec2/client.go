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

// Package awsec2 is the real Provisioner, backed by EC2. It is grounded on
// pkg/aws/awsclient.go's thin *ec2.Client wrapper shape and on
// original_source/src/aws.rs's AMI/subnet/security-group discovery and
// RunInstances/TerminateInstances calls.
package awsec2

import (
	"context"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/marlinprotocol/control-plane/internal/provisioner"
)

// EC2API is the subset of *ec2.Client this package calls, to keep the
// describe/run/terminate surface testable without a live AWS account —
// mirrors pkg/aws/awsclient.go's AWSClient wrapper style.
type EC2API interface {
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, opts ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeInstanceTypes(ctx context.Context, in *ec2.DescribeInstanceTypesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, opts ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeKeyPairs(ctx context.Context, in *ec2.DescribeKeyPairsInput, opts ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, opts ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
}

// EnclaveInstaller performs the SSH-based enclave install described in
// spec.md §4.B once a VM is reachable. internal/provisioner/enclave.Installer
// implements this in production. bandwidthRates is the raw contents of the
// operator-supplied bandwidth rate-card file (spec.md §6 "bandwidth"),
// passed through unparsed for the provisioned VM to consult; nil when no
// bandwidth file was configured.
type EnclaveInstaller interface {
	Install(ctx context.Context, publicIP, imageURL string, vCPUs int32, memMiB int64, bandwidthRates []byte) error
}

// Client is the real, EC2-backed Provisioner, bound to a single cloud
// region. Multi-region deployments compose several Clients behind a
// RegionPool.
type Client struct {
	api        EC2API
	http       *http.Client
	enclave    EnclaveInstaller
	keyName    string
	keyLocPath string
	region     string

	// bandwidthRatesPath is spec.md §6's "bandwidth" config field: a
	// filesystem path passed through to the Provisioner unparsed and
	// uploaded to every instance it spins up.
	bandwidthRatesPath string

	// describeRetryAttempts bounds the bounded-retry wrapper around
	// read-only describe calls (AWS throttling resilience); spin_up/
	// spin_down are never auto-retried, per spec.md §7.
	describeRetryAttempts uint
}

var _ provisioner.Provisioner = (*Client)(nil)

// Option customizes Client construction.
type Option func(*Client)

// WithDescribeRetryAttempts overrides the default bounded retry count used
// for read-only describe calls.
func WithDescribeRetryAttempts(n uint) Option {
	return func(c *Client) { c.describeRetryAttempts = n }
}

// New builds a Client for the given region using the named cloud
// credentials profile, matching original_source/src/aws.rs's Aws::new
// (ProfileFileCredentialsProvider). bandwidthRatesPath is spec.md §6's
// "bandwidth" field, forwarded unparsed to every SpinUp's enclave install.
func New(ctx context.Context, profile, region, keyName, keyLocPath, bandwidthRatesPath string, enclave EnclaveInstaller, opts ...Option) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedConfigProfile(profile),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, errors.Wrap(err, "awsec2: loading AWS config")
	}

	c := &Client{
		api:                   ec2.NewFromConfig(cfg),
		http:                  &http.Client{Timeout: 30 * time.Second},
		enclave:               enclave,
		keyName:               keyName,
		keyLocPath:            keyLocPath,
		region:                region,
		bandwidthRatesPath:    bandwidthRatesPath,
		describeRetryAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// API exposes the underlying EC2API, so the supervisor can reuse this
// Client's credentials for keypair provisioning (internal/provisioner/
// keypair) instead of loading AWS config a second time.
func (c *Client) API() EC2API {
	return c.api
}

// Region reports the cloud region this Client is bound to.
func (c *Client) Region() string {
	return c.region
}

func (c *Client) describeRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.describeRetryAttempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
}
