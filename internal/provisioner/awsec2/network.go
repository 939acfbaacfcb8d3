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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/pkg/errors"
)

var oysterTagFilter = []ec2types.Filter{{
	Name:   aws.String("tag:project"),
	Values: []string{projectTagValue},
}}

// findSecurityGroup returns the first security group tagged project=oyster,
// matching original_source/src/aws.rs's get_security_group.
func (c *Client) findSecurityGroup(ctx context.Context) (string, error) {
	var out *ec2.DescribeSecurityGroupsOutput
	err := c.describeRetry(ctx, func() error {
		var innerErr error
		out, innerErr = c.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: oysterTagFilter})
		return innerErr
	})
	if err != nil {
		return "", errors.Wrap(err, "awsec2: describe security groups")
	}
	if len(out.SecurityGroups) == 0 {
		return "", errors.New("awsec2: no oyster-tagged security group found")
	}
	return aws.ToString(out.SecurityGroups[0].GroupId), nil
}

// findSubnet returns the first subnet tagged project=oyster, matching
// original_source/src/aws.rs's get_subnet.
func (c *Client) findSubnet(ctx context.Context) (string, error) {
	var out *ec2.DescribeSubnetsOutput
	err := c.describeRetry(ctx, func() error {
		var innerErr error
		out, innerErr = c.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: oysterTagFilter})
		return innerErr
	})
	if err != nil {
		return "", errors.Wrap(err, "awsec2: describe subnets")
	}
	if len(out.Subnets) == 0 {
		return "", errors.New("awsec2: no oyster-tagged subnet found")
	}
	return aws.ToString(out.Subnets[0].SubnetId), nil
}
