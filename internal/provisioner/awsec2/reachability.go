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
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
)

// waitForReachability polls DescribeInstances until a public IP is
// assigned, replacing the original's flat `sleep(100s)` with a bounded
// poll loop (original_source/src/aws.rs's spin_up waits a fixed 100s before
// ever attempting SSH).
func (c *Client) waitForReachability(ctx context.Context, instanceID string) (string, error) {
	var publicIP string
	err := retry.Do(
		func() error {
			out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
				InstanceIds: []string{instanceID},
			})
			if err != nil {
				return err
			}
			for _, reservation := range out.Reservations {
				for _, instance := range reservation.Instances {
					if instance.PublicIpAddress != nil && *instance.PublicIpAddress != "" {
						publicIP = *instance.PublicIpAddress
						return nil
					}
				}
			}
			return errors.New("instance has no public IP yet")
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(5*time.Second),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return "", err
	}
	return publicIP, nil
}

func httpHeadRequest(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
}
