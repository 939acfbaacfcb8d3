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
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

const (
	projectTagValue = "oyster"
	managedByValue  = "marlin"

	amiNameX86 = "MarlinLauncherx86_64"
	amiNameARM = "MarlinLauncherARM64"
)

// amiSet holds the owner=self, tag:project=oyster AMI ids for each
// supported architecture, as findAMIs resolves them, matching
// original_source/src/aws.rs's get_amis.
type amiSet struct {
	x86 string
	arm string
}

func (c *Client) findAMIs(ctx context.Context) (amiSet, error) {
	var out *ec2.DescribeImagesOutput
	err := c.describeRetry(ctx, func() error {
		var innerErr error
		out, innerErr = c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners: []string{"self"},
			Filters: []ec2types.Filter{{
				Name:   aws.String("tag:project"),
				Values: []string{projectTagValue},
			}},
		})
		return innerErr
	})
	if err != nil {
		return amiSet{}, errors.Wrap(err, "awsec2: describe images")
	}

	var set amiSet
	for _, image := range out.Images {
		if image.Name == nil || image.ImageId == nil {
			continue
		}
		switch *image.Name {
		case amiNameX86:
			set.x86 = *image.ImageId
		case amiNameARM:
			set.arm = *image.ImageId
		}
	}
	if set.x86 == "" && set.arm == "" {
		return amiSet{}, errors.New("awsec2: no oyster-tagged AMIs found")
	}
	return set, nil
}

func (set amiSet) forArchitecture(architecture string) (string, error) {
	if architecture == "arm64" {
		if set.arm == "" {
			return "", errors.New("awsec2: no arm64 AMI available")
		}
		return set.arm, nil
	}
	if set.x86 == "" {
		return "", errors.New("awsec2: no x86_64 AMI available")
	}
	return set.x86, nil
}
