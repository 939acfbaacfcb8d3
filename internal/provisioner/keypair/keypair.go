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

// Package keypair ensures the EC2 key pair used to SSH into provisioned
// instances exists, grounded on original_source/src/aws.rs's key_setup/
// create_key_pair/check_key_pair.
package keypair

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/pkg/errors"
)

// EC2API is the subset of *ec2.Client this package calls.
type EC2API interface {
	DescribeKeyPairs(ctx context.Context, in *ec2.DescribeKeyPairsInput, opts ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, opts ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
}

// Ensure makes sure a key pair named keyName exists in the account and its
// private key material is present at keyLocPath, creating both if neither
// exists. It errors if only one of the two is present, matching the
// original's refusal to silently proceed with a half-present key pair.
func Ensure(ctx context.Context, api EC2API, keyName, keyLocPath string) error {
	keyExists, err := describeKeyPair(ctx, api, keyName)
	if err != nil {
		return errors.Wrap(err, "keypair: describe key pairs")
	}

	_, statErr := os.Stat(keyLocPath)
	fileExists := statErr == nil

	switch {
	case !keyExists && !fileExists:
		return createKeyPair(ctx, api, keyName, keyLocPath)
	case keyExists && fileExists:
		return nil
	default:
		return errors.Errorf("keypair: %s exists in AWS=%t but pem file exists=%t, refusing to proceed", keyName, keyExists, fileExists)
	}
}

func describeKeyPair(ctx context.Context, api EC2API, keyName string) (bool, error) {
	out, err := api.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{keyName},
	})
	if err != nil {
		// DescribeKeyPairs errors (including InvalidKeyPair.NotFound) are
		// treated as "does not exist", matching check_key_pair's Err arm.
		return false, nil
	}
	return len(out.KeyPairs) > 0, nil
}

func createKeyPair(ctx context.Context, api EC2API, keyName, keyLocPath string) error {
	out, err := api.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: &keyName,
		KeyType: ec2types.KeyTypeEd25519,
	})
	if err != nil {
		return errors.Wrap(err, "keypair: create key pair")
	}
	if out.KeyMaterial == nil {
		return errors.New("keypair: create key pair returned no key material")
	}

	if err := os.WriteFile(keyLocPath, []byte(*out.KeyMaterial), 0o400); err != nil {
		return errors.Wrapf(err, "keypair: writing private key to %s", keyLocPath)
	}
	return nil
}
