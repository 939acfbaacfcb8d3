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

// Package provisioner declares the capability interface spec.md §4.B
// describes: idempotent cloud-resource operations over a job's VM. Real
// implementations live in provisioner/awsec2; tests use provisioner/fake.
package provisioner

import "context"

// JobID identifies a job in the marketplace contract's address space. The
// provisioner never interprets it beyond using it as an opaque tag value.
type JobID [32]byte

// InstanceID identifies a cloud VM. Opaque outside this package and its
// implementations.
type InstanceID string

// Provisioner is the capability set spec.md §4.B requires: find, spin up,
// spin down, all idempotent, all safe to call concurrently across distinct
// JobIDs from many job manager goroutines.
type Provisioner interface {
	// FindInstance searches for any running VM tagged for job. If more than
	// one match exists, implementations must log a warning and return the
	// first.
	FindInstance(ctx context.Context, job JobID) (exists bool, instance InstanceID, err error)

	// SpinUp provisions a VM of instanceType running the enclave image at
	// imageURL, tagged for job, and returns its InstanceID once the
	// enclave has been launched.
	SpinUp(ctx context.Context, job JobID, imageURL, instanceType string) (InstanceID, error)

	// SpinDown terminates instance. Terminating an already-gone instance
	// is not an error.
	SpinDown(ctx context.Context, instance InstanceID) error
}
