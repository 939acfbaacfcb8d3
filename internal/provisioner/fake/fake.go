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

// Package fake is an in-memory Provisioner for tests, grounded on
// kwok/ec2/ec2.go's sync.Map-backed fake EC2 client: no real cloud calls,
// deterministic enough to drive job-manager state machine tests.
package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/marlinprotocol/control-plane/internal/provisioner"
)

// Provisioner is an in-memory stand-in for awsec2.Client.
type Provisioner struct {
	mu sync.Mutex

	// byJob maps job IDs to the instance id currently bound to them.
	byJob map[provisioner.JobID]provisioner.InstanceID
	// live is the set of instance ids considered running.
	live map[provisioner.InstanceID]struct{}

	// SpinUpErr, when set, is returned by every SpinUp call instead of
	// succeeding, for exercising provisioner-failure paths.
	SpinUpErr error
	// SpinDownErr, when set, is returned by every SpinDown call.
	SpinDownErr error

	SpinUpCalls   int
	SpinDownCalls int
}

var _ provisioner.Provisioner = (*Provisioner)(nil)

// New returns an empty fake Provisioner.
func New() *Provisioner {
	return &Provisioner{
		byJob: map[provisioner.JobID]provisioner.InstanceID{},
		live:  map[provisioner.InstanceID]struct{}{},
	}
}

func (p *Provisioner) FindInstance(_ context.Context, job provisioner.JobID) (bool, provisioner.InstanceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance, ok := p.byJob[job]
	if !ok {
		return false, "", nil
	}
	if _, live := p.live[instance]; !live {
		return false, "", nil
	}
	return true, instance, nil
}

func (p *Provisioner) SpinUp(_ context.Context, job provisioner.JobID, _ string, _ string) (provisioner.InstanceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpinUpCalls++

	if p.SpinUpErr != nil {
		return "", p.SpinUpErr
	}

	instance := provisioner.InstanceID(uuid.NewString())
	p.byJob[job] = instance
	p.live[instance] = struct{}{}
	return instance, nil
}

func (p *Provisioner) SpinDown(_ context.Context, instance provisioner.InstanceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpinDownCalls++

	if p.SpinDownErr != nil {
		return p.SpinDownErr
	}

	delete(p.live, instance)
	return nil
}

// IsLive reports whether instance has not been spun down, for test
// assertions.
func (p *Provisioner) IsLive(instance provisioner.InstanceID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[instance]
	return ok
}
