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

// Package fake is an in-memory chain.Source for tests: channels the test
// writes to directly, standing in for a live websocket subscription.
package fake

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/marlinprotocol/control-plane/internal/chain"
)

// Subscription is a controllable fake of ethereum.Subscription: tests send
// on ErrC to simulate a dropped connection, or close the paired data
// channel to simulate end-of-stream.
type Subscription struct {
	ErrC chan error

	mu          sync.Mutex
	unsubscribe int
}

var _ ethereum.Subscription = (*Subscription)(nil)

// NewSubscription returns a Subscription whose Err channel the caller may
// send on to simulate a transport failure.
func NewSubscription() *Subscription {
	return &Subscription{ErrC: make(chan error, 1)}
}

func (s *Subscription) Err() <-chan error { return s.ErrC }

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe++
}

// UnsubscribeCalls reports how many times Unsubscribe was called.
func (s *Subscription) UnsubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribe
}

// Source is an in-memory chain.Source. Each call to SubscribeNewJobs or
// SubscribeJobLogs pops the next preconfigured channel/subscription pair,
// letting a test script a sequence of connect attempts (e.g. reconnects
// after a simulated drop).
type Source struct {
	mu sync.Mutex

	newJobsCalls int
	newJobs      []func() (<-chan chain.NewJob, *Subscription, error)

	jobLogsCalls int
	jobLogs      []func(job common.Hash) (<-chan types.Log, *Subscription, error)
}

var _ chain.Source = (*Source)(nil)

// New returns an empty Source; configure it with QueueNewJobs/QueueJobLogs
// before the code under test calls Subscribe*.
func New() *Source {
	return &Source{}
}

// QueueNewJobs appends one scripted response to the next SubscribeNewJobs
// call.
func (s *Source) QueueNewJobs(jobs <-chan chain.NewJob, sub *Subscription, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newJobs = append(s.newJobs, func() (<-chan chain.NewJob, *Subscription, error) { return jobs, sub, err })
}

// QueueJobLogs appends one scripted response to the next SubscribeJobLogs
// call.
func (s *Source) QueueJobLogs(logs <-chan types.Log, sub *Subscription, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobLogs = append(s.jobLogs, func(common.Hash) (<-chan types.Log, *Subscription, error) { return logs, sub, err })
}

func (s *Source) SubscribeNewJobs(context.Context) (<-chan chain.NewJob, ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newJobsCalls >= len(s.newJobs) {
		// Block forever once the script is exhausted, rather than erroring,
		// so tests can assert "no further reconnect attempts" by observation.
		return make(chan chain.NewJob), NewSubscription(), nil
	}
	fn := s.newJobs[s.newJobsCalls]
	s.newJobsCalls++
	jobs, sub, err := fn()
	if err != nil {
		return nil, nil, err
	}
	return jobs, sub, nil
}

func (s *Source) SubscribeJobLogs(_ context.Context, job common.Hash) (<-chan types.Log, ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobLogsCalls >= len(s.jobLogs) {
		return make(chan types.Log), NewSubscription(), nil
	}
	fn := s.jobLogs[s.jobLogsCalls]
	s.jobLogsCalls++
	logs, sub, err := fn(job)
	if err != nil {
		return nil, nil, err
	}
	return logs, sub, nil
}
