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

package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/marlinprotocol/control-plane/internal/chain"
	chainfake "github.com/marlinprotocol/control-plane/internal/chain/fake"
	"github.com/marlinprotocol/control-plane/internal/provisioner"
	provfake "github.com/marlinprotocol/control-plane/internal/provisioner/fake"
	"github.com/marlinprotocol/control-plane/internal/ratecard"
)

func newTestRateCard(t *testing.T) *ratecard.Card {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates.txt")
	require.NoError(t, os.WriteFile(path, []byte("c6a.xlarge:5\n"), 0o644))
	card, err := ratecard.New(path)
	require.NoError(t, err)
	return card
}

// recordingManager stands in for jobmanager.Manager, blocking until ctx is
// cancelled, so the dispatcher's spawn-and-no-dedup policy (spec.md §4.D)
// can be exercised without a real per-job chain subscription.
type recordingManager struct {
	runs *int32
}

func (r *recordingManager) Run(ctx context.Context) error {
	atomic.AddInt32(r.runs, 1)
	<-ctx.Done()
	return ctx.Err()
}

func TestSpawnsOneManagerPerDeliveryNoDedup(t *testing.T) {
	source := chainfake.New()
	jobsChan := make(chan chain.NewJob, 4)
	sub := chainfake.NewSubscription()
	source.QueueNewJobs(jobsChan, sub, nil)

	d := New(source, provfake.New(), newTestRateCard(t))

	var runs int32
	var mu sync.Mutex
	var seen []common.Hash
	d.newManager = func(job common.Hash, _ chain.Source, _ provisioner.Provisioner, _ *ratecard.Card) manager {
		mu.Lock()
		seen = append(seen, job)
		mu.Unlock()
		return &recordingManager{runs: &runs}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	jobA := common.HexToHash("0xa1")
	jobsChan <- chain.NewJob{ID: jobA}
	// A duplicate open (reorg replay) must spawn a second manager: the
	// dispatcher performs no deduplication, per spec.md §4.D.
	jobsChan <- chain.NewJob{ID: jobA}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []common.Hash{jobA, jobA}, seen)
}

func TestReconnectsWithBackoffAfterSubscriptionError(t *testing.T) {
	source := chainfake.New()

	firstJobs := make(chan chain.NewJob)
	firstSub := chainfake.NewSubscription()
	source.QueueNewJobs(firstJobs, firstSub, nil)

	secondJobs := make(chan chain.NewJob, 1)
	secondSub := chainfake.NewSubscription()
	source.QueueNewJobs(secondJobs, secondSub, nil)

	d := New(source, provfake.New(), newTestRateCard(t))
	var runs int32
	d.newManager = func(job common.Hash, _ chain.Source, _ provisioner.Provisioner, _ *ratecard.Card) manager {
		return &recordingManager{runs: &runs}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	firstSub.ErrC <- context.DeadlineExceeded

	job := common.HexToHash("0xb1")
	secondJobs <- chain.NewJob{ID: job}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
