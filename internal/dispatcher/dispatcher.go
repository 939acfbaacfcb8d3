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

// Package dispatcher is the JobRegistry/Dispatcher of spec.md §4.D: it owns
// the global new-job subscription, reconnecting with exponential backoff,
// and spawns one detached JobManager goroutine per (job, removed) delivery
// with no deduplication.
//
// Grounded on original_source/src/market.rs's outer 'main loop, which
// reconnects the whole subscription from scratch on any stream error.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/marlinprotocol/control-plane/internal/chain"
	"github.com/marlinprotocol/control-plane/internal/jobmanager"
	"github.com/marlinprotocol/control-plane/internal/lists"
	"github.com/marlinprotocol/control-plane/internal/logging"
	"github.com/marlinprotocol/control-plane/internal/metrics"
	"github.com/marlinprotocol/control-plane/internal/provisioner"
	"github.com/marlinprotocol/control-plane/internal/ratecard"
)

const (
	minBackoff = time.Second
	maxBackoff = 128 * time.Second
)

// Dispatcher owns the new-job subscription and spawns job managers. The
// Provisioner and RateCard are shared, read-mostly capabilities handed to
// every spawned Manager (spec.md §3 "Ownership").
type Dispatcher struct {
	source  chain.Source
	prov    provisioner.Provisioner
	rates   *ratecard.Card
	filters lists.Filters

	newManager func(job common.Hash, source chain.Source, prov provisioner.Provisioner, rates *ratecard.Card) manager

	wg sync.WaitGroup
}

// manager is the subset of *jobmanager.Manager the dispatcher depends on,
// so tests can substitute a fake without spawning real goroutines.
type manager interface {
	Run(ctx context.Context) error
}

// New builds a Dispatcher over the given EventSource, Provisioner and
// RateCard, with empty (allow-all) image/address filters.
func New(source chain.Source, prov provisioner.Provisioner, rates *ratecard.Card) *Dispatcher {
	return NewWithFilters(source, prov, rates, lists.Filters{})
}

// NewWithFilters is New plus the image/address allow-deny lists the
// supervisor loaded at startup (spec.md §6).
func NewWithFilters(source chain.Source, prov provisioner.Provisioner, rates *ratecard.Card, filters lists.Filters) *Dispatcher {
	d := &Dispatcher{
		source:  source,
		prov:    prov,
		rates:   rates,
		filters: filters,
	}
	d.newManager = func(job common.Hash, source chain.Source, prov provisioner.Provisioner, rates *ratecard.Card) manager {
		return jobmanager.NewWithFilters(job, source, prov, rates, d.filters)
	}
	return d
}

// Run connects to the new-job subscription with exponential backoff
// (1→128s, reset to 1 on success, reconnect-from-scratch on any error or
// end-of-stream), spawning a JobManager goroutine for every delivery, until
// ctx is cancelled. It returns once every spawned manager has exited.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	backoff := minBackoff

	defer d.wg.Wait()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jobs, sub, err := d.source.SubscribeNewJobs(ctx)
		if err != nil {
			log.Warnw("subscribe new jobs failed, backing off", "backoff", backoff, "error", err)
			if !sleepOrDone(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		err = d.consume(ctx, jobs, sub)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warnw("new job subscription ended, reconnecting", "error", err)
		}
		if !sleepOrDone(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

func (d *Dispatcher) consume(ctx context.Context, jobs <-chan chain.NewJob, sub ethereum.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case subErr := <-sub.Err():
			return subErr
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			d.spawn(ctx, job)
		}
	}
}

// spawn launches a detached manager goroutine for job. No deduplication is
// performed (spec.md §4.D): duplicate or retracted opens are tolerated by
// the manager's own find_instance reconciliation step.
func (d *Dispatcher) spawn(ctx context.Context, job chain.NewJob) {
	log := logging.FromContext(ctx)
	log.Infow("spawning job manager", "job", job.ID.Hex(), "removed", job.Removed)

	mgr := d.newManager(job.ID, d.source, d.prov, d.rates)
	metrics.JobsSpawned.Inc()
	metrics.ActiveJobManagers.Inc()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer metrics.ActiveJobManagers.Dec()
		if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warnw("job manager exited with error", "job", job.ID.Hex(), "error", err)
		}
	}()
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
