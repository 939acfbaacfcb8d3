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

// Package jobmanager is the core state machine of spec.md §4.E: one
// instance per job, reacting to the eight on-chain lifecycle events plus an
// internally computed insolvency timer, driving a Provisioner to match the
// job's derived desired state.
//
// Grounded on original_source/src/market.rs's per-job tokio::select! loop;
// the outer reconnect/backoff shape is shared with internal/dispatcher
// (spec.md §9 "Reconnect-from-scratch").
package jobmanager

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/marlinprotocol/control-plane/internal/chain"
	"github.com/marlinprotocol/control-plane/internal/chain/abiset"
	"github.com/marlinprotocol/control-plane/internal/lists"
	"github.com/marlinprotocol/control-plane/internal/logging"
	"github.com/marlinprotocol/control-plane/internal/metrics"
	"github.com/marlinprotocol/control-plane/internal/provisioner"
	"github.com/marlinprotocol/control-plane/internal/ratecard"
)

const defaultInstanceType = "c6a.xlarge"

const (
	minBackoff = time.Second
	maxBackoff = 128 * time.Second
)

// Manager runs the lifecycle of a single job. Zero value is not usable;
// construct with New.
type Manager struct {
	job     common.Hash
	source  chain.Source
	prov    provisioner.Provisioner
	rates   *ratecard.Card
	filters lists.Filters

	solvency     solvencyState
	bound        bool
	instance     provisioner.InstanceID
	instanceType string
	imageURL     string

	now func() time.Time
}

// New builds a Manager for job, with the placeholder state spec.md §4.E
// prescribes before the first JobOpened is observed.
func New(job common.Hash, source chain.Source, prov provisioner.Provisioner, rates *ratecard.Card) *Manager {
	return NewWithFilters(job, source, prov, rates, lists.Filters{})
}

// NewWithFilters is New plus the image allow/deny lists the supervisor
// loaded at startup (spec.md §6); an image that fails the filter is treated
// the same as a rate below minimum — the job is never spun up.
func NewWithFilters(job common.Hash, source chain.Source, prov provisioner.Provisioner, rates *ratecard.Card, filters lists.Filters) *Manager {
	now := time.Now
	return &Manager{
		job:          job,
		source:       source,
		prov:         prov,
		rates:        rates,
		filters:      filters,
		solvency:     initialSolvencyState(now()),
		instanceType: defaultInstanceType,
		now:          now,
	}
}

// Run drives the job to completion: an outer connection loop with the same
// exponential backoff policy as the dispatcher (spec.md §4.D/§4.E), and an
// inner event loop that exits this Run call once the job reaches a terminal
// state (JobClosed or insolvency) or ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).With("job", m.job.Hex())
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logs, sub, err := m.source.SubscribeJobLogs(ctx, m.job)
		if err != nil {
			log.Warnw("subscribe job logs failed, backing off", "backoff", backoff, "error", err)
			if !sleepOrDone(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		terminal, err := m.eventLoop(ctx, log, logs, sub)
		sub.Unsubscribe()
		if err != nil {
			log.Warnw("job log subscription ended, reconnecting", "error", err)
		}
		if terminal {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleepOrDone(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// eventLoop blocks on either the next log or the insolvency timer,
// whichever fires first, per spec.md §4.E. It returns terminal=true once
// the job has reached JobClosed or insolvency.
func (m *Manager) eventLoop(ctx context.Context, log *zap.SugaredLogger, logs <-chan types.Log, sub ethereum.Subscription) (terminal bool, err error) {
	for {
		var timerC <-chan time.Time
		if d, ok := m.solvency.remaining(m.now()); ok {
			timerC = time.After(d)
		}

		select {
		case <-ctx.Done():
			return true, ctx.Err()

		case subErr := <-sub.Err():
			return false, subErr

		case entry, ok := <-logs:
			if !ok {
				return false, nil
			}
			if m.handleLog(ctx, log, entry) {
				return true, nil
			}

		case <-timerC:
			log.Infow("insolvency reached, spinning down", "instance", m.instance)
			metrics.InsolvencyTerminations.Inc()
			m.spinDownAndUnbind(ctx, log)
			return true, nil
		}
	}
}

// handleLog dispatches one log by its recognized Kind, per spec.md §4.E.
// Decode failures are logged and ignored. Returns true if the job has
// reached a terminal state (JobClosed).
func (m *Manager) handleLog(ctx context.Context, log *zap.SugaredLogger, entry types.Log) bool {
	if len(entry.Topics) == 0 {
		return false
	}
	kind := abiset.Topics[entry.Topics[0]]

	switch kind {
	case abiset.JobOpened:
		m.handleJobOpened(ctx, log, entry.Data)
	case abiset.JobSettled:
		m.handleJobSettled(log, entry.Data)
	case abiset.JobDeposited:
		m.handleAmountDelta(log, entry.Data, abiset.JobDeposited, true)
	case abiset.JobWithdrew:
		m.handleAmountDelta(log, entry.Data, abiset.JobWithdrew, false)
	case abiset.JobRevisedRate:
		m.handleJobRevisedRate(ctx, log, entry.Data)
	case abiset.LockCreated:
		m.handleLockCreated(ctx, log, entry.Data)
	case abiset.LockDeleted:
		m.handleLockDeleted(log, entry.Data)
	case abiset.JobClosed:
		m.spinDownAndUnbind(ctx, log)
		log.Infow("job closed")
		return true
	default:
		log.Warnw("unrecognized log topic, ignoring", "topic", entry.Topics[0].Hex())
	}
	return false
}

type jobMetadata struct {
	Instance string `json:"instance"`
	URL      string `json:"url"`
}

// handleJobOpened resets solvency state from the event payload, resolves
// image/instance type and the rate-card minimum, and reconciles the VM
// binding, per spec.md §4.E.
func (m *Manager) handleJobOpened(ctx context.Context, log *zap.SugaredLogger, data []byte) {
	payload, err := abiset.DecodeJobOpened(data)
	if err != nil {
		log.Warnw("JobOpened decode failure, ignoring", "error", err)
		return
	}

	var meta jobMetadata
	if err := json.Unmarshal([]byte(payload.Metadata), &meta); err != nil {
		log.Warnw("JobOpened metadata decode failure, ignoring", "error", err)
		return
	}

	m.solvency.balance = payload.Balance
	m.solvency.rate = payload.Rate
	m.solvency.originalRate = new(big.Int).Set(payload.Rate)
	m.solvency.lastSettled = time.Unix(payload.Timestamp.Int64(), 0)

	m.imageURL = meta.URL
	if meta.Instance != "" {
		m.instanceType = meta.Instance
	}
	m.solvency.minRate = m.rates.MinRateFor(m.instanceType)

	log.Infow("job opened", "instanceType", m.instanceType, "imageURL", m.imageURL,
		"rate", m.solvency.rate, "balance", m.solvency.balance, "minRate", m.solvency.minRate)

	m.reconcile(ctx, log)
}

// reconcile implements the find_instance → spin_up/spin_down decision of
// spec.md §4.E/§9, used on JobOpened and on any rate transition crossing
// min_rate while unbound. It is the "discover-first" fix spec.md §9 flags
// as the intended behaviour over the original's unconditional spin_up.
func (m *Manager) reconcile(ctx context.Context, log *zap.SugaredLogger) {
	exists, instance, err := m.prov.FindInstance(ctx, toProvisionerJobID(m.job))
	if err != nil {
		log.Warnw("find instance failed, leaving binding as-is", "error", err)
		return
	}

	aboveMin := m.solvency.rate.Cmp(m.solvency.minRate) >= 0
	if aboveMin && !m.filters.AllowsImage(m.imageURL) {
		log.Warnw("image rejected by allow/deny list, refusing to spin up", "imageURL", m.imageURL)
		aboveMin = false
	}

	switch {
	case exists && aboveMin:
		m.instance = instance
		m.bound = true
		log.Infow("adopted existing instance", "instance", instance)
	case exists && !aboveMin:
		log.Infow("rate below minimum, spinning down existing instance", "instance", instance)
		if err := m.prov.SpinDown(ctx, instance); err != nil {
			log.Warnw("spin down failed", "instance", instance, "error", err)
		} else {
			metrics.InstancesSpunDown.Inc()
		}
		m.bound = false
		m.instance = ""
	case !exists && aboveMin:
		newInstance, err := m.prov.SpinUp(ctx, toProvisionerJobID(m.job), m.imageURL, m.instanceType)
		if err != nil {
			log.Warnw("spin up failed", "error", err)
			return
		}
		metrics.InstancesSpunUp.Inc()
		m.instance = newInstance
		m.bound = true
		log.Infow("spun up instance", "instance", newInstance)
	default:
		// !exists && !aboveMin: remain unbound.
	}
}

func (m *Manager) handleJobSettled(log *zap.SugaredLogger, data []byte) {
	payload, err := abiset.DecodeJobSettled(data)
	if err != nil {
		log.Warnw("JobSettled decode failure, ignoring", "error", err)
		return
	}
	m.solvency.balance = subSaturating(m.solvency.balance, payload.Amount)
	m.solvency.lastSettled = time.Unix(payload.Timestamp.Int64(), 0)
	log.Infow("job settled", "amount", payload.Amount, "balance", m.solvency.balance)
}

func (m *Manager) handleAmountDelta(log *zap.SugaredLogger, data []byte, kind abiset.Kind, deposit bool) {
	amount, err := abiset.DecodeAmount(data, kind)
	if err != nil {
		log.Warnw("amount decode failure, ignoring", "kind", kind.String(), "error", err)
		return
	}
	if deposit {
		m.solvency.balance = new(big.Int).Add(m.solvency.balance, amount)
	} else {
		m.solvency.balance = subSaturating(m.solvency.balance, amount)
	}
	log.Infow("balance updated", "kind", kind.String(), "amount", amount, "balance", m.solvency.balance)
}

// handleJobRevisedRate implements spec.md §4.E's resolution of Open
// Question 1 (§9): the new rate is read from the decoded data tuple. Only
// reconciles when currently unbound, to avoid the duplicate spin_up bug
// spec.md §9 flags in the original.
func (m *Manager) handleJobRevisedRate(ctx context.Context, log *zap.SugaredLogger, data []byte) {
	newRate, err := abiset.DecodeJobRevisedRate(data)
	if err != nil {
		log.Warnw("JobRevisedRate decode failure, ignoring", "error", err)
		return
	}
	m.solvency.originalRate = m.solvency.rate
	m.solvency.rate = newRate
	log.Infow("job rate revised", "rate", m.solvency.rate)

	if !m.bound && m.solvency.rate.Cmp(m.solvency.minRate) >= 0 {
		m.reconcile(ctx, log)
	}
}

func (m *Manager) handleLockCreated(ctx context.Context, log *zap.SugaredLogger, data []byte) {
	payload, err := abiset.DecodeLockCreated(data)
	if err != nil {
		log.Warnw("LockCreated decode failure, ignoring", "error", err)
		return
	}
	m.solvency.originalRate = m.solvency.rate
	m.solvency.rate = payload.NewRate
	log.Infow("lock created", "rate", m.solvency.rate, "unlockTime", payload.UnlockTime)

	if m.bound && m.solvency.rate.Cmp(m.solvency.minRate) < 0 {
		log.Infow("locked rate below minimum, spinning down", "instance", m.instance)
		m.spinDownAndUnbind(ctx, log)
	}
}

func (m *Manager) handleLockDeleted(log *zap.SugaredLogger, data []byte) {
	_, err := abiset.DecodeLockDeleted(data)
	if err != nil {
		log.Warnw("LockDeleted decode failure, ignoring", "error", err)
		return
	}
	m.solvency.originalRate = m.solvency.rate
	log.Infow("lock deleted", "originalRate", m.solvency.originalRate)
}

func (m *Manager) spinDownAndUnbind(ctx context.Context, log *zap.SugaredLogger) {
	if !m.bound {
		return
	}
	if err := m.prov.SpinDown(ctx, m.instance); err != nil {
		log.Warnw("spin down failed", "instance", m.instance, "error", err)
	} else {
		metrics.InstancesSpunDown.Inc()
	}
	m.bound = false
	m.instance = ""
}

func toProvisionerJobID(job common.Hash) provisioner.JobID {
	return provisioner.JobID(job)
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
