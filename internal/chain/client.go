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

// Package chain is the EventSource of spec.md §4.A: it subscribes to
// contract logs and delivers two lazy streams, new-job announcements and
// per-job lifecycle logs. Every subscribe call dials a fresh client —
// reconnection and backoff policy live in internal/dispatcher and
// internal/jobmanager (spec.md §9 "Reconnect-from-scratch"); this package
// never resumes a stale subscription.
package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/marlinprotocol/control-plane/internal/chain/abiset"
)

// Source is the capability interface the dispatcher and job manager depend
// on, per spec.md §9 ("Polymorphism over Provisioner/EventSource"). The real
// implementation is Endpoint; tests substitute an in-memory fake.
type Source interface {
	SubscribeNewJobs(ctx context.Context) (<-chan NewJob, ethereum.Subscription, error)
	SubscribeJobLogs(ctx context.Context, job common.Hash) (<-chan types.Log, ethereum.Subscription, error)
}

// Endpoint identifies the chain RPC and marketplace contract this control
// plane listens to. Each Subscribe call opens its own websocket connection;
// Endpoint holds no long-lived state, so copying it is always safe.
type Endpoint struct {
	RPC      string
	Contract common.Address
}

var _ Source = Endpoint{}

// SubscribeNewJobs dials a fresh client and subscribes to JobOpened logs
// emitted by the configured contract, mapping each to a NewJob. The
// returned channel and subscription share the lifetime of the dialed
// client; ctx cancellation or subscription.Err() ending is the caller's
// signal to redial, per spec.md §4.D.
func (e Endpoint) SubscribeNewJobs(ctx context.Context) (<-chan NewJob, ethereum.Subscription, error) {
	client, err := ethclient.DialContext(ctx, e.RPC)
	if err != nil {
		return nil, nil, errors.Wrap(err, "chain: dial")
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{e.Contract},
		Topics:    [][]common.Hash{{abiset.JobOpenedTopic()}},
	}

	raw := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, raw)
	if err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "chain: subscribe new jobs")
	}

	out := make(chan NewJob, 64)
	go func() {
		defer client.Close()
		defer close(out)
		for log := range raw {
			if len(log.Topics) < 2 {
				continue
			}
			out <- NewJob{ID: log.Topics[1], Removed: log.Removed}
		}
	}()

	return out, sub, nil
}

// SubscribeJobLogs dials a fresh client and subscribes to every log for the
// given job whose topic-0 is one of the eight recognized lifecycle events.
func (e Endpoint) SubscribeJobLogs(ctx context.Context, job common.Hash) (<-chan types.Log, ethereum.Subscription, error) {
	client, err := ethclient.DialContext(ctx, e.RPC)
	if err != nil {
		return nil, nil, errors.Wrap(err, "chain: dial")
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{e.Contract},
		Topics:    [][]common.Hash{abiset.JobLifecycleTopics(), {job}},
	}

	raw := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, raw)
	if err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "chain: subscribe job logs")
	}

	out := make(chan types.Log, 64)
	go func() {
		defer client.Close()
		defer close(out)
		for log := range raw {
			out <- log
		}
	}()

	return out, sub, nil
}

// ToHTTP normalizes a wss:// RPC URL to https://, mirroring
// original_source/src/main.rs's get_chain_id_from_rpc_url, for the one-off
// HTTP calls (e.g. chain-id lookup at startup) that cannot run over the
// websocket subscription transport.
func ToHTTP(rpcURL string) string {
	return strings.Replace(rpcURL, "wss://", "https://", 1)
}
