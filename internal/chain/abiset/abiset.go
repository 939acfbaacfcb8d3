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

// Package abiset computes the Keccak-256 topic-0 hashes for the eight
// contract events this system recognizes (JobOpened plus the seven job
// lifecycle events) and ABI-decodes each event's non-indexed payload.
//
// Grounded on original_source/src/market.rs, which hand-computes the same
// keccak256(signature) constants and decodes each payload with
// ethers::abi::AbiDecode tuples; this package expresses the same table and
// decode logic with go-ethereum's accounts/abi.
package abiset

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Kind identifies which of the eight recognized events a log represents.
type Kind int

const (
	Unknown Kind = iota
	JobOpened
	JobSettled
	JobClosed
	JobDeposited
	JobWithdrew
	JobRevisedRate
	LockCreated
	LockDeleted
)

func (k Kind) String() string {
	switch k {
	case JobOpened:
		return "JobOpened"
	case JobSettled:
		return "JobSettled"
	case JobClosed:
		return "JobClosed"
	case JobDeposited:
		return "JobDeposited"
	case JobWithdrew:
		return "JobWithdrew"
	case JobRevisedRate:
		return "JobRevisedRate"
	case LockCreated:
		return "LockCreated"
	case LockDeleted:
		return "LockDeleted"
	default:
		return "Unknown"
	}
}

// signature is the canonical event signature string, hashed with
// crypto.Keccak256Hash to produce the topic-0 every log of that kind
// carries, per Ethereum ABI convention.
var signatures = map[Kind]string{
	JobOpened:      "JobOpened(bytes32,string,uint256,uint256,uint256)",
	JobSettled:     "JobSettled(bytes32,uint256,uint256)",
	JobClosed:      "JobClosed(bytes32)",
	JobDeposited:   "JobDeposited(bytes32,uint256)",
	JobWithdrew:    "JobWithdrew(bytes32,uint256)",
	JobRevisedRate: "JobRevisedRate(bytes32,uint256)",
	LockCreated:    "LockCreated(bytes32,bytes32,uint256,uint256)",
	LockDeleted:    "LockDeleted(bytes32,bytes32,uint256)",
}

// Topics maps each topic-0 hash back to its Kind, computed once at package
// init, matching the `H256::from(keccak256(...))` constants in
// original_source/src/market.rs.
var Topics = buildTopics()

func buildTopics() map[common.Hash]Kind {
	t := make(map[common.Hash]Kind, len(signatures))
	for kind, sig := range signatures {
		t[crypto.Keccak256Hash([]byte(sig))] = kind
	}
	return t
}

// JobLifecycleTopics lists every topic-0 the per-job log subscription
// should match: all eight recognized events, JobOpened included, since the
// job manager takes its balance, rate and metadata from the JobOpened log
// on its own stream.
func JobLifecycleTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(signatures))
	for _, sig := range signatures {
		topics = append(topics, crypto.Keccak256Hash([]byte(sig)))
	}
	return topics
}

// JobOpenedTopic returns the topic-0 the new-job subscription filters on.
func JobOpenedTopic() common.Hash {
	return crypto.Keccak256Hash([]byte(signatures[JobOpened]))
}

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic("abiset: invalid abi type " + t + ": " + err.Error())
		}
		args = append(args, abi.Argument{Type: ty})
	}
	return args
}

// nonIndexedArgs lists, per event Kind, the ABI types of the fields carried
// in the log's `data` blob (the indexed job id lives in topic-1 and is
// never part of this tuple).
var nonIndexedArgs = map[Kind]abi.Arguments{
	JobOpened:      mustArgs("string", "uint256", "uint256", "uint256"),
	JobSettled:     mustArgs("uint256", "uint256"),
	JobClosed:      mustArgs(),
	JobDeposited:   mustArgs("uint256"),
	JobWithdrew:    mustArgs("uint256"),
	JobRevisedRate: mustArgs("uint256"),
	LockCreated:    mustArgs("bytes32", "uint256", "uint256"),
	LockDeleted:    mustArgs("bytes32", "uint256"),
}

// JobOpenedPayload is the decoded JobOpened data tuple.
type JobOpenedPayload struct {
	Metadata  string
	Rate      *big.Int
	Balance   *big.Int
	Timestamp *big.Int
}

// JobSettledPayload is the decoded JobSettled data tuple.
type JobSettledPayload struct {
	Amount    *big.Int
	Timestamp *big.Int
}

// LockCreatedPayload is the decoded LockCreated data tuple.
type LockCreatedPayload struct {
	Selector   [32]byte
	NewRate    *big.Int
	UnlockTime *big.Int
}

// LockDeletedPayload is the decoded LockDeleted data tuple.
type LockDeletedPayload struct {
	Selector   [32]byte
	UnlockTime *big.Int
}

// DecodeJobOpened unpacks a JobOpened log's data blob.
func DecodeJobOpened(data []byte) (JobOpenedPayload, error) {
	vals, err := nonIndexedArgs[JobOpened].Unpack(data)
	if err != nil {
		return JobOpenedPayload{}, err
	}
	return JobOpenedPayload{
		Metadata:  vals[0].(string),
		Rate:      vals[1].(*big.Int),
		Balance:   vals[2].(*big.Int),
		Timestamp: vals[3].(*big.Int),
	}, nil
}

// DecodeJobSettled unpacks a JobSettled log's data blob.
func DecodeJobSettled(data []byte) (JobSettledPayload, error) {
	vals, err := nonIndexedArgs[JobSettled].Unpack(data)
	if err != nil {
		return JobSettledPayload{}, err
	}
	return JobSettledPayload{
		Amount:    vals[0].(*big.Int),
		Timestamp: vals[1].(*big.Int),
	}, nil
}

// DecodeAmount unpacks the single-uint256 payload shared by JobDeposited
// and JobWithdrew.
func DecodeAmount(data []byte, kind Kind) (*big.Int, error) {
	vals, err := nonIndexedArgs[kind].Unpack(data)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// DecodeJobRevisedRate unpacks a JobRevisedRate log's data blob.
func DecodeJobRevisedRate(data []byte) (*big.Int, error) {
	vals, err := nonIndexedArgs[JobRevisedRate].Unpack(data)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// DecodeLockCreated unpacks a LockCreated log's data blob.
func DecodeLockCreated(data []byte) (LockCreatedPayload, error) {
	vals, err := nonIndexedArgs[LockCreated].Unpack(data)
	if err != nil {
		return LockCreatedPayload{}, err
	}
	return LockCreatedPayload{
		Selector:   vals[0].([32]byte),
		NewRate:    vals[1].(*big.Int),
		UnlockTime: vals[2].(*big.Int),
	}, nil
}

// DecodeLockDeleted unpacks a LockDeleted log's data blob.
func DecodeLockDeleted(data []byte) (LockDeletedPayload, error) {
	vals, err := nonIndexedArgs[LockDeleted].Unpack(data)
	if err != nil {
		return LockDeletedPayload{}, err
	}
	return LockDeletedPayload{
		Selector:   vals[0].([32]byte),
		UnlockTime: vals[1].(*big.Int),
	}, nil
}
