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

package abiset

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicsCoverAllEightEvents(t *testing.T) {
	require.Len(t, Topics, len(signatures))
	for kind := range signatures {
		found := false
		for _, k := range Topics {
			if k == kind {
				found = true
				break
			}
		}
		require.True(t, found, "no topic registered for %s", kind)
	}
}

func TestJobLifecycleTopicsIncludesJobOpened(t *testing.T) {
	topics := JobLifecycleTopics()
	require.Len(t, topics, len(signatures))
	require.Contains(t, topics, JobOpenedTopic())
}

func TestDecodeJobOpened(t *testing.T) {
	data, err := nonIndexedArgs[JobOpened].Pack(`{"instance":"c6a.xlarge"}`, big.NewInt(10), big.NewInt(1000), big.NewInt(1700000000))
	require.NoError(t, err)

	payload, err := DecodeJobOpened(data)
	require.NoError(t, err)
	require.Equal(t, `{"instance":"c6a.xlarge"}`, payload.Metadata)
	require.Equal(t, big.NewInt(10), payload.Rate)
	require.Equal(t, big.NewInt(1000), payload.Balance)
	require.Equal(t, big.NewInt(1700000000), payload.Timestamp)
}

func TestDecodeLockCreated(t *testing.T) {
	var selector [32]byte
	selector[0] = 0xab

	data, err := nonIndexedArgs[LockCreated].Pack(selector, big.NewInt(4), big.NewInt(2000))
	require.NoError(t, err)

	payload, err := DecodeLockCreated(data)
	require.NoError(t, err)
	require.Equal(t, selector, payload.Selector)
	require.Equal(t, big.NewInt(4), payload.NewRate)
	require.Equal(t, big.NewInt(2000), payload.UnlockTime)
}

func TestDecodeAmountSharedByDepositAndWithdraw(t *testing.T) {
	data, err := nonIndexedArgs[JobDeposited].Pack(big.NewInt(42))
	require.NoError(t, err)

	amount, err := DecodeAmount(data, JobDeposited)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), amount)
}

func TestDecodeMalformedDataErrors(t *testing.T) {
	_, err := DecodeJobSettled([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}
