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

package jobmanager

import (
	"math"
	"math/big"
	"time"
)

// solvencyState is the per-job balance/rate bookkeeping of spec.md §3. All
// amounts are on-chain base units, modeled as math/big.Int since they may
// exceed 64 bits; Go has no native saturating big-int arithmetic, so the
// saturating subtract/divide used here is hand-rolled (see DESIGN.md).
type solvencyState struct {
	balance      *big.Int
	rate         *big.Int
	originalRate *big.Int
	lastSettled  time.Time
	minRate      *big.Int
}

// initialSolvencyState returns the placeholder state a manager starts with
// before observing a real JobOpened, per spec.md §4.E.
func initialSolvencyState(now time.Time) solvencyState {
	return solvencyState{
		balance:      big.NewInt(60),
		rate:         big.NewInt(1),
		originalRate: big.NewInt(1),
		lastSettled:  now,
		minRate:      big.NewInt(1),
	}
}

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// remaining computes spec.md §4.E's insolvency countdown:
//
//	remaining = rate == 0 ? ∞ : max(0, balance/rate − (now − lastSettled))
//
// ok == false means "never" (rate is zero); the timer should not fire. A
// countdown too long for a time.Duration saturates to the largest one.
func (s solvencyState) remaining(now time.Time) (d time.Duration, ok bool) {
	if s.rate.Sign() == 0 {
		return 0, false
	}

	lifetime := new(big.Int).Div(s.balance, s.rate)
	if lifetime.Cmp(maxUint64) > 0 {
		lifetime = maxUint64
	}

	elapsed := int64(now.Sub(s.lastSettled) / time.Second)
	remainingSecs := new(big.Int).Sub(lifetime, big.NewInt(elapsed))
	if remainingSecs.Sign() <= 0 {
		return 0, true
	}
	if !remainingSecs.IsInt64() || remainingSecs.Int64() > int64(math.MaxInt64/time.Second) {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(remainingSecs.Int64()) * time.Second, true
}

// subSaturating returns max(0, a-b) as a new *big.Int, used for balance
// debits on JobSettled/JobWithdrew (spec.md §4.E: "saturating at zero").
func subSaturating(a, b *big.Int) *big.Int {
	r := new(big.Int).Sub(a, b)
	if r.Sign() < 0 {
		return big.NewInt(0)
	}
	return r
}
