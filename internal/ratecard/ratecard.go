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

// Package ratecard implements spec.md §4.C: a line-oriented
// "instance_type:rate" file, reloadable, exposing the minimum per-second
// rate a provider will serve a given instance type for.
package ratecard

import (
	"bufio"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// DefaultTTL bounds how long a loaded rate card is trusted before the next
// MinRateFor call triggers a reload, matching the teacher's
// pkg/cache.DefaultTTL convention for read-mostly, externally-sourced data.
const DefaultTTL = time.Minute

const cacheKey = "ratecard"

// lastGoodKey holds the most recently loaded table with no expiry, so a
// failed reload can fall back to it.
const lastGoodKey = "ratecard-last-good"

// Card is a thread-safe, periodically-refreshed view of a rate-card file.
type Card struct {
	path  string
	cache *gocache.Cache

	mu  sync.Mutex
	def *big.Int
}

// New loads path once and returns a Card that reloads it at most once per
// DefaultTTL on subsequent MinRateFor calls.
func New(path string) (*Card, error) {
	c := &Card{
		path:  path,
		cache: gocache.New(DefaultTTL, DefaultTTL),
		def:   big.NewInt(1),
	}
	if _, err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// MinRateFor returns the minimum per-second rate permitted for
// instanceType, or 1 (the smallest non-zero rate) on a miss, per spec.md
// §4.C. The returned *big.Int is a fresh copy safe for the caller to mutate.
func (c *Card) MinRateFor(instanceType string) *big.Int {
	table, err := c.load()
	if err != nil {
		// A transient reload failure keeps serving the last good table;
		// the file is read again on the next call.
		if last, ok := c.cache.Get(lastGoodKey); ok {
			table = last.(map[string]*big.Int)
		}
	} else {
		c.cache.Set(lastGoodKey, table, gocache.NoExpiration)
	}
	if rate, ok := table[instanceType]; ok {
		return new(big.Int).Set(rate)
	}
	return new(big.Int).Set(c.def)
}

func (c *Card) load() (map[string]*big.Int, error) {
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(map[string]*big.Int), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check: another goroutine may have refreshed while we waited.
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(map[string]*big.Int), nil
	}

	table, err := parseFile(c.path)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(cacheKey, table)
	return table, nil
}

func parseFile(path string) (map[string]*big.Int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "ratecard: reading %s", path)
	}
	defer f.Close()

	table := make(map[string]*big.Int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		instanceType := strings.TrimSpace(line[:idx])
		rateStr := strings.TrimSpace(line[idx+1:])
		if instanceType == "" {
			continue
		}
		rate, ok := new(big.Int).SetString(rateStr, 10)
		if !ok {
			continue
		}
		table[instanceType] = rate
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "ratecard: scanning %s", path)
	}
	return table, nil
}
