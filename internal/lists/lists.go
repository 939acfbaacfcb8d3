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

// Package lists loads the optional image and address allow/deny lists
// described in spec.md §6. Each list is read once at startup and shared,
// read-only, by every job manager goroutine; a set built once at load and
// never mutated afterwards is sufficient in Go (see DESIGN.md for why this
// replaces the original's Box::leak static-lifetime trick).
package lists

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// List is an immutable set of lines loaded from an optional file. A List
// built from an empty path is empty, and Contains always returns false
// (spec.md §6: "when absent, the filter is empty (no exclusions / allow-all)").
type List struct {
	entries map[string]struct{}
}

// Load reads one entry per line from path. An empty path yields an empty
// List rather than an error.
func Load(path string) (List, error) {
	if path == "" {
		return List{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return List{}, errors.Wrapf(err, "lists: reading %s", path)
	}
	defer f.Close()

	entries := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return List{}, errors.Wrapf(err, "lists: scanning %s", path)
	}
	return List{entries: entries}, nil
}

// Contains reports whether entry appears in the list.
func (l List) Contains(entry string) bool {
	if len(l.entries) == 0 {
		return false
	}
	_, ok := l.entries[entry]
	return ok
}

// Len reports the number of entries loaded.
func (l List) Len() int {
	return len(l.entries)
}

// Filters bundles the four optional allow/deny lists spec.md §6 names. It is
// constructed once by the supervisor and passed by value to anything that
// needs it — List is itself immutable and safe to copy.
type Filters struct {
	ImageBlacklist   List
	ImageWhitelist   List
	AddressBlacklist List
	AddressWhitelist List
}

// LoadFilters loads all four lists named in a config.Config-shaped set of
// paths; any of the four may be empty.
func LoadFilters(blacklist, whitelist, addressBlacklist, addressWhitelist string) (Filters, error) {
	var f Filters
	var err error

	if f.ImageBlacklist, err = Load(blacklist); err != nil {
		return Filters{}, err
	}
	if f.ImageWhitelist, err = Load(whitelist); err != nil {
		return Filters{}, err
	}
	if f.AddressBlacklist, err = Load(addressBlacklist); err != nil {
		return Filters{}, err
	}
	if f.AddressWhitelist, err = Load(addressWhitelist); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// AllowsImage reports whether imageURL passes the image allow/deny filters:
// rejected if blacklisted, or if a non-empty whitelist does not name it.
func (f Filters) AllowsImage(imageURL string) bool {
	if f.ImageBlacklist.Contains(imageURL) {
		return false
	}
	if f.ImageWhitelist.Len() > 0 && !f.ImageWhitelist.Contains(imageURL) {
		return false
	}
	return true
}

// AllowsAddress reports whether a provider/job address passes the address
// allow/deny filters, with the same blacklist-then-whitelist precedence as
// AllowsImage.
func (f Filters) AllowsAddress(address string) bool {
	if f.AddressBlacklist.Contains(address) {
		return false
	}
	if f.AddressWhitelist.Len() > 0 && !f.AddressWhitelist.Contains(address) {
		return false
	}
	return true
}
