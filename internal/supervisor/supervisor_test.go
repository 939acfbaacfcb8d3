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

package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyPathUsesHomeSSHConvention(t *testing.T) {
	path := keyPath("job-runner", "us-east-1")
	require.True(t, strings.HasSuffix(path, "/.ssh/job-runner-us-east-1.pem"))
}

func TestKeyPathDiffersPerRegion(t *testing.T) {
	east := keyPath("job-runner", "us-east-1")
	west := keyPath("job-runner", "us-west-2")
	require.NotEqual(t, east, west)
}

// logChainID is best-effort: an unreachable RPC endpoint must not panic or
// block past ctx's deadline, matching spec.md's "continue anyway" startup
// sanity check.
func TestLogChainIDDoesNotBlockOnUnreachableRPC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		logChainID(ctx, "http://127.0.0.1:1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("logChainID did not return promptly for an unreachable RPC endpoint")
	}
}
