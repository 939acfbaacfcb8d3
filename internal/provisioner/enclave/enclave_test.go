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

package enclave

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// newTestKeyPair writes a PEM-encoded RSA private key to a temp file and
// returns its path plus the matching ssh.Signer, so tests can exercise
// loadSigner without a real cloud-provisioned keypair.
func newTestKeyPair(t *testing.T) (path string, signer ssh.Signer) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	path = filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o400))

	signer, err = ssh.ParsePrivateKey(pemBytes)
	require.NoError(t, err)
	return path, signer
}

func TestLoadSignerRoundTrips(t *testing.T) {
	path, want := newTestKeyPair(t)

	got, err := loadSigner(path)
	require.NoError(t, err)
	require.Equal(t, want.PublicKey().Marshal(), got.PublicKey().Marshal())
}

func TestLoadSignerMissingFile(t *testing.T) {
	_, err := loadSigner(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}

func TestConnectRetriesAfterFirstDialFailure(t *testing.T) {
	path, _ := newTestKeyPair(t)

	attempts := 0
	installer := New(path)
	installer.dialAttempts = 3
	installer.dialDelay = time.Millisecond
	installer.dial = func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		attempts++
		if attempts < 2 {
			return nil, &net.OpError{Op: "dial", Err: errConnRefused{}}
		}
		return nil, errGaveUp{}
	}

	_, err := installer.connect(context.Background(), "10.0.0.1:22")
	require.Error(t, err)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestConnectFailsAfterExhaustingAttempts(t *testing.T) {
	path, _ := newTestKeyPair(t)

	attempts := 0
	installer := New(path)
	installer.dialAttempts = 2
	installer.dialDelay = time.Millisecond
	installer.dial = func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		attempts++
		return nil, errConnRefused{}
	}

	_, err := installer.connect(context.Background(), "10.0.0.1:22")
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

type errConnRefused struct{}

func (errConnRefused) Error() string { return "connection refused" }

type errGaveUp struct{}

func (errGaveUp) Error() string { return "gave up" }
