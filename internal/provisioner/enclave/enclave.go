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

// Package enclave installs and launches a Nitro enclave on a freshly
// provisioned VM over SSH, replacing the ssh2-crate-driven command
// sequence in original_source/src/aws.rs's run_enclave with
// golang.org/x/crypto/ssh.
package enclave

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/marlinprotocol/control-plane/internal/logging"
)

const (
	sshUser = "ubuntu"

	// memoryReserveMiB and cpuReserve are subtracted from the instance's
	// total capacity before allocating to the enclave, matching
	// original_source/src/aws.rs's `mem-2048` / `v_cpus-2`.
	memoryReserveMiB = 2048
	cpuReserve       = 2

	// runEnclaveMemoryReserveMiB is the separate reserve used only for the
	// nitro-cli run-enclave --memory flag (`mem-2200` in the original).
	runEnclaveMemoryReserveMiB = 2200

	enclaveCID = 88
)

// Installer installs the Nitro enclave runtime and launches the enclave
// image over SSH once a VM is reachable.
type Installer struct {
	keyLocPath string

	dialAttempts uint
	dialDelay    time.Duration

	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// New builds an Installer that authenticates with the private key at
// keyLocPath, mirroring original_source/src/aws.rs's ssh_connect
// (userauth_pubkey_file against the ubuntu user).
func New(keyLocPath string) *Installer {
	return &Installer{
		keyLocPath:   keyLocPath,
		dialAttempts: 20,
		dialDelay:    5 * time.Second,
		dial:         ssh.Dial,
	}
}

// Install connects to publicIP, configures the nitro-enclaves allocator for
// vCPUs/memMiB, uploads bandwidthRates (spec.md §6 "bandwidth", nil if
// unconfigured), fetches the enclave image from imageURL, configures NAT
// redirects, and launches the enclave.
func (i *Installer) Install(ctx context.Context, publicIP, imageURL string, vCPUs int32, memMiB int64, bandwidthRates []byte) error {
	log := logging.FromContext(ctx)

	client, err := i.connect(ctx, publicIP)
	if err != nil {
		return errors.Wrap(err, "enclave: ssh connect")
	}
	defer client.Close()

	allocatorMem := memMiB - memoryReserveMiB
	allocatorCPUs := int64(vCPUs) - cpuReserve
	runEnclaveMem := memMiB - runEnclaveMemoryReserveMiB

	if len(bandwidthRates) > 0 {
		if err := i.upload(client, "/home/ubuntu/bandwidth.txt", bandwidthRates); err != nil {
			return errors.Wrap(err, "enclave: uploading bandwidth rates")
		}
	}

	commands := []string{
		fmt.Sprintf("echo -e '---\\nmemory_mib: %d\\ncpu_count: %d' >> /home/ubuntu/allocator_new.yaml", allocatorMem, allocatorCPUs),
		"sudo cp /home/ubuntu/allocator_new.yaml /etc/nitro_enclaves/allocator.yaml",
		"sudo systemctl restart nitro-enclaves-allocator.service",
		fmt.Sprintf("wget -O enclave.eif %s", imageURL),
		"sudo iptables -A PREROUTING -t nat -p tcp --dport 80 -i ens5 -j REDIRECT --to-port 1200",
		"sudo iptables -A PREROUTING -t nat -p tcp --dport 443 -i ens5 -j REDIRECT --to-port 1200",
		"sudo iptables -A PREROUTING -t nat -p tcp --dport 1025:65535 -i ens5 -j REDIRECT --to-port 1200",
		fmt.Sprintf("nitro-cli run-enclave --cpu-count %d --memory %d --eif-path enclave.eif --enclave-cid %d", allocatorCPUs, runEnclaveMem, enclaveCID),
	}

	for _, cmd := range commands {
		out, err := i.run(client, cmd)
		if err != nil {
			return errors.Wrapf(err, "enclave: running %q", cmd)
		}
		log.Debugw("enclave install step", "command", cmd, "output", out)
	}

	log.Infow("enclave running", "publicIP", publicIP, "vCPUs", allocatorCPUs, "memMiB", allocatorMem)
	return nil
}

// upload writes data to remotePath over an SSH session's stdin, the same
// "pipe into a shell redirect" idiom the allocator config step above uses,
// for content too large to shell-escape into a single echo command.
func (i *Installer) upload(client *ssh.Client, remotePath string, data []byte) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)
	return session.Run(fmt.Sprintf("cat > %s", remotePath))
}

// connect dials SSH with a bounded retry, replacing the original's flat
// sleep before the first attempt (the instance may not yet be accepting
// connections immediately after waitForReachability observes a public IP).
func (i *Installer) connect(ctx context.Context, addr string) (*ssh.Client, error) {
	signer, err := loadSigner(i.keyLocPath)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            sshUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	var client *ssh.Client
	err = retry.Do(
		func() error {
			var dialErr error
			client, dialErr = i.dial("tcp", addr, config)
			return dialErr
		},
		retry.Context(ctx),
		retry.Attempts(i.dialAttempts),
		retry.Delay(i.dialDelay),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (i *Installer) run(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "enclave: reading private key %s", path)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "enclave: parsing private key")
	}
	return signer, nil
}
