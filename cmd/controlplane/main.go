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

// Command controlplane is the process entry point: parse configuration,
// build the Supervisor, and run it until an interrupt or terminate signal
// arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marlinprotocol/control-plane/internal/config"
	"github.com/marlinprotocol/control-plane/internal/logging"
	"github.com/marlinprotocol/control-plane/internal/supervisor"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on clean shutdown, non-zero on a
// configuration or startup error, per spec.md §7.
func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "controlplane:", err)
		return 1
	}

	logger := logging.NewOrDie()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	sup, err := supervisor.New(ctx, cfg)
	if err != nil {
		logger.Errorw("failed to construct supervisor", "error", err)
		return 1
	}

	if err := sup.Run(ctx); err != nil {
		logger.Errorw("control plane exited with error", "error", err)
		return 1
	}
	return 0
}
