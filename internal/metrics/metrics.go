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

// Package metrics exposes the process-wide Prometheus counters the
// dispatcher and job manager increment. Grounded on the teacher's
// pkg/metrics package naming convention (a handful of package-level
// collectors registered once at init), adapted away from the
// controller-runtime metrics registry this system has no use for.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// JobsSpawned counts every JobManager goroutine the dispatcher has
	// started, including duplicates from reorg replays (spec.md §4.D
	// performs no deduplication).
	JobsSpawned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "control_plane",
		Name:      "jobs_spawned_total",
		Help:      "Total number of job manager goroutines spawned by the dispatcher.",
	})

	// InstancesSpunUp counts successful Provisioner.SpinUp calls across all
	// jobs.
	InstancesSpunUp = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "control_plane",
		Name:      "instances_spun_up_total",
		Help:      "Total number of cloud VMs successfully provisioned.",
	})

	// InstancesSpunDown counts successful Provisioner.SpinDown calls across
	// all jobs, independent of the reason (close, insolvency, rate drop).
	InstancesSpunDown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "control_plane",
		Name:      "instances_spun_down_total",
		Help:      "Total number of cloud VMs torn down.",
	})

	// InsolvencyTerminations counts jobs that exited via the insolvency
	// timer rather than JobClosed.
	InsolvencyTerminations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "control_plane",
		Name:      "insolvency_terminations_total",
		Help:      "Total number of job managers that exited due to predicted insolvency.",
	})

	// ActiveJobManagers tracks the number of currently running job manager
	// goroutines.
	ActiveJobManagers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "control_plane",
		Name:      "active_job_managers",
		Help:      "Number of job manager goroutines currently running.",
	})
)

func init() {
	prometheus.MustRegister(JobsSpawned, InstancesSpunUp, InstancesSpunDown, InsolvencyTerminations, ActiveJobManagers)
}
