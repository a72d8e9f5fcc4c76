/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics holds the prometheus collectors of the core on a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "shmipc"

// Result label values.
const (
	ResultAcquired             = "acquired"
	ResultLockedByOtherProcess = "locked_by_other_process"
	ResultError                = "error"
	ResultAllocated            = "allocated"
	ResultRejected             = "rejected"
)

var (
	// Registry is never the global default registry, so embedding applications keep control.
	Registry = prometheus.NewRegistry()

	FileLockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filelock",
		Name:      "acquisitions_total",
		Help:      "File lock acquisition attempts by result.",
	}, []string{"result"})

	SharedMemoryObjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "shared_memory",
		Name:      "objects_total",
		Help:      "Shared memory objects created, by whether this process owns the segment.",
	}, []string{"ownership"})

	Allocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "shared_memory",
		Name:      "allocations_total",
		Help:      "Bump allocations from shared memory objects by result.",
	}, []string{"result"})

	SegmentSizeBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "segment",
		Name:      "size_bytes",
		Help:      "Size of a daemon managed segment.",
	}, []string{"name"})

	SegmentUsedBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "segment",
		Name:      "used_bytes",
		Help:      "Bytes carved out of a daemon managed segment.",
	}, []string{"name"})
)

func init() {
	Registry.MustRegister(
		FileLockAcquisitions,
		SharedMemoryObjects,
		Allocations,
		SegmentSizeBytes,
		SegmentUsedBytes,
	)
}

// CounterValue reads the current value of c.
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
