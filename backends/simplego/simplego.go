// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable
// pure-Go backend for the block-sparse matmul family.
//
// It executes all five MatmulMode kernels on the host with float32
// accumulation over the fp16 block data. It is the testing substrate of this
// library; accelerator backends are expected to register themselves with
// backends.Register and execute the same contracts on device.
package simplego

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gomlx/blocksparse/backends"
)

// BackendName to be used in BLOCKSPARSE_BACKEND to select this backend.
const BackendName = "go"

// Registers New as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
// There are no configurations, the string is simply ignored.
func New(_ string) backends.Backend {
	return &Backend{maxParallelism: runtime.GOMAXPROCS(0)}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	// maxParallelism caps the number of concurrent kernel workers.
	maxParallelism int
	currentWorkers atomic.Int32
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string { return "SimpleGo portable block-sparse backend" }

// NumDevices implements backends.Backend. The host is the only device.
func (b *Backend) NumDevices() backends.DeviceNum { return 1 }

// Finalize implements backends.Backend. There are no resources to release.
func (b *Backend) Finalize() {}

// SetMaxParallelism caps the number of concurrent workers used by the
// kernels. Values < 1 disable parallelism.
func (b *Backend) SetMaxParallelism(n int) {
	b.maxParallelism = n
}

// startWorker runs fn in a separate goroutine, if there are enough workers
// left. It returns true if it found a worker to run the function, false
// otherwise, in which case the caller should run fn inline.
//
// It's up to the caller to synchronize the end of the function execution.
func (b *Backend) startWorker(fn func()) bool {
	if b.maxParallelism > 0 && b.currentWorkers.Load() >= int32(b.maxParallelism) {
		return false
	}
	b.currentWorkers.Add(1)
	go func() {
		fn()
		b.currentWorkers.Add(-1)
	}()
	return true
}

// parallelFor runs fn(i) for i in [0, n), spreading across workers and
// blocking until all are done. fn calls for different i must touch disjoint
// output regions.
func (b *Backend) parallelFor(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			fn(i)
		}
		if !b.startWorker(task) {
			task()
		}
	}
	wg.Wait()
}
