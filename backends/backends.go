// Copyright 2025-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a kernel-execution service needs to
// implement to execute block-sparse matrix multiplications for this library.
//
// The dispatch layer (package ops) resolves operands -- including their
// orientation (transpose) -- into DenseOperand/SparseOperand values and calls
// Backend.Matmul; the backend performs all floating-point arithmetic. The
// portable pure-Go implementation lives in backends/simplego; accelerator
// backends register themselves with Register.
//
// Backends may enqueue work asynchronously on an execution stream: operations
// issued in program order on the same stream execute in order, cross-stream
// ordering is the caller's responsibility.
package backends

import (
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// DeviceNum identifies which device holds a buffer or executes a kernel.
// It is interpreted by the backend and must be in [0, Backend.NumDevices) for
// accelerator-resident buffers. The special value Host marks host (CPU)
// resident buffers.
type DeviceNum int

// Host is the DeviceNum of host (CPU) resident buffers.
const Host = DeviceNum(-1)

// IsHost returns whether d refers to host memory.
func (d DeviceNum) IsHost() bool { return d < 0 }

func (d DeviceNum) String() string {
	if d.IsHost() {
		return "host"
	}
	return fmt.Sprintf("device#%d", int(d))
}

// Backend is the kernel-execution service consumed by package ops.
type Backend interface {
	// Name returns the short name of the backend, e.g. "go" for the portable
	// pure-Go backend.
	Name() string

	// Description is a longer description of the Backend that can be used to
	// pretty-print.
	Description() string

	// NumDevices returns the number of accelerator devices available.
	NumDevices() DeviceNum

	// Matmul executes one block-sparse matrix multiplication.
	//
	// lhs and rhs carry the resolved buffers and orientation of each operand;
	// which of them must be dense or sparse is determined by mode. For the
	// sparse-output modes (MatmulSDD and MatmulSSD) topology carries the BCSR
	// structure of the output and Matmul returns the nnz*B*B block payload in
	// topology order; for the dense-output modes topology must be nil and
	// Matmul returns the row-major dense product (rows*cols values).
	//
	// Block data is 16-bit float, block indices 16-bit int, row offsets
	// 32-bit int; the backend must honor the block size as passed.
	Matmul(mode MatmulMode, lhs, rhs Operand, topology *SparseOperand) ([]float16.Float16, error)

	// Finalize releases all associated resources immediately and makes the
	// backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend with the given name and a constructor that takes a
// backend-specific configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if BLOCKSPARSE_BACKEND is
// not set. See NewWithConfig for the format.
var DefaultConfig string

// BLOCKSPARSE_BACKEND is the environment variable with the default backend
// configuration.
//
// The format is "<backend_name>" or "<backend_name>:<backend_configuration>",
// where "<backend_name>" is the name of a registered backend (e.g.: "go").
const BLOCKSPARSE_BACKEND = "BLOCKSPARSE_BACKEND"

// New returns a new Backend using the default configuration.
//
// The default is:
//
//  1. The environment variable BLOCKSPARSE_BACKEND, if defined.
//  2. The variable DefaultConfig, if set.
//  3. The first registered backend with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(BLOCKSPARSE_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>" or "<backend_name>:<backend_configuration>".
// An empty string selects the first registered backend.
//
// It panics if the named backend was not registered.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- import the portable one with import _ "github.com/gomlx/blocksparse/backends/simplego"`)
	}
	backendName := firstRegistered
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if config != "" {
		backendName = config
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	backend := constructor(backendConfig)
	klog.V(1).Infof("backends.New: using backend %q (%s)", backend.Name(), backend.Description())
	return backend
}
