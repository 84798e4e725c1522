// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs a single script inside an isolated,
// resource-limited environment and returns captured output and exit
// status.
//
// The primary isolation boundary is a container runtime (podman or
// docker): filesystem access is limited to the mounted workspace,
// network is disabled unless explicitly enabled, and memory/CPU caps
// are enforced by the runtime rather than inside the script. A
// local-exec fallback exists for environments without a container
// runtime; it sanitizes the environment and applies rlimits but
// cannot enforce network isolation, so it must be opted into
// explicitly.
//
// The only cancellation mechanism is the stage timeout, which
// terminates the whole process group non-cooperatively.
package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// Fixed policy defaults for sandbox stages.
const (
	// DefaultMemoryLimitMB caps sandbox memory at 2 GiB.
	DefaultMemoryLimitMB = 2048

	// DefaultCPULimit caps the sandbox at 2 CPUs.
	DefaultCPULimit = 2.0

	// DefaultVerificationTimeout bounds the verification stage.
	DefaultVerificationTimeout = 5 * time.Minute

	// DefaultAdversarialTimeout bounds the adversarial stage.
	DefaultAdversarialTimeout = 10 * time.Minute

	// DefaultMaxOutputBytes caps captured stdout/stderr per stream.
	DefaultMaxOutputBytes = 1 << 20
)

// Sentinel errors for sandbox configuration and execution.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("sandbox: nil context")

	// ErrNoWorkspace is returned when the config has no workspace path.
	ErrNoWorkspace = errors.New("sandbox: workspace path required")

	// ErrScriptOutsideWorkspace is returned when the script does not
	// live under the mounted workspace.
	ErrScriptOutsideWorkspace = errors.New("sandbox: script outside workspace")

	// ErrNoRuntime is returned at construction when no container
	// runtime is available. This is the fatal isolation-boundary
	// failure: it propagates as a plain error, never as a workflow
	// status, because the safety guarantee cannot be established.
	ErrNoRuntime = errors.New("sandbox: no container runtime found")
)

// Config holds the isolation parameters for one sandbox invocation.
//
// A fresh Config is constructed per stage from policy defaults plus
// the stage timeout; configs are value types and are never shared or
// mutated between stages.
type Config struct {
	// MemoryLimitMB caps the sandbox's memory, in MiB.
	MemoryLimitMB int

	// CPULimit caps the sandbox's CPU allocation (fractional CPUs).
	CPULimit float64

	// NetworkEnabled allows outbound network access when true.
	NetworkEnabled bool

	// Timeout is the hard wall-clock bound for the run.
	Timeout time.Duration

	// WorkspacePath is the only host path mounted into the sandbox.
	WorkspacePath string
}

// NewConfig returns a stage config with the fixed policy defaults
// (network disabled, 2 GiB memory, 2 CPUs) and the given timeout.
func NewConfig(workspacePath string, timeout time.Duration) Config {
	return Config{
		MemoryLimitMB:  DefaultMemoryLimitMB,
		CPULimit:       DefaultCPULimit,
		NetworkEnabled: false,
		Timeout:        timeout,
		WorkspacePath:  workspacePath,
	}
}

// Validate checks that the config can drive a sandbox run.
func (c Config) Validate() error {
	if c.WorkspacePath == "" {
		return ErrNoWorkspace
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("sandbox: timeout must be positive, got %v", c.Timeout)
	}
	if c.MemoryLimitMB <= 0 {
		return fmt.Errorf("sandbox: memory limit must be positive, got %d", c.MemoryLimitMB)
	}
	if c.CPULimit <= 0 {
		return fmt.Errorf("sandbox: cpu limit must be positive, got %f", c.CPULimit)
	}
	return nil
}
