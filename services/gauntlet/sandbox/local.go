// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build darwin || linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocalUnacknowledged is returned when a LocalRunner is constructed
// without the explicit acknowledgment that network isolation is not
// enforced in this mode.
var ErrLocalUnacknowledged = errors.New(
	"sandbox: local execution requires explicit acknowledgment (no network isolation)")

// LocalRunner executes scripts directly on the host as a fallback for
// environments without a container runtime.
//
// It sanitizes the environment to the allowlist, confines the working
// directory to the workspace, runs the script in its own session, and
// applies address-space and CPU rlimits via a ulimit wrapper in the
// child shell (setting limits in the child rather than the parent
// avoids racing the parent's own limits). It CANNOT disable network
// access, which is why construction demands an explicit
// acknowledgment and every run logs a warning.
type LocalRunner struct {
	maxOutput int
	logger    *slog.Logger
}

// NewLocalRunner creates the fallback runner.
//
// acknowledged must be true; it records that the caller understands
// local mode does not enforce network isolation.
func NewLocalRunner(logger *slog.Logger, acknowledged bool) (*LocalRunner, error) {
	if !acknowledged {
		return nil, ErrLocalUnacknowledged
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{
		maxOutput: DefaultMaxOutputBytes,
		logger:    logger,
	}, nil
}

// Run executes scriptPath directly under cfg.
func (r *LocalRunner) Run(ctx context.Context, scriptPath string, cfg Config) (*ExecResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rel, err := workspaceRelative(cfg.WorkspacePath, scriptPath)
	if err != nil {
		return nil, err
	}

	r.logger.Warn("running without container isolation; network access is NOT blocked",
		slog.String("script", rel),
	)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	// ulimit -v is in KiB; clamp to the current hard limit so the
	// child shell does not fail to start on restricted hosts.
	memKB := clampToHardLimit(unix.RLIMIT_AS, uint64(cfg.MemoryLimitMB)*1024)
	cpuSec := clampToHardLimit(unix.RLIMIT_CPU, uint64(cfg.Timeout.Seconds())+1)

	interp := strings.Join(interpreterFor(rel), " ")
	wrapper := fmt.Sprintf("ulimit -v %d -t %d 2>/dev/null; exec %s %s",
		memKB, cpuSec, interp, shellQuote(rel))

	cmd := exec.CommandContext(runCtx, "/bin/bash", "-c", wrapper)
	cmd.Dir = cfg.WorkspacePath
	cmd.Env = sanitizedEnv(cfg.WorkspacePath)

	result, err := capture(runCtx, cmd, r.maxOutput)
	if err != nil {
		return result, fmt.Errorf("sandbox: local run failed: %w", err)
	}
	if result.TimedOut {
		r.logger.Warn("local run timed out", slog.Duration("timeout", cfg.Timeout))
	}
	return result, nil
}

// clampToHardLimit bounds a requested rlimit value by the current hard
// limit for the resource.
func clampToHardLimit(resource int, want uint64) uint64 {
	var lim unix.Rlimit
	if err := unix.Getrlimit(resource, &lim); err != nil {
		return want
	}
	if lim.Max != unix.RLIM_INFINITY && want > lim.Max {
		return lim.Max
	}
	return want
}

// shellQuote single-quotes a path for safe inclusion in the ulimit
// wrapper command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
