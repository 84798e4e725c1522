// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultImage is the container image scripts run in. It carries bash
// and python3, which covers both script languages the scanner accepts.
const DefaultImage = "docker.io/library/python:3.12-slim"

// containerMount is where the workspace appears inside the container.
const containerMount = "/workspace"

// ContainerRunner executes scripts under podman or docker.
//
// The runtime enforces every isolation property: only the workspace is
// mounted, network is attached only when the config enables it, and
// memory/CPU caps apply at the container boundary.
//
// Thread Safety: Safe for concurrent use. Each Run creates its own
// container with a unique name.
type ContainerRunner struct {
	runtime   string // absolute path to podman or docker
	image     string
	maxOutput int
	logger    *slog.Logger
}

// ContainerOption configures a ContainerRunner.
type ContainerOption func(*ContainerRunner)

// WithImage overrides the container image.
func WithImage(image string) ContainerOption {
	return func(r *ContainerRunner) {
		if image != "" {
			r.image = image
		}
	}
}

// WithMaxOutput overrides the per-stream output capture cap.
func WithMaxOutput(n int) ContainerOption {
	return func(r *ContainerRunner) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// NewContainerRunner locates a container runtime and returns a runner.
//
// Podman is preferred over docker when both are present. Returns
// ErrNoRuntime when neither is installed; callers must treat that as
// fatal — without the isolation primitive the pipeline's safety
// guarantee cannot be established, so this never maps to a workflow
// status.
func NewContainerRunner(logger *slog.Logger, opts ...ContainerOption) (*ContainerRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ContainerRunner{
		image:     DefaultImage,
		maxOutput: DefaultMaxOutputBytes,
		logger:    logger,
	}
	for _, name := range []string{"podman", "docker"} {
		if bin, err := exec.LookPath(name); err == nil {
			r.runtime = bin
			break
		}
	}
	if r.runtime == "" {
		return nil, ErrNoRuntime
	}
	for _, opt := range opts {
		opt(r)
	}
	logger.Debug("container runner ready",
		slog.String("runtime", r.runtime),
		slog.String("image", r.image),
	)
	return r, nil
}

// Run executes scriptPath inside a fresh container under cfg.
func (r *ContainerRunner) Run(ctx context.Context, scriptPath string, cfg Config) (*ExecResult, error) {
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

	name := "gauntlet-" + uuid.NewString()
	args := r.buildRunArgs(name, rel, cfg)

	r.logger.Debug("starting sandboxed run",
		slog.String("container", name),
		slog.String("script", rel),
		slog.Duration("timeout", cfg.Timeout),
		slog.Bool("network", cfg.NetworkEnabled),
	)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.runtime, args...)
	result, err := capture(runCtx, cmd, r.maxOutput)
	if err != nil {
		return result, fmt.Errorf("sandbox: container run failed: %w", err)
	}

	if result.TimedOut {
		// The client process is dead but the container may linger;
		// remove it with a fresh, short-lived context.
		r.removeContainer(name)
		r.logger.Warn("sandboxed run timed out",
			slog.String("container", name),
			slog.Duration("timeout", cfg.Timeout),
		)
	} else {
		r.logger.Info("sandboxed run completed",
			slog.String("container", name),
			slog.Int("exit_code", result.ExitCode),
			slog.Duration("duration", result.Duration),
			slog.Bool("truncated", result.Truncated),
		)
	}
	return result, nil
}

// buildRunArgs assembles the container invocation for one run.
func (r *ContainerRunner) buildRunArgs(name, relScript string, cfg Config) []string {
	network := "none"
	if cfg.NetworkEnabled {
		network = "bridge"
	}
	args := []string{
		"run", "--rm",
		"--name", name,
		"--network", network,
		"--memory", fmt.Sprintf("%dm", cfg.MemoryLimitMB),
		"--cpus", fmt.Sprintf("%g", cfg.CPULimit),
		"--pids-limit", "256",
		"--volume", cfg.WorkspacePath + ":" + containerMount + ":rw",
		"--workdir", containerMount,
	}
	// The container starts with an empty environment; only the
	// allowlist is passed through. Docker never forwards host env;
	// podman is told not to explicitly.
	if filepath.Base(r.runtime) == "podman" {
		args = append(args, "--env-host=false")
	}
	for _, kv := range sanitizedEnv(containerMount) {
		args = append(args, "--env", kv)
	}
	args = append(args, r.image)
	args = append(args, interpreterFor(relScript)...)
	args = append(args, path.Join(containerMount, relScript))
	return args
}

// removeContainer force-removes a container left behind by a timeout.
func (r *ContainerRunner) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, r.runtime, "rm", "-f", name).Run(); err != nil {
		r.logger.Warn("container cleanup failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
		)
	}
}
