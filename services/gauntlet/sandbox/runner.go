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
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExecResult is the captured outcome of one sandboxed run.
type ExecResult struct {
	// ExitCode is the script's exit code; -1 when it never exited
	// normally (timeout, spawn failure).
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output, possibly truncated.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error, possibly truncated.
	Stderr string `json:"stderr"`

	// TimedOut is true when the stage timeout expired and the process
	// group was killed.
	TimedOut bool `json:"timed_out"`

	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`

	// Truncated is true when either output stream hit the capture cap.
	Truncated bool `json:"truncated"`
}

// Runner executes one script inside an isolation boundary.
//
// Implementations block until the script completes or the configured
// timeout expires; the timeout is the only cancellation mechanism.
type Runner interface {
	// Run executes scriptPath under cfg and returns captured output.
	//
	// The returned error covers adapter-level failures (bad config,
	// script outside workspace, runtime invocation failure); a
	// non-zero script exit is reported via ExecResult.ExitCode, not
	// as an error. On timeout, Run returns a result with
	// TimedOut=true and a nil error.
	Run(ctx context.Context, scriptPath string, cfg Config) (*ExecResult, error)
}

// interpreterFor maps a script to the command that runs it inside the
// sandbox. Shell scripts run under bash, Python under python3.
func interpreterFor(scriptPath string) []string {
	switch filepath.Ext(scriptPath) {
	case ".py":
		return []string{"python3"}
	default:
		return []string{"bash"}
	}
}

// workspaceRelative resolves scriptPath relative to the workspace
// mount, refusing paths that escape it.
func workspaceRelative(workspacePath, scriptPath string) (string, error) {
	absWorkspace, err := filepath.Abs(workspacePath)
	if err != nil {
		return "", err
	}
	absScript, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absWorkspace, absScript)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrScriptOutsideWorkspace
	}
	return rel, nil
}

// capture runs a prepared command with size-limited output capture and
// process-group cleanup, translating context expiry into TimedOut.
func capture(ctx context.Context, cmd *exec.Cmd, maxOutput int) (*ExecResult, error) {
	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	setupProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, err
	}
	result.ExitCode = 0
	return result, nil
}

// limitedWriter wraps a writer with a size limit. Writes past the
// limit are dropped and recorded as truncation.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	full := len(p)
	if l.written >= l.limit {
		l.truncated = true
		return full, nil
	}
	if remaining := l.limit - l.written; len(p) > remaining {
		l.truncated = true
		p = p[:remaining]
	}
	n, err := l.w.Write(p)
	l.written += n
	if err != nil {
		return n, err
	}
	// Report full consumption so the producing process never sees a
	// short write.
	return full, nil
}
