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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

func localRunner(t *testing.T) *LocalRunner {
	t.Helper()
	r, err := NewLocalRunner(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNewLocalRunner_RequiresAcknowledgment(t *testing.T) {
	_, err := NewLocalRunner(nil, false)
	if !errors.Is(err, ErrLocalUnacknowledged) {
		t.Errorf("want ErrLocalUnacknowledged, got %v", err)
	}
}

func TestLocalRunner_CapturesOutput(t *testing.T) {
	ws := t.TempDir()
	script := writeScript(t, ws, "verify.sh", "#!/bin/bash\necho out-line\necho err-line >&2\n")

	result, err := localRunner(t).Run(context.Background(), script, NewConfig(ws, time.Minute))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, stderr: %s", result.ExitCode, result.Stderr)
	}
	if !strings.Contains(result.Stdout, "out-line") {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "err-line") {
		t.Errorf("stderr = %q", result.Stderr)
	}
	if result.TimedOut {
		t.Error("unexpected timeout")
	}
}

func TestLocalRunner_NonZeroExit(t *testing.T) {
	ws := t.TempDir()
	script := writeScript(t, ws, "fail.sh", "exit 3\n")

	result, err := localRunner(t).Run(context.Background(), script, NewConfig(ws, time.Minute))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestLocalRunner_Timeout(t *testing.T) {
	ws := t.TempDir()
	script := writeScript(t, ws, "slow.sh", "sleep 600\n")

	cfg := NewConfig(ws, 300*time.Millisecond)
	start := time.Now()
	result, err := localRunner(t).Run(context.Background(), script, cfg)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if result.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", result.ExitCode)
	}
	// Must return within timeout plus the process-group wait buffer,
	// never anywhere near the script's sleep.
	if elapsed > cfg.Timeout+processGroupWaitDelay+2*time.Second {
		t.Errorf("run took %v, want ~%v", elapsed, cfg.Timeout)
	}
}

func TestLocalRunner_KillsProcessGroup(t *testing.T) {
	ws := t.TempDir()
	// The child spawns its own background child; both must die at
	// timeout without holding the pipes open.
	script := writeScript(t, ws, "forker.sh", "sleep 600 &\nsleep 600\n")

	cfg := NewConfig(ws, 300*time.Millisecond)
	start := time.Now()
	result, err := localRunner(t).Run(context.Background(), script, cfg)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("orphaned child held the run open for %v", elapsed)
	}
}

func TestLocalRunner_EnvironmentSanitized(t *testing.T) {
	t.Setenv("SECRET_TOKEN", "leaky")

	ws := t.TempDir()
	script := writeScript(t, ws, "env.sh",
		"echo \"token=${SECRET_TOKEN:-unset}\"\necho \"home=$HOME\"\necho \"mark=$GAUNTLET_SANDBOX\"\n")

	result, err := localRunner(t).Run(context.Background(), script, NewConfig(ws, time.Minute))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(result.Stdout, "token=unset") {
		t.Errorf("credential leaked into sandbox: %q", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "home="+ws) {
		t.Errorf("HOME not confined to workspace: %q", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "mark=1") {
		t.Errorf("sandbox marker missing: %q", result.Stdout)
	}
}

func TestLocalRunner_ScriptOutsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	other := t.TempDir()
	script := writeScript(t, other, "evil.sh", "echo hi\n")

	_, err := localRunner(t).Run(context.Background(), script, NewConfig(ws, time.Minute))
	if !errors.Is(err, ErrScriptOutsideWorkspace) {
		t.Errorf("want ErrScriptOutsideWorkspace, got %v", err)
	}
}

func TestLocalRunner_PythonScript(t *testing.T) {
	ws := t.TempDir()
	script := writeScript(t, ws, "check.py", "print(\"python-ok\")\n")

	result, err := localRunner(t).Run(context.Background(), script, NewConfig(ws, time.Minute))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.ExitCode == 0 && !strings.Contains(result.Stdout, "python-ok") {
		t.Errorf("stdout = %q", result.Stdout)
	}
}
