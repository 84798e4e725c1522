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
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	valid := NewConfig("/tmp/ws", time.Minute)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workspace", func(c *Config) { c.WorkspacePath = "" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative memory", func(c *Config) { c.MemoryLimitMB = -1 }},
		{"zero cpu", func(c *Config) { c.CPULimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/tmp/ws", time.Minute)
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/ws", DefaultVerificationTimeout)
	if cfg.NetworkEnabled {
		t.Error("network must default to disabled")
	}
	if cfg.MemoryLimitMB != DefaultMemoryLimitMB {
		t.Errorf("memory = %d, want %d", cfg.MemoryLimitMB, DefaultMemoryLimitMB)
	}
	if cfg.CPULimit != DefaultCPULimit {
		t.Errorf("cpu = %f, want %f", cfg.CPULimit, DefaultCPULimit)
	}
}

func TestWorkspaceRelative(t *testing.T) {
	tests := []struct {
		name      string
		workspace string
		script    string
		want      string
		wantErr   bool
	}{
		{"inside", "/ws", "/ws/verify.sh", "verify.sh", false},
		{"nested", "/ws", "/ws/scripts/run.py", "scripts/run.py", false},
		{"outside", "/ws", "/etc/passwd", "", true},
		{"parent escape", "/ws", "/ws/../other/x.sh", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := workspaceRelative(tt.workspace, tt.script)
			if tt.wantErr {
				if !errors.Is(err, ErrScriptOutsideWorkspace) {
					t.Errorf("want ErrScriptOutsideWorkspace, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("rel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInterpreterFor(t *testing.T) {
	if got := interpreterFor("adversarial.py"); got[0] != "python3" {
		t.Errorf("python script got %v", got)
	}
	if got := interpreterFor("verify.sh"); got[0] != "bash" {
		t.Errorf("shell script got %v", got)
	}
	if got := interpreterFor("verify"); got[0] != "bash" {
		t.Errorf("extensionless script got %v", got)
	}
}

func TestLimitedWriter_Truncation(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	n, err := lw.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if n != 16 {
		t.Errorf("Write() reported %d bytes consumed, want 16", n)
	}
	if buf.String() != "0123456789" {
		t.Errorf("captured %q, want first 10 bytes", buf.String())
	}
	if !lw.truncated {
		t.Error("truncated flag not set")
	}

	// Subsequent writes are swallowed entirely.
	if n, _ := lw.Write([]byte("more")); n != 4 {
		t.Errorf("post-limit Write() = %d, want 4", n)
	}
	if buf.Len() != 10 {
		t.Errorf("buffer grew past limit: %d", buf.Len())
	}
}

func TestLimitedWriter_UnderLimit(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 100}
	if _, err := lw.Write([]byte("short")); err != nil {
		t.Fatal(err)
	}
	if lw.truncated {
		t.Error("truncated set without exceeding limit")
	}
	if !strings.Contains(buf.String(), "short") {
		t.Errorf("content missing: %q", buf.String())
	}
}

func TestNewContainerRunner_NoRuntime(t *testing.T) {
	t.Setenv("PATH", t.TempDir()) // empty dir: no podman, no docker

	_, err := NewContainerRunner(nil)
	if !errors.Is(err, ErrNoRuntime) {
		t.Errorf("want ErrNoRuntime, got %v", err)
	}
}

func TestContainerRunner_BuildRunArgs(t *testing.T) {
	r := &ContainerRunner{
		runtime:   "/usr/bin/podman",
		image:     DefaultImage,
		maxOutput: DefaultMaxOutputBytes,
	}
	cfg := NewConfig("/ws", DefaultVerificationTimeout)
	args := strings.Join(r.buildRunArgs("gauntlet-test", "verify.sh", cfg), " ")

	for _, want := range []string{
		"--network none",
		"--memory 2048m",
		"--cpus 2",
		"--volume /ws:/workspace:rw",
		"--env-host=false",
		"bash /workspace/verify.sh",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
	if strings.Contains(args, "--network bridge") {
		t.Error("network enabled without config")
	}
}

func TestContainerRunner_BuildRunArgs_NetworkEnabled(t *testing.T) {
	r := &ContainerRunner{runtime: "/usr/bin/docker", image: DefaultImage}
	cfg := NewConfig("/ws", time.Minute)
	cfg.NetworkEnabled = true
	args := strings.Join(r.buildRunArgs("n", "run.py", cfg), " ")

	if !strings.Contains(args, "--network bridge") {
		t.Errorf("expected bridge network: %s", args)
	}
	if strings.Contains(args, "--env-host") {
		t.Errorf("docker must not get podman-only flag: %s", args)
	}
	if !strings.Contains(args, "python3 /workspace/run.py") {
		t.Errorf("python interpreter missing: %s", args)
	}
}

func TestSanitizedEnv(t *testing.T) {
	env := sanitizedEnv("/ws")

	joined := strings.Join(env, "\n")
	for _, want := range []string{"PATH=", "HOME=/ws", "GAUNTLET_SANDBOX=1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("env missing %q: %v", want, env)
		}
	}
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "PATH", "HOME", "TMPDIR", "LANG", "LC_ALL", "TERM", "GAUNTLET_SANDBOX":
		default:
			t.Errorf("unexpected env var %q leaked into allowlist", key)
		}
	}
}
