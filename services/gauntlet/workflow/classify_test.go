// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"strings"
	"testing"
)

func TestClassifyVerification(t *testing.T) {
	tests := []struct {
		name        string
		exitCode    int
		stderr      string
		wantStatus  Status
		wantMention string
	}{
		{
			name:        "python missing module",
			exitCode:    1,
			stderr:      "Traceback (most recent call last):\n  File \"verify.py\", line 1\nModuleNotFoundError: No module named 'requests'",
			wantStatus:  StatusFailedImport,
			wantMention: "requests",
		},
		{
			name:        "python cannot import name",
			exitCode:    1,
			stderr:      "ImportError: cannot import name 'parse' from 'mylib'",
			wantStatus:  StatusFailedImport,
			wantMention: "parse",
		},
		{
			name:        "node missing module",
			exitCode:    1,
			stderr:      "Error: Cannot find module 'left-pad'\nRequire stack:",
			wantStatus:  StatusFailedImport,
			wantMention: "left-pad",
		},
		{
			name:        "go missing package",
			exitCode:    1,
			stderr:      "main.go:5:2: no required module provides package example.com/widgets",
			wantStatus:  StatusFailedImport,
			wantMention: "example.com/widgets",
		},
		{
			name:        "assertion failure is generic",
			exitCode:    1,
			stderr:      "AssertionError: expected 3, got 4",
			wantStatus:  StatusFailedVerification,
			wantMention: "code 1",
		},
		{
			name:        "segfault is generic",
			exitCode:    139,
			stderr:      "Segmentation fault (core dumped)",
			wantStatus:  StatusFailedVerification,
			wantMention: "code 139",
		},
		{
			name:       "empty stderr is generic",
			exitCode:   2,
			stderr:     "",
			wantStatus: StatusFailedVerification,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := classifyVerification("run-1", tt.exitCode, tt.stderr)
			if res.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", res.Status, tt.wantStatus)
			}
			if tt.wantMention != "" && !strings.Contains(res.Message, tt.wantMention) {
				t.Errorf("message %q does not mention %q", res.Message, tt.wantMention)
			}
			if res.CapturedStderr != tt.stderr {
				t.Errorf("stderr not carried through")
			}
		})
	}
}

func TestParseAdversarialFailures(t *testing.T) {
	output := strings.Join([]string{
		"running 4 adversarial tests",
		"GAUNTLET-FAIL test=test_empty_input claim=handles empty input gracefully type=IndexError: list index out of range",
		"some interleaved noise",
		"GAUNTLET-FAIL test=test_unicode claim=accepts any utf-8 type=UnicodeDecodeError: invalid byte",
		"GAUNTLET-FAIL malformed line without fields",
		"FAILED test_edges.py::test_negative - AssertionError: expected ValueError",
		"",
	}, "\n")

	failures := parseAdversarialFailures(output)
	if len(failures) != 3 {
		t.Fatalf("got %d failures, want 3: %+v", len(failures), failures)
	}

	first := failures[0]
	if first.TestName != "test_empty_input" {
		t.Errorf("TestName = %q", first.TestName)
	}
	if first.ClaimViolated != "handles empty input gracefully" {
		t.Errorf("ClaimViolated = %q", first.ClaimViolated)
	}
	if first.ErrorType != "IndexError" {
		t.Errorf("ErrorType = %q", first.ErrorType)
	}
	if first.ErrorMessage != "list index out of range" {
		t.Errorf("ErrorMessage = %q", first.ErrorMessage)
	}

	pytest := failures[2]
	if pytest.TestName != "test_negative" || pytest.ErrorType != "AssertionError" {
		t.Errorf("pytest fallback parsed wrong: %+v", pytest)
	}
}

func TestParseAdversarialFailures_CleanOutput(t *testing.T) {
	if got := parseAdversarialFailures("all 12 tests passed\n"); got != nil {
		t.Fatalf("expected no failures, got %+v", got)
	}
	if got := parseAdversarialFailures(""); got != nil {
		t.Fatalf("expected no failures on empty output, got %+v", got)
	}
}

func TestParseAdversarialFailures_CRLF(t *testing.T) {
	output := "GAUNTLET-FAIL test=t1 claim=c type=E: boom\r\n"
	failures := parseAdversarialFailures(output)
	if len(failures) != 1 || failures[0].ErrorMessage != "boom" {
		t.Fatalf("CRLF line not parsed: %+v", failures)
	}
}

func TestStatusExitCodes(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusPass, 0},
		{StatusDryRun, 0},
		{StatusFailedVerification, 1},
		{StatusFailedImport, 1},
		{StatusFailedAdversarial, 1},
		{StatusFailedTimeout, 1},
		{StatusBlockedDangerousScript, 2},
		{StatusBlockedDangerousOperation, 2},
		{StatusCancelled, 3},
	}
	for _, tt := range tests {
		if got := tt.status.ExitCode(); got != tt.want {
			t.Errorf("%s.ExitCode() = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	if StatusBlockedDangerousScript.String() != "blocked_dangerous_script" {
		t.Errorf("unexpected name %q", StatusBlockedDangerousScript.String())
	}
	if Status(99).String() != "unknown" {
		t.Errorf("out-of-range status should stringify as unknown")
	}
	if StageAdversarial.String() != "adversarial" {
		t.Errorf("unexpected stage name %q", StageAdversarial)
	}
}
