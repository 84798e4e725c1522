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
	"fmt"
	"regexp"
	"strings"
)

// === SECTION: Verification Failure Classification ===

// Import failures get their own status because they mean the
// implementation is not even loadable; everything else that exits
// non-zero is a generic verification failure. Signatures cover the
// interpreters and toolchains the sandbox image ships.
var importSignatures = []*regexp.Regexp{
	// Python 3: ModuleNotFoundError: No module named 'requests'
	regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`),
	// Python 2/3: ImportError: cannot import name 'X' from 'Y'
	regexp.MustCompile(`ImportError: cannot import name '([^']+)'`),
	regexp.MustCompile(`ImportError: No module named ['"]?([\w.]+)`),
	// Node: Error: Cannot find module 'left-pad'
	regexp.MustCompile(`Cannot find module '([^']+)'`),
	// Go: no required module provides package example.com/foo
	regexp.MustCompile(`no required module provides package (\S+)`),
	regexp.MustCompile(`package (\S+) is not in std`),
	regexp.MustCompile(`cannot find package "([^"]+)"`),
}

// classifyVerification inspects a non-zero verification run's stderr
// and returns the terminal status plus a one-line message naming what
// went wrong. A matched import signature wins over the generic case.
func classifyVerification(runID string, exitCode int, stderr string) *Result {
	for _, sig := range importSignatures {
		m := sig.FindStringSubmatch(stderr)
		if m == nil {
			continue
		}
		msg := fmt.Sprintf("verification failed to import module %q", m[1])
		return failedImportResult(runID, msg, stderr)
	}
	msg := fmt.Sprintf("verification script exited with code %d", exitCode)
	return failedVerificationResult(runID, msg, stderr)
}

// === SECTION: Adversarial Output Parsing ===

// failLineRe matches the structured failure lines the testing agent is
// instructed to emit:
//
//	GAUNTLET-FAIL test=<name> claim=<claim text> type=<error type>: <message>
//
// The claim field may contain spaces, so it is matched non-greedily up
// to the type field.
var failLineRe = regexp.MustCompile(`^GAUNTLET-FAIL test=(\S+) claim=(.*?) type=([^:]+): (.*)$`)

// pytestFailRe is a fallback for agents that run pytest and forward
// its summary instead of the structured lines:
//
//	FAILED test_edges.py::test_empty_input - AssertionError: boom
var pytestFailRe = regexp.MustCompile(`^FAILED \S+::(\S+) - (\w+): (.*)$`)

// parseAdversarialFailures extracts individual test failures from the
// generated script's combined output. The output is adversary-adjacent
// data: malformed lines are skipped, never errors.
func parseAdversarialFailures(output string) []TestFailure {
	var failures []TestFailure
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := failLineRe.FindStringSubmatch(line); m != nil {
			failures = append(failures, TestFailure{
				TestName:      m[1],
				ClaimViolated: strings.TrimSpace(m[2]),
				ErrorType:     strings.TrimSpace(m[3]),
				ErrorMessage:  m[4],
			})
			continue
		}
		if m := pytestFailRe.FindStringSubmatch(line); m != nil {
			failures = append(failures, TestFailure{
				TestName:     m[1],
				ErrorType:    m[2],
				ErrorMessage: m[3],
			})
		}
	}
	return failures
}

// summarizeFailures builds the human-readable message for an
// adversarial failure result.
func summarizeFailures(failures []TestFailure, exitCode int) string {
	if len(failures) == 0 {
		return fmt.Sprintf("adversarial run exited with code %d and reported no structured failures", exitCode)
	}
	names := make([]string, 0, len(failures))
	for _, f := range failures {
		names = append(names, f.TestName)
	}
	return fmt.Sprintf("%d adversarial test(s) failed: %s", len(failures), strings.Join(names, ", "))
}
