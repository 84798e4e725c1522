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
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/safety"
)

// TestFailure is one failed adversarial test, parsed from the
// generated script's output.
//
// ClaimViolated is the claim text the failing test was asserting.
// Untrusted input: everything here came from a generated script's
// stdout and should be treated as display data, never re-executed or
// interpolated into commands.
type TestFailure struct {
	TestName      string `json:"test_name"`
	ClaimViolated string `json:"claim_violated"`
	ErrorType     string `json:"error_type"`
	ErrorMessage  string `json:"error_message"`
	Trace         string `json:"trace,omitempty"`
}

// Result is the aggregated outcome of one run.
//
// Invariants, enforced by the constructors below:
//   - Status is exactly one terminal variant.
//   - Failures is non-empty only for StatusFailedAdversarial, and a
//     generation failure legitimately leaves it empty.
//   - BlockedPatterns is non-empty only for the blocked statuses.
//   - TimeoutStage is meaningful only for StatusFailedTimeout.
//   - Cost is nil when no agent call was made (dry runs, early
//     terminations, budget skips).
type Result struct {
	RunID           string                    `json:"run_id"`
	Status          Status                    `json:"status"`
	TimeoutStage    *Stage                    `json:"timeout_stage,omitempty"`
	Message         string                    `json:"message,omitempty"`
	CapturedStderr  string                    `json:"captured_stderr,omitempty"`
	Failures        []TestFailure             `json:"failures,omitempty"`
	BlockedPatterns []safety.DangerousPattern `json:"blocked_patterns,omitempty"`
	Cost            *float64                  `json:"cost,omitempty"`

	// AdversarialSkipped is true on a Pass whose adversarial stage was
	// skipped by the budget check; automation can branch on this
	// instead of parsing Message.
	AdversarialSkipped bool `json:"adversarial_skipped,omitempty"`
}

func passResult(runID, message string, cost *float64) *Result {
	return &Result{RunID: runID, Status: StatusPass, Message: message, Cost: cost}
}

func budgetSkippedResult(runID, message string) *Result {
	return &Result{
		RunID:              runID,
		Status:             StatusPass,
		Message:            message,
		AdversarialSkipped: true,
	}
}

func dryRunResult(runID, preview string) *Result {
	return &Result{RunID: runID, Status: StatusDryRun, Message: preview}
}

func cancelledResult(runID string) *Result {
	return &Result{
		RunID:   runID,
		Status:  StatusCancelled,
		Message: "run declined at confirmation gate",
	}
}

func failedVerificationResult(runID, message, stderr string) *Result {
	return &Result{
		RunID:          runID,
		Status:         StatusFailedVerification,
		Message:        message,
		CapturedStderr: stderr,
	}
}

func failedImportResult(runID, message, stderr string) *Result {
	return &Result{
		RunID:          runID,
		Status:         StatusFailedImport,
		Message:        message,
		CapturedStderr: stderr,
	}
}

func failedAdversarialResult(runID, message, stderr string, failures []TestFailure, cost *float64) *Result {
	return &Result{
		RunID:          runID,
		Status:         StatusFailedAdversarial,
		Message:        message,
		CapturedStderr: stderr,
		Failures:       failures,
		Cost:           cost,
	}
}

func timeoutResult(runID string, stage Stage, stderr string, cost *float64) *Result {
	s := stage
	return &Result{
		RunID:          runID,
		Status:         StatusFailedTimeout,
		TimeoutStage:   &s,
		Message:        "sandbox run exceeded the " + stage.String() + " timeout",
		CapturedStderr: stderr,
		Cost:           cost,
	}
}

func blockedScriptResult(runID, message string, patterns []safety.DangerousPattern, cost *float64) *Result {
	return &Result{
		RunID:           runID,
		Status:          StatusBlockedDangerousScript,
		Message:         message,
		BlockedPatterns: patterns,
		Cost:            cost,
	}
}

func blockedOperationResult(runID, message string) *Result {
	return &Result{
		RunID:   runID,
		Status:  StatusBlockedDangerousOperation,
		Message: message,
	}
}
