// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow sequences one adversarial verification run: safety
// scan, confirmation, sandboxed verification, budget check,
// adversarial generation, re-scan, sandboxed adversarial run, and
// result aggregation.
//
// The state machine moves strictly forward. Each stage either advances
// or terminates the run with exactly one terminal status; nothing is
// retried automatically anywhere in the pipeline. That is deliberate:
// the system exists to surface failures honestly, not to paper over
// flakiness.
package workflow

import "encoding/json"

// Stage identifies which sandboxed stage a timeout hit.
type Stage int

const (
	// StageVerification is the author-supplied verification run.
	StageVerification Stage = iota

	// StageAdversarial is the generated adversarial test run.
	StageAdversarial
)

// String returns the lowercase stage name.
func (s Stage) String() string {
	switch s {
	case StageVerification:
		return "verification"
	case StageAdversarial:
		return "adversarial"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the stage by name.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is the terminal outcome of one orchestrator run.
//
// Exactly one status is produced per run and it is immutable once
// set. Statuses that carry payloads (timeout stage, failure lists,
// blocked patterns) get them via the Result constructors, so invalid
// combinations — a Pass with failures, a timeout without a stage —
// cannot be built.
type Status int

const (
	// StatusPass means verification and adversarial tests all passed.
	StatusPass Status = iota

	// StatusDryRun means the run previewed its plan and executed
	// nothing.
	StatusDryRun

	// StatusCancelled means the confirmation gate declined.
	StatusCancelled

	// StatusFailedVerification means the verification script exited
	// non-zero for a reason other than a missing module.
	StatusFailedVerification

	// StatusFailedImport means verification failed on import or module
	// resolution — the implementation is not even loadable.
	StatusFailedImport

	// StatusFailedAdversarial means generation failed or the generated
	// tests found real failures.
	StatusFailedAdversarial

	// StatusFailedTimeout means a sandboxed stage hit its wall-clock
	// limit.
	StatusFailedTimeout

	// StatusBlockedDangerousScript means the safety scanner refused a
	// script before execution.
	StatusBlockedDangerousScript

	// StatusBlockedDangerousOperation means the adapter refused an
	// operation outside the sandbox contract (e.g. a script path that
	// escapes the workspace mount).
	StatusBlockedDangerousOperation
)

// String returns the snake_case status name recorded in the ledger.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusDryRun:
		return "dry_run"
	case StatusCancelled:
		return "cancelled"
	case StatusFailedVerification:
		return "failed_verification"
	case StatusFailedImport:
		return "failed_import"
	case StatusFailedAdversarial:
		return "failed_adversarial"
	case StatusFailedTimeout:
		return "failed_timeout"
	case StatusBlockedDangerousScript:
		return "blocked_dangerous_script"
	case StatusBlockedDangerousOperation:
		return "blocked_dangerous_operation"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ExitCode maps the status to the CLI exit code contract: success=0,
// failures=1, blocked=2, cancelled=3. Calling automation branches on
// these.
func (s Status) ExitCode() int {
	switch s {
	case StatusPass, StatusDryRun:
		return 0
	case StatusFailedVerification, StatusFailedImport,
		StatusFailedAdversarial, StatusFailedTimeout:
		return 1
	case StatusBlockedDangerousScript, StatusBlockedDangerousOperation:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 1
	}
}
