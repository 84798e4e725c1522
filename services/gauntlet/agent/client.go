// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent wraps the external Testing Agent behind a narrow
// invoke contract and turns its output into an adversarial test
// script.
//
// The Testing Agent is independent of the Implementation Agent by
// design: its job is to break the implementation, not to defend it.
// Nothing it returns is trusted — every generated script goes back
// through the safety scanner before it can execute.
//
// No retries happen inside this package. Retry policy belongs to the
// orchestrator and defaults to none, keeping cost and latency bounded.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("agent: nil context")

	// ErrNoClaims is returned when generation is requested without any
	// claims to test against.
	ErrNoClaims = errors.New("agent: at least one claim is required")
)

// GenerationError reports a failed adversarial generation call:
// transport failure, empty output, or unparseable output. The
// orchestrator maps it to a FailedAdversarial terminal status that is
// distinguishable from real test failures.
type GenerationError struct {
	// Reason is a short human-readable cause.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent: generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("agent: generation failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// InvokeResult is the raw outcome of one agent invocation.
type InvokeResult struct {
	// Success is false when the agent reported an application-level
	// failure even though transport succeeded.
	Success bool

	// Text is the agent's response body.
	Text string

	// Err carries the agent-reported error message when Success is
	// false.
	Err string
}

// Invoker reaches an external reasoning agent.
//
// This is the entire boundary to the Implementation and Testing
// Agents: a single synchronous request/response with no timeout of
// its own. Callers wrap Invoke in a context deadline when they need
// one. Credentials are an excluded collaborator's concern and are
// assumed configured before Invoke is called.
type Invoker interface {
	// Invoke sends one prompt and returns the agent's reply.
	Invoke(ctx context.Context, systemPrompt, content string) (*InvokeResult, error)
}
