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
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/policy"
)

// ConfirmationGate decides whether a run may proceed past the preview.
//
// The gate sits between the safety scan and the first sandbox
// invocation: nothing has executed when it is asked. A declined gate
// terminates the run as Cancelled; it is not an error.
type ConfirmationGate interface {
	// Confirm shows the run preview and returns whether to proceed.
	Confirm(ctx context.Context, preview string) (bool, error)
}

// AutoGate answers without prompting. It backs both --auto-confirm
// (fixed accept) and the unattended policy decision.
type AutoGate struct {
	Accept bool
}

// Confirm returns the fixed decision.
func (g AutoGate) Confirm(_ context.Context, _ string) (bool, error) {
	return g.Accept, nil
}

// ErrUnattendedUnconfigured is returned when no interactive terminal
// is available and the operator never chose an unattended decision.
// There is no safe default for "run this script without asking": the
// choice must be explicit in policy or flags.
var ErrUnattendedUnconfigured = fmt.Errorf(
	"no interactive terminal and no unattended decision configured; set unattended: accept|decline")

// UnattendedGate applies the policy's explicit unattended decision.
// Construction fails when the decision was never made.
func UnattendedGate(decision policy.UnattendedDecision) (ConfirmationGate, error) {
	switch decision {
	case policy.UnattendedAccept:
		return AutoGate{Accept: true}, nil
	case policy.UnattendedDecline:
		return AutoGate{Accept: false}, nil
	default:
		return nil, ErrUnattendedUnconfigured
	}
}

// BuildPreview renders the plan shown at the confirmation gate and in
// dry runs: what would execute, under which limits, against which
// claims. Literal script content is included so the operator reviews
// exactly what the sandbox would see.
func BuildPreview(req *Request, pol *policy.Policy, scriptContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "workspace:            %s\n", req.WorkspacePath)
	fmt.Fprintf(&b, "verification script:  %s\n", req.ScriptPath)
	fmt.Fprintf(&b, "verification timeout: %s\n", pol.VerificationTimeout())
	fmt.Fprintf(&b, "adversarial timeout:  %s\n", pol.AdversarialTimeout())
	fmt.Fprintf(&b, "memory limit:         %d MB\n", pol.MemoryLimitMB)
	fmt.Fprintf(&b, "cpu limit:            %g\n", pol.CPULimit)
	fmt.Fprintf(&b, "network:              %s\n", onOff(pol.AllowNetwork))
	if pol.MaxCost > 0 {
		fmt.Fprintf(&b, "max cost:             $%.4f\n", pol.MaxCost)
	} else {
		b.WriteString("max cost:             unlimited\n")
	}
	b.WriteString("claims under test:\n")
	for _, c := range req.Claims {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	if len(req.Advisories) > 0 {
		b.WriteString("advisories from implementation files:\n")
		for _, a := range req.Advisories {
			fmt.Fprintf(&b, "  ! %s\n", a)
		}
	}
	b.WriteString("script content:\n")
	for _, line := range strings.Split(strings.TrimRight(scriptContent, "\n"), "\n") {
		fmt.Fprintf(&b, "  | %s\n", line)
	}
	return b.String()
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
