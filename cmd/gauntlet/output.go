// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/workflow"
)

// Styles follow the Aleutian teal palette.
var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7")).Bold(true)
	styleFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")).Bold(true)
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2C4A54"))
	stylePreview = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#16858E")).
			Padding(0, 1)
)

func renderPreview(preview string) string {
	return stylePreview.Render(preview)
}

func renderError(err error) string {
	return styleFailure.Render("error: ") + err.Error()
}

// renderResult prints the human-readable run summary.
func renderResult(w io.Writer, res *workflow.Result) {
	var headline string
	switch res.Status {
	case workflow.StatusPass:
		headline = styleSuccess.Render("PASS")
	case workflow.StatusDryRun:
		headline = styleWarn.Render("DRY RUN")
	case workflow.StatusCancelled:
		headline = styleWarn.Render("CANCELLED")
	case workflow.StatusBlockedDangerousScript, workflow.StatusBlockedDangerousOperation:
		headline = styleFailure.Render("BLOCKED")
	default:
		headline = styleFailure.Render("FAILED")
	}
	fmt.Fprintf(w, "%s  %s\n", headline, res.Status)
	if res.Status == workflow.StatusDryRun {
		// The dry-run message is the full plan preview.
		fmt.Fprintln(w, renderPreview(res.Message))
	} else if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}

	for _, p := range res.BlockedPatterns {
		fmt.Fprintf(w, "  %s line %d [%s/%s]: %s\n",
			styleFailure.Render(p.Name), p.LineNumber, p.Type, p.Severity,
			styleMuted.Render(p.Snippet))
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %s  claim violated: %s\n      %s: %s\n",
			styleFailure.Render(f.TestName), f.ClaimViolated,
			f.ErrorType, f.ErrorMessage)
	}
	if res.Cost != nil {
		fmt.Fprintln(w, styleMuted.Render(fmt.Sprintf("agent cost: $%.4f", *res.Cost)))
	}
	fmt.Fprintln(w, styleMuted.Render("run id: "+res.RunID))
}

// writeResultJSON writes the machine-readable result for calling
// automation.
func writeResultJSON(path string, res *workflow.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
