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
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// stdinIsTerminal reports whether an operator can be prompted.
func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// interactiveGate shows the run preview and asks for explicit
// approval before anything executes.
type interactiveGate struct{}

// Confirm prints the preview and prompts. A prompt error (closed
// terminal, interrupt) counts as a decline.
func (g *interactiveGate) Confirm(_ context.Context, preview string) (bool, error) {
	fmt.Fprintln(os.Stdout, renderPreview(preview))

	var proceed bool
	err := huh.NewConfirm().
		Title("Execute this verification run?").
		Description("Scripts run sandboxed, but review the plan above first.").
		Affirmative("Run it").
		Negative("Cancel").
		Value(&proceed).
		Run()
	if err != nil {
		return false, nil
	}
	return proceed, nil
}
