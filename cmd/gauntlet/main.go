// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// gauntlet runs author-supplied verification scripts and
// independently generated adversarial tests against a workspace, in a
// resource-bounded sandbox, and reports a single honest outcome.
package main

import (
	"fmt"
	"os"
)

// exitCode is set by the verify command from the terminal workflow
// status: 0 success, 1 failed, 2 blocked, 3 cancelled.
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
	os.Exit(exitCode)
}
