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

// sanitizedEnv builds the child environment from scratch.
//
// Nothing is inherited: path-search and credential-bearing variables
// from the parent (PATH overrides, LD_PRELOAD, *_TOKEN, *_KEY, cloud
// SDK variables) never reach the sandboxed script. Only an explicit
// allowlist is set.
func sanitizedEnv(workspacePath string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workspacePath,
		"TMPDIR=/tmp",
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"TERM=dumb",
		// Marker for scripts that want to detect the sandbox.
		"GAUNTLET_SANDBOX=1",
	}
}
