// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import "regexp"

// PatternVersion tracks the pattern database version.
const PatternVersion = "2026.08"

// maxMatchesPerPattern limits matches to prevent excessive processing
// on pathological inputs.
const maxMatchesPerPattern = 100

// scriptPattern defines one dangerous construct to detect by regex.
//
// Patterns are compiled at package init; Go's RE2 engine guarantees
// linear-time matching, so there is no backtracking blowup even on
// adversarial input.
type scriptPattern struct {
	// Name is the stable pattern identifier.
	Name string

	// Pattern matches a single line of script text.
	Pattern *regexp.Regexp

	// Type categorizes the finding.
	Type PatternType

	// Severity is the severity assigned to a hit.
	Severity Severity

	// Languages restricts the pattern; empty means shell-like scripts.
	Languages []string
}

// appliesTo reports whether the pattern is active for a language.
func (p scriptPattern) appliesTo(language string) bool {
	if len(p.Languages) == 0 {
		return language == langShell
	}
	for _, l := range p.Languages {
		if l == language || l == "all" {
			return true
		}
	}
	return false
}

// shellPatterns are the category-specific families applied to
// shell-like scripts, and to string payloads of shell-invoking calls
// found by the Python syntax-tree walk.
var shellPatterns = []scriptPattern{
	// --- Network access ---
	{
		Name:     "network_command",
		Pattern:  regexp.MustCompile(`(?:^|[\s;&|$(` + "`" + `])(curl|wget|nc|ncat|netcat|telnet)\b`),
		Type:     NetworkAccess,
		Severity: SeverityCritical,
	},
	{
		Name:     "remote_shell",
		Pattern:  regexp.MustCompile(`(?:^|[\s;&|$(` + "`" + `])(ssh|scp|sftp|rsync)\s+\S`),
		Type:     NetworkAccess,
		Severity: SeverityCritical,
	},
	{
		Name:     "dev_tcp_redirect",
		Pattern:  regexp.MustCompile(`/dev/(tcp|udp)/`),
		Type:     NetworkAccess,
		Severity: SeverityCritical,
	},
	// --- Destructive filesystem operations ---
	{
		Name:     "recursive_delete",
		Pattern:  regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rR][a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*[rR][a-zA-Z]*)\b`),
		Type:     Destructive,
		Severity: SeverityCritical,
	},
	{
		Name:     "root_delete",
		Pattern:  regexp.MustCompile(`\brm\s+(-[a-zA-Z]+\s+)*(/|/\*|~|\$HOME)(\s|$)`),
		Type:     Destructive,
		Severity: SeverityCritical,
	},
	{
		Name:     "disk_overwrite",
		Pattern:  regexp.MustCompile(`\b(dd\s+[^#]*of=/dev/|mkfs(\.[a-z0-9]+)?\s|shred\s)`),
		Type:     Destructive,
		Severity: SeverityCritical,
	},
	{
		Name:     "fork_bomb",
		Pattern:  regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`),
		Type:     Destructive,
		Severity: SeverityCritical,
	},
	// --- Privilege escalation ---
	{
		Name:     "sudo_invocation",
		Pattern:  regexp.MustCompile(`(?:^|[\s;&|])sudo\s`),
		Type:     PrivilegeEscalation,
		Severity: SeverityCritical,
	},
	{
		Name:     "switch_user",
		Pattern:  regexp.MustCompile(`(?:^|[\s;&|])su\s+(-|root)\b`),
		Type:     PrivilegeEscalation,
		Severity: SeverityHigh,
	},
	{
		Name:     "setuid_chmod",
		Pattern:  regexp.MustCompile(`\bchmod\s+([ugoa]*\+s|[0-7]*[4-7][0-7]{3})\b`),
		Type:     PrivilegeEscalation,
		Severity: SeverityHigh,
	},
	{
		Name:     "world_writable_root",
		Pattern:  regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/`),
		Type:     PrivilegeEscalation,
		Severity: SeverityHigh,
	},
	// --- Credential / environment exfiltration ---
	{
		Name:     "env_dump_pipe",
		Pattern:  regexp.MustCompile(`\b(env|printenv|set)\s*\|`),
		Type:     Exfiltration,
		Severity: SeverityHigh,
	},
	{
		Name:     "credential_read",
		Pattern:  regexp.MustCompile(`(\.ssh/id_[a-z0-9]+|\.aws/credentials|\.netrc|/etc/shadow|\.gnupg/)`),
		Type:     Exfiltration,
		Severity: SeverityHigh,
	},
	{
		Name:     "history_read",
		Pattern:  regexp.MustCompile(`\bcat\s+[^#]*\.(bash_history|zsh_history)`),
		Type:     Exfiltration,
		Severity: SeverityHigh,
	},

	// --- Advisory (Medium) — surfaces as recommendations only ---
	{
		Name:     "eval_usage",
		Pattern:  regexp.MustCompile(`(?:^|[\s;&|])eval\s`),
		Type:     Destructive,
		Severity: SeverityMedium,
	},
	{
		Name:     "package_install",
		Pattern:  regexp.MustCompile(`\b(pip3?\s+install|npm\s+install|apt(-get)?\s+install|go\s+install)\b`),
		Type:     NetworkAccess,
		Severity: SeverityMedium,
	},
	{
		Name:     "background_process",
		Pattern:  regexp.MustCompile(`\bnohup\s|&\s*$`),
		Type:     Destructive,
		Severity: SeverityMedium,
	},

	// --- Python-language regex family (string-level; the AST walk
	// covers call sites, these catch obfuscated one-liners) ---
	{
		Name:      "python_unsafe_deserialize",
		Pattern:   regexp.MustCompile(`\b(pickle\.loads?|marshal\.loads?|yaml\.load)\s*\(`),
		Type:      Destructive,
		Severity:  SeverityHigh,
		Languages: []string{langPython},
	},
	{
		Name:      "python_dynamic_import",
		Pattern:   regexp.MustCompile(`\b__import__\s*\(`),
		Type:      Destructive,
		Severity:  SeverityMedium,
		Languages: []string{langPython},
	},
}

// matchLine runs a pattern against one line, honoring the global match
// budget shared across the scan.
func (p scriptPattern) matchLine(line string) bool {
	return p.Pattern.MatchString(line)
}
