// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety statically analyzes scripts before they are allowed
// anywhere near a sandbox.
//
// The scanner is a pure function over text: it never executes the
// scanned code, never talks to a network, and never calls a reasoning
// agent. That is a structural requirement, not a preference — this
// package must stay free of any network-capable dependency so the
// "no LLM judgment" property of the safety gate is enforced by the
// import graph itself.
//
// Detection combines two passes, following the hybrid approach used
// for security review elsewhere in the Aleutian stack:
//
//   - Regex pattern families for shell-like scripts (network access,
//     recursive deletion, privilege escalation, credential
//     exfiltration), with line numbers recorded per hit.
//   - A tree-sitter syntax-tree walk for Python and Bash that flags
//     dangerous call sites regex would miss and ignores matches inside
//     comments.
//
// All matching is bounded: Go's regexp package is RE2 (no
// backtracking), and each pattern caps its match count, so scan time
// is linear in input size even for adversarial content.
package safety

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors returned by the scanner.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("safety: nil context")

	// ErrFileTooLarge is returned when a script exceeds MaxScriptSize.
	ErrFileTooLarge = errors.New("safety: script exceeds size limit")

	// ErrInvalidContent is returned for non-UTF-8 script content.
	ErrInvalidContent = errors.New("safety: script is not valid UTF-8")

	// ErrUnsupportedLanguage is returned when no analyzer exists for
	// the requested language hint.
	ErrUnsupportedLanguage = errors.New("safety: unsupported script language")
)

// Severity classifies how dangerous a finding is.
//
// Critical and High findings block execution. Medium findings are
// advisory only and surface as recommendations.
type Severity int

const (
	// SeverityMedium marks a suspicious construct worth reviewing.
	SeverityMedium Severity = iota

	// SeverityHigh marks a construct dangerous enough to block.
	SeverityHigh

	// SeverityCritical marks a construct that must never run.
	SeverityCritical
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "unknown"
	}
}

// Blocks reports whether a finding of this severity prevents execution.
func (s Severity) Blocks() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// PatternType categorizes what a dangerous pattern does.
type PatternType int

const (
	// NetworkAccess covers outbound connection attempts of any kind.
	NetworkAccess PatternType = iota

	// Destructive covers recursive/forced deletion and disk overwrites.
	Destructive

	// PrivilegeEscalation covers sudo/su/setuid style privilege changes.
	PrivilegeEscalation

	// Exfiltration covers reading or shipping credentials and secrets.
	Exfiltration
)

// String returns the snake_case name of the pattern type.
func (p PatternType) String() string {
	switch p {
	case NetworkAccess:
		return "network_access"
	case Destructive:
		return "destructive"
	case PrivilegeEscalation:
		return "privilege_escalation"
	case Exfiltration:
		return "exfiltration"
	default:
		return "unknown"
	}
}

// DangerousPattern is a single finding in a scanned script.
//
// Findings are immutable once produced. LineNumber is 1-based.
type DangerousPattern struct {
	// LineNumber is the 1-based line of the finding.
	LineNumber int `json:"line_number"`

	// Type categorizes the finding.
	Type PatternType `json:"pattern_type"`

	// Snippet is the offending source text, trimmed.
	Snippet string `json:"code_snippet"`

	// Severity classifies how dangerous the finding is.
	Severity Severity `json:"severity"`

	// Name is the pattern identifier that fired (e.g. recursive_delete).
	Name string `json:"name"`
}

// String renders a finding for logs and preview output.
func (d DangerousPattern) String() string {
	return fmt.Sprintf("line %d: %s (%s/%s): %s",
		d.LineNumber, d.Name, d.Type, d.Severity, d.Snippet)
}

// ScanResult is the outcome of scanning one script.
//
// IsSafe is true iff no Critical or High severity pattern was found.
// Medium findings never block; they populate Recommendations instead.
type ScanResult struct {
	// IsSafe reports whether the script may proceed to the sandbox.
	IsSafe bool `json:"is_safe"`

	// Patterns lists blocking findings, ordered by line number.
	Patterns []DangerousPattern `json:"patterns,omitempty"`

	// Recommendations lists advisory notes from Medium findings.
	Recommendations []string `json:"recommendations,omitempty"`
}

// finalize sorts findings deterministically, derives IsSafe, and moves
// Medium findings into Recommendations. Called exactly once per scan.
func finalize(blocking []DangerousPattern, advisory []DangerousPattern) *ScanResult {
	sortPatterns(blocking)
	sortPatterns(advisory)

	result := &ScanResult{
		IsSafe:   len(blocking) == 0,
		Patterns: blocking,
	}
	for _, p := range advisory {
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("line %d: review %s: %s", p.LineNumber, p.Name, p.Snippet))
	}
	return result
}

// sortPatterns orders findings by line, then name, then type, so two
// scans of the same content always yield identical results.
func sortPatterns(patterns []DangerousPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].LineNumber != patterns[j].LineNumber {
			return patterns[i].LineNumber < patterns[j].LineNumber
		}
		if patterns[i].Name != patterns[j].Name {
			return patterns[i].Name < patterns[j].Name
		}
		return patterns[i].Type < patterns[j].Type
	})
}

// dedupe removes findings that share line number and pattern name,
// which happens when the regex and AST passes agree on a hit.
func dedupe(patterns []DangerousPattern) []DangerousPattern {
	seen := make(map[string]bool, len(patterns))
	out := patterns[:0]
	for _, p := range patterns {
		key := fmt.Sprintf("%d|%s", p.LineNumber, p.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
