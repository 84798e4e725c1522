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

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// MaxScriptSize is the largest script the scanner will read (1 MiB).
// Verification and adversarial scripts are small by construction;
// anything larger is refused rather than scanned partially.
const MaxScriptSize = 1 << 20

// Canonical language names understood by the scanner.
const (
	langShell  = "shell"
	langPython = "python"
)

// Scanner statically analyzes scripts for dangerous patterns.
//
// Scan never executes the scanned code and has no side effects. The
// same content always yields an identical ScanResult.
//
// Thread Safety: Safe for concurrent use. The scanner holds no mutable
// state after construction.
type Scanner struct {
	patterns []scriptPattern
	logger   *slog.Logger
}

// NewScanner creates a scanner with the default pattern database.
func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		patterns: shellPatterns,
		logger:   logger,
	}
}

// Scan reads and analyzes the script at scriptPath.
//
// Description:
//
//	Performs a single bounded pass over the file content: a line-wise
//	regex pass using the category families for the script's language,
//	then a tree-sitter syntax-tree walk (Python and Bash) that catches
//	call sites regex would miss. Findings from both passes are merged
//	and deduplicated.
//
// Inputs:
//
//	ctx        - Context for cancellation between patterns.
//	scriptPath - Path of the script to analyze.
//	langHint   - Optional language ("shell", "python"); when empty the
//	             language is detected from the extension and shebang.
//
// Outputs:
//
//	*ScanResult - IsSafe, blocking patterns, and advisory notes.
//	error       - Non-nil on read failure, oversize, or invalid UTF-8.
//
// Thread Safety: Safe for concurrent use.
func (s *Scanner) Scan(ctx context.Context, scriptPath, langHint string) (*ScanResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	info, err := os.Stat(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("safety: stat script: %w", err)
	}
	if info.Size() > MaxScriptSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	content, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("safety: read script: %w", err)
	}

	language := langHint
	if language == "" {
		language = DetectLanguage(scriptPath, content)
	}
	return s.ScanContent(ctx, content, language)
}

// ScanContent analyzes in-memory script text.
//
// Used to re-scan generated adversarial scripts before they are ever
// written to the workspace, and by Scan after reading a file.
func (s *Scanner) ScanContent(ctx context.Context, content []byte, language string) (*ScanResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(content) > MaxScriptSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(content))
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidContent
	}
	switch language {
	case langShell, langPython:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	var blocking, advisory []DangerousPattern

	// Pass 1: line-wise regex families.
	regexFindings, err := s.regexPass(ctx, content, language)
	if err != nil {
		return nil, err
	}

	// Pass 2: syntax-tree walk. Comments are excluded structurally, and
	// for Python the walk inspects the string payloads of
	// shell-invoking calls with the shell families.
	astFindings, err := s.astPass(ctx, content, language)
	if err != nil {
		return nil, err
	}

	all := dedupe(append(regexFindings, astFindings...))
	for _, p := range all {
		if p.Severity.Blocks() {
			blocking = append(blocking, p)
		} else {
			advisory = append(advisory, p)
		}
	}

	result := finalize(blocking, advisory)
	if !result.IsSafe {
		s.logger.Warn("script blocked by safety scan",
			slog.String("language", language),
			slog.Int("blocking_findings", len(result.Patterns)),
			slog.String("pattern_version", PatternVersion),
		)
	}
	return result, nil
}

// regexPass applies the active pattern families line by line.
func (s *Scanner) regexPass(ctx context.Context, content []byte, language string) ([]DangerousPattern, error) {
	var findings []DangerousPattern
	lines := strings.Split(string(content), "\n")

	for _, pat := range s.patterns {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("safety: scan canceled: %w", err)
		}
		if !pat.appliesTo(language) {
			continue
		}
		matches := 0
		for i, line := range lines {
			if isCommentLine(line, language) {
				continue
			}
			if !pat.matchLine(line) {
				continue
			}
			findings = append(findings, DangerousPattern{
				LineNumber: i + 1,
				Type:       pat.Type,
				Snippet:    snippet(line),
				Severity:   pat.Severity,
				Name:       pat.Name,
			})
			matches++
			if matches >= maxMatchesPerPattern {
				break
			}
		}
	}
	return findings, nil
}

// ScanAll scans a set of implementation files concurrently.
//
// Advisory pre-flight over the files handed to the Testing Agent; the
// findings feed the dry-run preview and the confirmation prompt, they
// never block on their own. Scripts still go through Scan before any
// sandbox run.
func (s *Scanner) ScanAll(ctx context.Context, paths []string) (map[string]*ScanResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	results := make([]*ScanResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, path := range paths {
		g.Go(func() error {
			res, err := s.Scan(gctx, path, "")
			if err != nil {
				// Unsupported or unreadable implementation files are
				// skipped, not fatal: only scripts must be scannable.
				s.logger.Debug("pre-flight scan skipped",
					slog.String("path", path),
					slog.String("reason", err.Error()),
				)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*ScanResult, len(paths))
	for i, path := range paths {
		if results[i] != nil {
			out[path] = results[i]
		}
	}
	return out, nil
}

// DetectLanguage infers the scanner language from a file's extension,
// falling back to its shebang line. Defaults to shell: unknown scripts
// get the strictest line-oriented treatment rather than none.
func DetectLanguage(path string, content []byte) string {
	switch filepath.Ext(path) {
	case ".py", ".pyi":
		return langPython
	case ".sh", ".bash", ".zsh", ".ksh":
		return langShell
	}
	first, _, _ := strings.Cut(string(content), "\n")
	if strings.HasPrefix(first, "#!") && strings.Contains(first, "python") {
		return langPython
	}
	return langShell
}

// isCommentLine reports whether a line is pure comment. The regex pass
// skips these; the AST pass excludes comments structurally.
func isCommentLine(line, language string) bool {
	trimmed := strings.TrimSpace(line)
	if language == langShell && strings.HasPrefix(trimmed, "#!") {
		return false
	}
	return strings.HasPrefix(trimmed, "#")
}

// snippet trims and bounds a source line for inclusion in a finding.
func snippet(line string) string {
	const maxSnippet = 160
	trimmed := strings.TrimSpace(line)
	if len(trimmed) > maxSnippet {
		return trimmed[:maxSnippet] + "..."
	}
	return trimmed
}
