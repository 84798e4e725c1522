// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// testingAgentSystemPrompt frames the Testing Agent's independence:
// it has never seen the implementation's own tests and is rewarded for
// breaking claims, not confirming them.
const testingAgentSystemPrompt = `You are an adversarial testing agent. You receive an implementation and a list of claims its author makes about it. Your job is to write ONE self-contained test script that tries as hard as possible to falsify those claims: boundary values, malformed input, resource pressure, ordering and concurrency hazards, and any behavior the claims imply but the code may not deliver.

Rules:
- Output exactly one fenced code block containing a runnable python3 script (pytest style asserts or plain asserts).
- The script must not access the network, delete files outside its working directory, or change permissions. It will run in a sandbox that forbids all of that.
- For every failing check, print one line of the form:
  GAUNTLET-FAIL test=<name> claim=<claim text> type=<error type>: <message>
- Exit non-zero iff at least one check failed.
- Do not mock the implementation. Import and exercise the real code.`

// GeneratedScript is the parsed output of one generation call.
type GeneratedScript struct {
	// Content is the runnable script text.
	Content string

	// Language is the scanner language of the script ("python" or
	// "shell").
	Language string
}

// Filename returns the workspace filename for the script.
func (g GeneratedScript) Filename() string {
	if g.Language == "shell" {
		return "gauntlet_adversarial.sh"
	}
	return "gauntlet_adversarial.py"
}

// Generator produces adversarial test scripts via an Invoker.
//
// Thread Safety: Safe for concurrent use.
type Generator struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewGenerator creates a generator over the given invoker.
func NewGenerator(invoker Invoker, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{invoker: invoker, logger: logger}
}

// Generate asks the Testing Agent for an adversarial test script.
//
// Description:
//
//	Builds a single prompt from the implementation files and the
//	author's claims, invokes the agent once, and extracts the script
//	from the response. Fails with *GenerationError when the agent is
//	unreachable or returns empty/unparseable content. Never retries.
//
// Inputs:
//
//	ctx    - Context; callers supply the deadline.
//	files  - Implementation sources, path → content.
//	claims - Author claims the tests target. Must be non-empty.
//
// Outputs:
//
//	*GeneratedScript - The extracted script. The caller MUST scan it
//	                   before execution; nothing here is trusted.
//	error            - ErrNoClaims, or *GenerationError.
func (g *Generator) Generate(ctx context.Context, files map[string]string, claims []string) (*GeneratedScript, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}

	prompt := buildPrompt(files, claims)
	g.logger.Info("requesting adversarial tests",
		slog.Int("files", len(files)),
		slog.Int("claims", len(claims)),
	)

	result, err := g.invoker.Invoke(ctx, testingAgentSystemPrompt, prompt)
	if err != nil {
		return nil, &GenerationError{Reason: "agent unreachable", Err: err}
	}
	if !result.Success {
		return nil, &GenerationError{Reason: fmt.Sprintf("agent reported failure: %s", result.Err)}
	}

	script, err := ExtractScript(result.Text)
	if err != nil {
		return nil, err
	}
	g.logger.Info("adversarial script generated",
		slog.String("language", script.Language),
		slog.Int("bytes", len(script.Content)),
	)
	return script, nil
}

// buildPrompt renders files and claims into the user message.
// File order is sorted for deterministic prompts.
func buildPrompt(files map[string]string, claims []string) string {
	var b strings.Builder

	b.WriteString("## Claims under test\n\n")
	for i, claim := range claims {
		fmt.Fprintf(&b, "%d. %s\n", i+1, claim)
	}

	b.WriteString("\n## Implementation\n")
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(&b, "\n### %s\n```\n%s\n```\n", path, files[path])
	}

	b.WriteString("\nWrite the adversarial test script now.\n")
	return b.String()
}

// fencedBlockRe matches the first fenced code block and captures the
// info string and body.
var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)\n?```")

// ExtractScript pulls the runnable script out of agent response text.
//
// Accepts a fenced code block (preferred) or, when the whole response
// already looks like bare code, the response itself. Anything else is
// a *GenerationError: an empty or prose-only reply is a generation
// failure, not a test failure.
func ExtractScript(text string) (*GeneratedScript, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &GenerationError{Reason: "empty response"}
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		body := strings.TrimSpace(m[2])
		if body == "" {
			return nil, &GenerationError{Reason: "empty code block"}
		}
		return &GeneratedScript{Content: body + "\n", Language: languageFromInfo(m[1], body)}, nil
	}

	if looksLikeCode(trimmed) {
		return &GeneratedScript{Content: trimmed + "\n", Language: languageFromInfo("", trimmed)}, nil
	}
	return nil, &GenerationError{Reason: "no code block in response"}
}

// languageFromInfo maps a fence info string (or the body itself) to a
// scanner language.
func languageFromInfo(info, body string) string {
	switch strings.ToLower(info) {
	case "python", "python3", "py":
		return "python"
	case "bash", "sh", "shell", "zsh":
		return "shell"
	}
	first, _, _ := strings.Cut(body, "\n")
	if strings.HasPrefix(first, "#!") && !strings.Contains(first, "python") {
		return "shell"
	}
	return "python"
}

// looksLikeCode reports whether bare response text is plausibly a
// script rather than prose.
func looksLikeCode(text string) bool {
	first, _, _ := strings.Cut(text, "\n")
	switch {
	case strings.HasPrefix(first, "#!"):
		return true
	case strings.HasPrefix(first, "import "),
		strings.HasPrefix(first, "from "),
		strings.HasPrefix(first, "def "),
		strings.HasPrefix(first, "# "):
		return strings.Contains(text, "\n")
	}
	return false
}
