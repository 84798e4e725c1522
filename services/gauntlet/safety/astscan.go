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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/python"
)

// Tree-sitter node types used by the walks. Names match the grammars
// published by tree-sitter-python and tree-sitter-bash.
const (
	pyNodeCall            = "call"
	pyNodeString          = "string"
	pyNodeKeywordArgument = "keyword_argument"
	pyNodeImport          = "import_statement"
	pyNodeImportFrom      = "import_from_statement"
	pyNodeDottedName      = "dotted_name"

	bashNodeCommand     = "command"
	bashNodeCommandName = "command_name"
)

// pyCallRule describes a dangerous Python standard-library call site.
type pyCallRule struct {
	// Type categorizes the finding.
	Type PatternType

	// Severity is assigned to a bare hit.
	Severity Severity

	// Name is the pattern identifier recorded on the finding.
	Name string

	// ShellPayload marks calls whose string arguments are themselves
	// shell commands and must be re-scanned with the shell families.
	ShellPayload bool

	// RequiresShellKwarg limits the hit to calls passing shell=True;
	// without it the call is advisory only.
	RequiresShellKwarg bool
}

// pyCallRules maps dotted callee names to detection rules. Prefix
// matching applies for entries ending in a dot (requests., httpx.).
var pyCallRules = map[string]pyCallRule{
	// Shell-invoking process calls
	"os.system": {Type: Destructive, Severity: SeverityHigh, Name: "py_shell_exec", ShellPayload: true},
	"os.popen":  {Type: Destructive, Severity: SeverityHigh, Name: "py_shell_exec", ShellPayload: true},

	"subprocess.run":          {Type: Destructive, Severity: SeverityHigh, Name: "py_subprocess_shell", ShellPayload: true, RequiresShellKwarg: true},
	"subprocess.call":         {Type: Destructive, Severity: SeverityHigh, Name: "py_subprocess_shell", ShellPayload: true, RequiresShellKwarg: true},
	"subprocess.check_call":   {Type: Destructive, Severity: SeverityHigh, Name: "py_subprocess_shell", ShellPayload: true, RequiresShellKwarg: true},
	"subprocess.check_output": {Type: Destructive, Severity: SeverityHigh, Name: "py_subprocess_shell", ShellPayload: true, RequiresShellKwarg: true},
	"subprocess.Popen":        {Type: Destructive, Severity: SeverityHigh, Name: "py_subprocess_shell", ShellPayload: true, RequiresShellKwarg: true},

	// Unrestricted recursive delete
	"shutil.rmtree": {Type: Destructive, Severity: SeverityHigh, Name: "py_recursive_delete"},

	// OS-level permission and identity changes
	"os.chmod":   {Type: PrivilegeEscalation, Severity: SeverityHigh, Name: "py_permission_change"},
	"os.chown":   {Type: PrivilegeEscalation, Severity: SeverityHigh, Name: "py_permission_change"},
	"os.setuid":  {Type: PrivilegeEscalation, Severity: SeverityHigh, Name: "py_identity_change"},
	"os.seteuid": {Type: PrivilegeEscalation, Severity: SeverityHigh, Name: "py_identity_change"},
	"os.setgid":  {Type: PrivilegeEscalation, Severity: SeverityHigh, Name: "py_identity_change"},

	// Network access
	"socket.socket":            {Type: NetworkAccess, Severity: SeverityCritical, Name: "py_network_call"},
	"socket.create_connection": {Type: NetworkAccess, Severity: SeverityCritical, Name: "py_network_call"},
	"urllib.request.urlopen":   {Type: NetworkAccess, Severity: SeverityCritical, Name: "py_network_call"},
	"requests.":                {Type: NetworkAccess, Severity: SeverityCritical, Name: "py_network_call"},
	"httpx.":                   {Type: NetworkAccess, Severity: SeverityCritical, Name: "py_network_call"},
	"http.client.":             {Type: NetworkAccess, Severity: SeverityCritical, Name: "py_network_call"},

	// Advisory
	"eval": {Type: Destructive, Severity: SeverityMedium, Name: "py_dynamic_eval"},
	"exec": {Type: Destructive, Severity: SeverityMedium, Name: "py_dynamic_eval"},
}

// pyNetworkImports are modules whose mere import is worth an advisory
// note; a call site is needed for a blocking finding.
var pyNetworkImports = map[string]bool{
	"socket":   true,
	"requests": true,
	"urllib":   true,
	"httpx":    true,
	"ftplib":   true,
	"smtplib":  true,
	"aiohttp":  true,
}

// bashCommandRules maps literal command names, as resolved from
// command_name nodes, to findings. The structural walk ignores
// comments and catches invocations the line regexes miss (line
// continuations, command substitution).
var bashCommandRules = map[string]pyCallRule{
	"curl":   {Type: NetworkAccess, Severity: SeverityCritical, Name: "network_command"},
	"wget":   {Type: NetworkAccess, Severity: SeverityCritical, Name: "network_command"},
	"nc":     {Type: NetworkAccess, Severity: SeverityCritical, Name: "network_command"},
	"ncat":   {Type: NetworkAccess, Severity: SeverityCritical, Name: "network_command"},
	"netcat": {Type: NetworkAccess, Severity: SeverityCritical, Name: "network_command"},
	"sudo":   {Type: PrivilegeEscalation, Severity: SeverityCritical, Name: "sudo_invocation"},
	"mkfs":   {Type: Destructive, Severity: SeverityCritical, Name: "disk_overwrite"},
	"shred":  {Type: Destructive, Severity: SeverityCritical, Name: "disk_overwrite"},
}

// astPass runs the syntax-tree walk for the given language.
//
// Tree-sitter parses are error-tolerant; a script with syntax errors
// still yields a partial tree, and the regex pass remains the floor of
// coverage in that case.
func (s *Scanner) astPass(ctx context.Context, content []byte, language string) ([]DangerousPattern, error) {
	parser := sitter.NewParser()
	switch language {
	case langPython:
		parser.SetLanguage(python.GetLanguage())
	case langShell:
		parser.SetLanguage(bash.GetLanguage())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("safety: tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, nil
	}

	var findings []DangerousPattern
	if language == langPython {
		walk(root, func(n *sitter.Node) {
			findings = append(findings, s.inspectPythonNode(n, content)...)
		})
	} else {
		walk(root, func(n *sitter.Node) {
			findings = append(findings, s.inspectBashNode(n, content)...)
		})
	}
	return findings, nil
}

// walk visits every named node in depth-first order.
func walk(node *sitter.Node, visit func(*sitter.Node)) {
	visit(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), visit)
	}
}

// inspectPythonNode flags dangerous call sites and network imports.
func (s *Scanner) inspectPythonNode(node *sitter.Node, content []byte) []DangerousPattern {
	switch node.Type() {
	case pyNodeCall:
		return s.inspectPythonCall(node, content)
	case pyNodeImport, pyNodeImportFrom:
		return s.inspectPythonImport(node, content)
	}
	return nil
}

func (s *Scanner) inspectPythonCall(node *sitter.Node, content []byte) []DangerousPattern {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return nil
	}
	callee := fn.Content(content)
	rule, ok := lookupCallRule(callee)
	if !ok {
		return nil
	}

	line := int(node.StartPoint().Row) + 1
	code := snippet(node.Content(content))

	if rule.RequiresShellKwarg && !hasShellTrueKwarg(node, content) {
		// subprocess with an argv list is how the sandbox itself is
		// meant to be driven; only shell=True is treated as dangerous.
		return []DangerousPattern{{
			LineNumber: line,
			Type:       rule.Type,
			Snippet:    code,
			Severity:   SeverityMedium,
			Name:       "py_subprocess",
		}}
	}

	findings := []DangerousPattern{{
		LineNumber: line,
		Type:       rule.Type,
		Snippet:    code,
		Severity:   rule.Severity,
		Name:       rule.Name,
	}}

	// String payloads of shell-invoking calls are shell commands in
	// their own right: re-scan them with the shell families so
	// os.system("curl ...") is reported as network access, not just as
	// a process spawn.
	if rule.ShellPayload {
		for _, payload := range stringArguments(node, content) {
			for _, pat := range shellPatterns {
				if len(pat.Languages) != 0 || pat.Severity == SeverityMedium {
					continue
				}
				if pat.matchLine(payload) {
					findings = append(findings, DangerousPattern{
						LineNumber: line,
						Type:       pat.Type,
						Snippet:    code,
						Severity:   pat.Severity,
						Name:       pat.Name,
					})
				}
			}
		}
	}
	return findings
}

func (s *Scanner) inspectPythonImport(node *sitter.Node, content []byte) []DangerousPattern {
	var findings []DangerousPattern
	walk(node, func(n *sitter.Node) {
		if n.Type() != pyNodeDottedName {
			return
		}
		module, _, _ := strings.Cut(n.Content(content), ".")
		if !pyNetworkImports[module] {
			return
		}
		findings = append(findings, DangerousPattern{
			LineNumber: int(n.StartPoint().Row) + 1,
			Type:       NetworkAccess,
			Snippet:    snippet(node.Content(content)),
			Severity:   SeverityMedium,
			Name:       "py_network_import",
		})
	})
	return findings
}

// inspectBashNode flags dangerous command invocations structurally.
func (s *Scanner) inspectBashNode(node *sitter.Node, content []byte) []DangerousPattern {
	if node.Type() != bashNodeCommand {
		return nil
	}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := strings.TrimSpace(nameNode.Content(content))
	rule, ok := bashCommandRules[name]
	if !ok {
		return nil
	}
	return []DangerousPattern{{
		LineNumber: int(node.StartPoint().Row) + 1,
		Type:       rule.Type,
		Snippet:    snippet(node.Content(content)),
		Severity:   rule.Severity,
		Name:       rule.Name,
	}}
}

// lookupCallRule resolves a dotted callee against pyCallRules,
// honoring prefix entries that end in a dot.
func lookupCallRule(callee string) (pyCallRule, bool) {
	if rule, ok := pyCallRules[callee]; ok {
		return rule, true
	}
	for prefix, rule := range pyCallRules {
		if strings.HasSuffix(prefix, ".") && strings.HasPrefix(callee, prefix) {
			return rule, true
		}
	}
	return pyCallRule{}, false
}

// hasShellTrueKwarg reports whether a call passes shell=True.
func hasShellTrueKwarg(call *sitter.Node, content []byte) bool {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return false
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != pyNodeKeywordArgument {
			continue
		}
		name := arg.ChildByFieldName("name")
		value := arg.ChildByFieldName("value")
		if name == nil || value == nil {
			continue
		}
		if name.Content(content) == "shell" && value.Content(content) == "True" {
			return true
		}
	}
	return false
}

// stringArguments returns the unquoted string literal arguments of a
// call node.
func stringArguments(call *sitter.Node, content []byte) []string {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != pyNodeString {
			continue
		}
		text := arg.Content(content)
		text = strings.Trim(text, `"'`)
		out = append(out, text)
	}
	return out
}
