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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGauntlet/pkg/logging"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/agent"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/cost"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/policy"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/safety"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/sandbox"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/workflow"
)

// --- Global Command Variables ---
var (
	scriptPath         string
	claims             []string
	contextFiles       []string
	policyPath         string
	dryRun             bool
	autoConfirm        bool
	unattendedFlag     string
	verifyTimeoutSec   int
	adversarialTimeSec int
	maxCost            float64
	allowNetwork       bool
	allowDangerous     bool
	memoryLimitMB      int
	cpuLimit           float64
	sandboxImage       string
	useLocalRunner     bool
	acceptNoIsolation  bool
	ledgerPath         string
	outputPath         string
	logLevel           string
	quiet              bool

	rootCmd = &cobra.Command{
		Use:   "gauntlet",
		Short: "Adversarial verification for untrusted implementation claims",
		Long: `Gauntlet verifies a workspace two ways: it runs the author's own
verification script, then commissions an independent testing agent to
write adversarial tests attacking the stated claims. Every script is
statically scanned for dangerous patterns before it executes, and
everything runs inside a network-isolated, resource-bounded sandbox.`,
		SilenceUsage: true,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [workspace]",
		Short: "Run the full verification pipeline against a workspace",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
)

func init() {
	verifyCmd.Flags().StringVar(&scriptPath, "script", "", "verification script inside the workspace (required)")
	verifyCmd.Flags().StringArrayVar(&claims, "claim", nil, "behavioral claim under test (repeatable, required)")
	verifyCmd.Flags().StringArrayVar(&contextFiles, "context", nil, "workspace-relative implementation file handed to the testing agent (repeatable; default: auto-collected source files)")
	verifyCmd.Flags().StringVar(&policyPath, "policy", "", "policy YAML file (default: built-in policy)")
	verifyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the plan without executing anything")
	verifyCmd.Flags().BoolVar(&autoConfirm, "auto-confirm", false, "skip the confirmation prompt and proceed")
	verifyCmd.Flags().StringVar(&unattendedFlag, "unattended", "", "decision when no terminal is attached: accept or decline")
	verifyCmd.Flags().IntVar(&verifyTimeoutSec, "timeout", 0, "verification stage timeout in seconds (overrides policy)")
	verifyCmd.Flags().IntVar(&adversarialTimeSec, "adversarial-timeout", 0, "adversarial stage timeout in seconds (overrides policy)")
	verifyCmd.Flags().Float64Var(&maxCost, "max-cost", 0, "budget in dollars for the generation call; over-budget runs skip the adversarial stage")
	verifyCmd.Flags().BoolVar(&allowNetwork, "allow-network", false, "enable network inside the sandbox")
	verifyCmd.Flags().BoolVar(&allowDangerous, "allow-dangerous", false, "run scripts the safety scanner would block (logged override)")
	verifyCmd.Flags().IntVar(&memoryLimitMB, "memory", 0, "sandbox memory limit in MB (overrides policy)")
	verifyCmd.Flags().Float64Var(&cpuLimit, "cpus", 0, "sandbox CPU limit (overrides policy)")
	verifyCmd.Flags().StringVar(&sandboxImage, "image", "", "container image for the sandbox")
	verifyCmd.Flags().BoolVar(&useLocalRunner, "local", false, "run without a container runtime (no network isolation)")
	verifyCmd.Flags().BoolVar(&acceptNoIsolation, "accept-no-isolation", false, "acknowledge that --local cannot isolate the network")
	verifyCmd.Flags().StringVar(&ledgerPath, "ledger", cost.DefaultLedgerPath, "cost ledger CSV path")
	verifyCmd.Flags().StringVar(&outputPath, "output", "", "write the run result as JSON to this path")
	verifyCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	verifyCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress log output on stderr")

	cobra.CheckErr(verifyCmd.MarkFlagRequired("script"))
	cobra.CheckErr(verifyCmd.MarkFlagRequired("claim"))

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	workspace, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	pol, err := loadPolicy(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "gauntlet",
		Quiet:   quiet,
	})
	defer logger.Close()
	log := logger.Slog()

	script := scriptPath
	if !filepath.IsAbs(script) {
		script = filepath.Join(workspace, script)
	}

	files, err := collectContext(workspace)
	if err != nil {
		return err
	}

	scanner := safety.NewScanner(log)
	advisories, err := collectAdvisories(context.Background(), scanner, workspace, files)
	if err != nil {
		return err
	}

	generator, err := buildGenerator(log)
	if err != nil {
		return err
	}
	runner, err := buildRunner(log, pol.SandboxImage)
	if err != nil {
		return err
	}
	gate, err := buildGate(pol)
	if err != nil {
		return err
	}

	orch, err := workflow.New(workflow.Deps{
		Scanner:   scanner,
		Runner:    runner,
		Generator: generator,
		Estimator: cost.NewEstimator(log),
		Ledger:    cost.NewFileLedger(ledgerPath),
		Gate:      gate,
		Policy:    pol,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	res, err := orch.Run(context.Background(), &workflow.Request{
		WorkspacePath: workspace,
		ScriptPath:    script,
		Claims:        claims,
		Files:         files,
		Advisories:    advisories,
		DryRun:        dryRun,
	})
	if err != nil {
		return err
	}

	renderResult(os.Stdout, res)
	if outputPath != "" {
		if err := writeResultJSON(outputPath, res); err != nil {
			return err
		}
	}
	exitCode = res.Status.ExitCode()
	return nil
}

// loadPolicy reads the policy file and layers explicit flag overrides
// on top, re-validating the merged result.
func loadPolicy(cmd *cobra.Command) (policy.Policy, error) {
	pol, err := policy.Load(policyPath)
	if err != nil {
		return pol, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		pol.VerificationTimeoutSec = verifyTimeoutSec
	}
	if flags.Changed("adversarial-timeout") {
		pol.AdversarialTimeoutSec = adversarialTimeSec
	}
	if flags.Changed("max-cost") {
		pol.MaxCost = maxCost
	}
	if flags.Changed("allow-network") {
		pol.AllowNetwork = allowNetwork
	}
	if flags.Changed("allow-dangerous") {
		pol.AllowDangerous = allowDangerous
	}
	if flags.Changed("memory") {
		pol.MemoryLimitMB = memoryLimitMB
	}
	if flags.Changed("cpus") {
		pol.CPULimit = cpuLimit
	}
	if flags.Changed("unattended") {
		pol.Unattended = policy.UnattendedDecision(unattendedFlag)
	}
	if flags.Changed("image") {
		pol.SandboxImage = sandboxImage
	}
	if err := pol.Validate(); err != nil {
		return pol, err
	}
	return pol, nil
}

// buildGenerator wires the testing agent. Dry runs never call the
// agent, so a missing API key only fails non-dry runs.
func buildGenerator(log *slog.Logger) (workflow.TestGenerator, error) {
	invoker, err := agent.NewOpenAIInvoker(log)
	if err != nil {
		if dryRun {
			return unavailableGenerator{err: err}, nil
		}
		return nil, err
	}
	return agent.NewGenerator(invoker, log), nil
}

// buildRunner picks the sandbox implementation: a container runtime by
// default, the local fallback only on explicit request.
func buildRunner(log *slog.Logger, image string) (sandbox.Runner, error) {
	if useLocalRunner {
		return sandbox.NewLocalRunner(log, acceptNoIsolation)
	}
	var opts []sandbox.ContainerOption
	if image != "" {
		opts = append(opts, sandbox.WithImage(image))
	}
	return sandbox.NewContainerRunner(log, opts...)
}

// buildGate picks the confirmation gate: --auto-confirm wins, an
// attached terminal prompts interactively, and otherwise the policy's
// explicit unattended decision is required.
func buildGate(pol policy.Policy) (workflow.ConfirmationGate, error) {
	if autoConfirm || dryRun {
		return workflow.AutoGate{Accept: true}, nil
	}
	if stdinIsTerminal() {
		return &interactiveGate{}, nil
	}
	return workflow.UnattendedGate(pol.Unattended)
}

// collectContext gathers the implementation files handed to the
// testing agent: the --context list when given, otherwise every
// modest-sized source file in the workspace.
func collectContext(workspace string) (map[string]string, error) {
	const perFileCap = 64 * 1024
	const totalCap = 512 * 1024

	files := make(map[string]string)
	if len(contextFiles) > 0 {
		for _, rel := range contextFiles {
			content, err := os.ReadFile(filepath.Join(workspace, rel))
			if err != nil {
				return nil, fmt.Errorf("read context file %s: %w", rel, err)
			}
			files[rel] = string(content)
		}
		return files, nil
	}

	total := 0
	err := filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSourceFile(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > perFileCap {
			return nil
		}
		if total += int(info.Size()); total > totalCap {
			return filepath.SkipAll
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return nil
		}
		files[rel] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect context files: %w", err)
	}
	return files, nil
}

// collectAdvisories runs the advisory pre-flight scan over the
// scannable context files and flattens the findings into preview
// lines. Nothing here blocks a run; the executable scripts still go
// through their own scan inside the pipeline.
func collectAdvisories(ctx context.Context, scanner *safety.Scanner, workspace string, files map[string]string) ([]string, error) {
	var paths []string
	for rel := range files {
		switch filepath.Ext(rel) {
		case ".py", ".sh":
			paths = append(paths, filepath.Join(workspace, rel))
		}
	}
	sort.Strings(paths)

	results, err := scanner.ScanAll(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("pre-flight scan: %w", err)
	}

	var advisories []string
	for _, path := range paths {
		res, ok := results[path]
		if !ok {
			continue
		}
		rel, relErr := filepath.Rel(workspace, path)
		if relErr != nil {
			rel = path
		}
		for _, p := range res.Patterns {
			advisories = append(advisories,
				fmt.Sprintf("%s line %d: %s (%s)", rel, p.LineNumber, p.Name, p.Severity))
		}
		for _, rec := range res.Recommendations {
			advisories = append(advisories, fmt.Sprintf("%s: %s", rel, rec))
		}
	}
	return advisories, nil
}

func isSourceFile(name string) bool {
	switch filepath.Ext(name) {
	case ".py", ".go", ".js", ".ts", ".rb", ".rs", ".java", ".c", ".h", ".cpp", ".sh":
		return true
	default:
		return false
	}
}

// unavailableGenerator stands in when no agent credentials exist; dry
// runs terminate before any generation call.
type unavailableGenerator struct {
	err error
}

func (g unavailableGenerator) Generate(context.Context, map[string]string, []string) (*agent.GeneratedScript, error) {
	return nil, g.err
}
