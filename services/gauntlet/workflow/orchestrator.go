// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/agent"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/cost"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/policy"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/safety"
	"github.com/AleutianAI/AleutianGauntlet/services/gauntlet/sandbox"
)

// === SECTION: Errors ===

var (
	// ErrNilContext is returned when Run is called without a context.
	ErrNilContext = errors.New("workflow: nil context")

	// ErrNoScript is returned when the request names no verification
	// script.
	ErrNoScript = errors.New("workflow: no verification script")

	// ErrNoClaims is returned when the request carries no claims to
	// test.
	ErrNoClaims = errors.New("workflow: no claims provided")
)

// === SECTION: Request and Collaborator Interfaces ===

// Request describes one verification run.
type Request struct {
	// WorkspacePath is the host directory mounted into the sandbox;
	// the only filesystem the scripts may touch.
	WorkspacePath string

	// ScriptPath is the author-supplied verification script. It must
	// resolve inside WorkspacePath.
	ScriptPath string

	// Claims are the behavioral claims the adversarial tests attack.
	Claims []string

	// Files maps workspace-relative paths to implementation content
	// handed to the testing agent as context.
	Files map[string]string

	// Advisories are findings from the pre-flight scan of the
	// implementation files. They never block; they are surfaced in
	// the preview shown at the confirmation gate and in dry runs.
	Advisories []string

	// DryRun previews the plan without executing anything.
	DryRun bool
}

// Validate checks the request before any stage runs. A malformed
// request is a plain error, never a terminal status.
func (r *Request) Validate() error {
	if r.WorkspacePath == "" {
		return sandbox.ErrNoWorkspace
	}
	if r.ScriptPath == "" {
		return ErrNoScript
	}
	if len(r.Claims) == 0 {
		return ErrNoClaims
	}
	return nil
}

// Scanner is the static analysis gate. Satisfied by *safety.Scanner.
type Scanner interface {
	Scan(ctx context.Context, scriptPath, langHint string) (*safety.ScanResult, error)
	ScanContent(ctx context.Context, content []byte, language string) (*safety.ScanResult, error)
}

// TestGenerator produces the adversarial script. Satisfied by
// *agent.Generator.
type TestGenerator interface {
	Generate(ctx context.Context, files map[string]string, claims []string) (*agent.GeneratedScript, error)
}

// CostEstimator prices the generation call before it is made.
// Satisfied by *cost.Estimator.
type CostEstimator interface {
	Estimate(files map[string]string, claims []string) float64
}

// === SECTION: Orchestrator ===

// Orchestrator drives one run through the pipeline. All collaborators
// are injected; the orchestrator owns sequencing and the terminal
// status, nothing else.
//
// Thread Safety: safe for concurrent Run calls as long as the injected
// collaborators are.
type Orchestrator struct {
	scanner   Scanner
	runner    sandbox.Runner
	generator TestGenerator
	estimator CostEstimator
	ledger    cost.Ledger
	gate      ConfirmationGate
	policy    policy.Policy
	logger    *slog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Scanner   Scanner
	Runner    sandbox.Runner
	Generator TestGenerator
	Estimator CostEstimator
	Ledger    cost.Ledger
	Gate      ConfirmationGate
	Policy    policy.Policy
	Logger    *slog.Logger
}

// New constructs an Orchestrator, rejecting missing collaborators up
// front so Run never nil-checks mid-pipeline.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Scanner == nil:
		return nil, errors.New("workflow: nil scanner")
	case deps.Runner == nil:
		return nil, errors.New("workflow: nil runner")
	case deps.Generator == nil:
		return nil, errors.New("workflow: nil generator")
	case deps.Estimator == nil:
		return nil, errors.New("workflow: nil estimator")
	case deps.Ledger == nil:
		return nil, errors.New("workflow: nil ledger")
	case deps.Gate == nil:
		return nil, errors.New("workflow: nil confirmation gate")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		scanner:   deps.Scanner,
		runner:    deps.Runner,
		generator: deps.Generator,
		estimator: deps.Estimator,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		policy:    deps.Policy,
		logger:    deps.Logger,
	}, nil
}

// Run executes the pipeline for one request.
//
// Description:
//
//	The state machine is strictly forward: scan, confirm, verify,
//	budget-check, generate, re-scan, adversarial run, aggregate. Each
//	stage either advances or produces exactly one terminal Result. No
//	stage retries; a transient failure terminates the run and is
//	reported as such.
//
// Outputs:
//   - *Result: the terminal outcome. Nil only when err is non-nil.
//   - error: adapter and environment failures that are not run
//     outcomes (malformed request, no container runtime, sandbox
//     invocation failure). These never produce a ledger row.
//
// Thread Safety: safe for concurrent use.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := o.logger.With(slog.String("run_id", runID))
	log.Info("starting verification run",
		slog.String("workspace", req.WorkspacePath),
		slog.String("script", req.ScriptPath),
		slog.Int("claims", len(req.Claims)),
		slog.Bool("dry_run", req.DryRun),
	)

	scriptContent, err := os.ReadFile(req.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("workflow: read verification script: %w", err)
	}
	estimated := o.estimator.Estimate(req.Files, req.Claims)
	preview := BuildPreview(req, &o.policy, string(scriptContent))

	// --- Dry run: preview only, zero sandbox and agent calls. ---
	if req.DryRun {
		preview += fmt.Sprintf("estimated agent cost:  $%.4f\n", estimated)
		return o.finish(ctx, log, dryRunResult(runID, preview), estimated, 0), nil
	}

	// --- Stage: scan the verification script. Always before any run. ---
	scan, err := o.scanner.Scan(ctx, req.ScriptPath, "")
	if err != nil {
		return nil, fmt.Errorf("workflow: scan verification script: %w", err)
	}
	if !scan.IsSafe {
		if !o.policy.AllowDangerous {
			recordBlocked(ctx, StageVerification, len(scan.Patterns))
			res := blockedScriptResult(runID,
				"verification script blocked by safety scan", scan.Patterns, nil)
			return o.finish(ctx, log, res, estimated, 0), nil
		}
		log.Warn("dangerous patterns overridden by policy",
			slog.Int("patterns", len(scan.Patterns)),
			slog.String("stage", StageVerification.String()),
		)
	}

	// --- Stage: confirmation gate. Nothing has executed yet. ---
	ok, err := o.gate.Confirm(ctx, preview)
	if err != nil {
		return nil, fmt.Errorf("workflow: confirmation gate: %w", err)
	}
	if !ok {
		return o.finish(ctx, log, cancelledResult(runID), estimated, 0), nil
	}

	// --- Stage: verification run. ---
	verifyCfg := o.stageConfig(req.WorkspacePath, o.policy.VerificationTimeout())
	verifyRes, err := o.runStage(ctx, log, StageVerification, req.ScriptPath, verifyCfg)
	if err != nil {
		if errors.Is(err, sandbox.ErrScriptOutsideWorkspace) {
			res := blockedOperationResult(runID,
				"refused to execute a script outside the workspace mount")
			return o.finish(ctx, log, res, estimated, 0), nil
		}
		return nil, err
	}
	if verifyRes.TimedOut {
		res := timeoutResult(runID, StageVerification, verifyRes.Stderr, nil)
		return o.finish(ctx, log, res, estimated, 0), nil
	}
	if verifyRes.ExitCode != 0 {
		res := classifyVerification(runID, verifyRes.ExitCode, verifyRes.Stderr)
		return o.finish(ctx, log, res, estimated, 0), nil
	}

	// --- Stage: budget check. Over budget skips the adversarial
	// stage with a warning; it does not fail the run. ---
	if o.policy.MaxCost > 0 && estimated > o.policy.MaxCost {
		log.Warn("adversarial stage skipped: estimated cost over budget",
			slog.Float64("estimated", estimated),
			slog.Float64("max_cost", o.policy.MaxCost),
		)
		msg := fmt.Sprintf(
			"verification passed; adversarial stage skipped (estimated cost $%.4f exceeds budget $%.4f)",
			estimated, o.policy.MaxCost)
		return o.finish(ctx, log, budgetSkippedResult(runID, msg), estimated, 0), nil
	}

	// --- Stage: adversarial generation. One retry, and only when the
	// operator opted in; the pipeline default is no retries at all. ---
	actual := estimated
	script, err := o.generate(ctx, log, req)
	if err != nil {
		var genErr *agent.GenerationError
		if errors.As(err, &genErr) {
			msg := fmt.Sprintf("adversarial generation failed: %s", genErr.Reason)
			res := failedAdversarialResult(runID, msg, "", nil, &actual)
			return o.finish(ctx, log, res, estimated, actual), nil
		}
		return nil, err
	}

	// --- Stage: scan the generated script. The agent's output is
	// untrusted; it passes the same gate the author's script did. ---
	advScan, err := o.scanner.ScanContent(ctx, []byte(script.Content), script.Language)
	if err != nil {
		return nil, fmt.Errorf("workflow: scan adversarial script: %w", err)
	}
	if !advScan.IsSafe {
		if !o.policy.AllowDangerous {
			recordBlocked(ctx, StageAdversarial, len(advScan.Patterns))
			res := blockedScriptResult(runID,
				"generated adversarial script blocked by safety scan",
				advScan.Patterns, &actual)
			return o.finish(ctx, log, res, estimated, actual), nil
		}
		log.Warn("dangerous patterns overridden by policy",
			slog.Int("patterns", len(advScan.Patterns)),
			slog.String("stage", StageAdversarial.String()),
		)
	}

	// --- Stage: adversarial run. The script gets a run-scoped name
	// and an exclusive create so it can never clobber a workspace
	// file, and cleanup only ever removes what this run wrote. ---
	advPath := filepath.Join(req.WorkspacePath, adversarialScriptName(script, runID))
	if err := writeExclusive(advPath, script.Content); err != nil {
		return nil, fmt.Errorf("workflow: write adversarial script: %w", err)
	}
	defer os.Remove(advPath)

	advCfg := o.stageConfig(req.WorkspacePath, o.policy.AdversarialTimeout())
	advRes, err := o.runStage(ctx, log, StageAdversarial, advPath, advCfg)
	if err != nil {
		return nil, err
	}
	if advRes.TimedOut {
		res := timeoutResult(runID, StageAdversarial, advRes.Stderr, &actual)
		return o.finish(ctx, log, res, estimated, actual), nil
	}

	// --- Stage: aggregate. Structured failure lines are authoritative
	// even when the exit code disagrees. ---
	failures := parseAdversarialFailures(advRes.Stdout + "\n" + advRes.Stderr)
	if advRes.ExitCode != 0 || len(failures) > 0 {
		res := failedAdversarialResult(runID,
			summarizeFailures(failures, advRes.ExitCode),
			advRes.Stderr, failures, &actual)
		return o.finish(ctx, log, res, estimated, actual), nil
	}
	res := passResult(runID, "verification and adversarial tests passed", &actual)
	return o.finish(ctx, log, res, estimated, actual), nil
}

// adversarialScriptName derives a run-unique workspace filename for
// the generated script.
func adversarialScriptName(script *agent.GeneratedScript, runID string) string {
	base := script.Filename()
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + runID + ext
}

// writeExclusive creates path with the given content, failing if the
// path already exists.
func writeExclusive(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// stageConfig builds a fresh sandbox config from policy for one stage.
func (o *Orchestrator) stageConfig(workspacePath string, timeout time.Duration) sandbox.Config {
	cfg := sandbox.NewConfig(workspacePath, timeout)
	if o.policy.MemoryLimitMB > 0 {
		cfg.MemoryLimitMB = o.policy.MemoryLimitMB
	}
	if o.policy.CPULimit > 0 {
		cfg.CPULimit = o.policy.CPULimit
	}
	cfg.NetworkEnabled = o.policy.AllowNetwork
	return cfg
}

// runStage executes one sandboxed stage and records its duration.
func (o *Orchestrator) runStage(ctx context.Context, log *slog.Logger, stage Stage, scriptPath string, cfg sandbox.Config) (*sandbox.ExecResult, error) {
	res, err := o.runner.Run(ctx, scriptPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s stage: %w", stage, err)
	}
	recordStage(ctx, stage, res.Duration, res.TimedOut)
	log.Info("stage completed",
		slog.String("stage", stage.String()),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// generate calls the testing agent, retrying once only when the
// policy opts in.
func (o *Orchestrator) generate(ctx context.Context, log *slog.Logger, req *Request) (*agent.GeneratedScript, error) {
	script, err := o.generator.Generate(ctx, req.Files, req.Claims)
	if err == nil {
		return script, nil
	}
	if !o.policy.RetryGeneration {
		return nil, err
	}
	var genErr *agent.GenerationError
	if !errors.As(err, &genErr) {
		return nil, err
	}
	log.Warn("adversarial generation failed, retrying once",
		slog.String("reason", genErr.Reason))
	return o.generator.Generate(ctx, req.Files, req.Claims)
}

// finish records the terminal state: metrics, log line, and exactly
// one ledger row. Ledger failures are logged and swallowed; cost
// recording must never change a run's outcome.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, res *Result, estimated, actual float64) *Result {
	recordRun(ctx, res.Status)
	if err := o.ledger.Append(cost.Entry{
		Timestamp:     time.Now().UTC(),
		RunID:         res.RunID,
		EstimatedCost: estimated,
		ActualCost:    actual,
		Status:        res.Status.String(),
	}); err != nil {
		log.Warn("ledger append failed", slog.String("error", err.Error()))
	}
	log.Info("run terminated",
		slog.String("status", res.Status.String()),
		slog.String("message", res.Message),
	)
	return res
}
