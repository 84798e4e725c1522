// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy loads and validates the execution policy that
// parameterizes a verification run: stage timeouts, resource caps,
// budget, and override switches.
//
// Policy comes from an optional yaml file layered under CLI flags;
// flags always win. The unattended confirmation decision is the one
// field with no default — automation must state explicitly whether an
// unattended run auto-accepts or auto-declines, because silently
// guessing either way is wrong somewhere.
package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// UnattendedDecision says what the confirmation gate does when no
// interactive terminal is attached.
type UnattendedDecision string

const (
	// UnattendedUnset means the choice has not been made; unattended
	// runs fail fast at the confirmation gate.
	UnattendedUnset UnattendedDecision = ""

	// UnattendedAccept auto-accepts the confirmation prompt.
	UnattendedAccept UnattendedDecision = "accept"

	// UnattendedDecline auto-declines, terminating the run Cancelled.
	UnattendedDecline UnattendedDecision = "decline"
)

// Policy is the execution policy for one verification run.
type Policy struct {
	// VerificationTimeoutSec bounds the verification stage, seconds.
	VerificationTimeoutSec int `yaml:"verification_timeout_sec" validate:"gt=0,lte=86400"`

	// AdversarialTimeoutSec bounds the adversarial stage, seconds.
	AdversarialTimeoutSec int `yaml:"adversarial_timeout_sec" validate:"gt=0,lte=86400"`

	// MemoryLimitMB caps sandbox memory.
	MemoryLimitMB int `yaml:"memory_limit_mb" validate:"gt=0"`

	// CPULimit caps sandbox CPUs.
	CPULimit float64 `yaml:"cpu_limit" validate:"gt=0"`

	// MaxCost is the budget for one generation call, in dollars.
	// Zero disables the budget check.
	MaxCost float64 `yaml:"max_cost" validate:"gte=0"`

	// AllowNetwork enables network inside the sandboxes.
	AllowNetwork bool `yaml:"allow_network"`

	// AllowDangerous logs and proceeds past a blocking scan result.
	// Every use is an explicit, logged override.
	AllowDangerous bool `yaml:"allow_dangerous"`

	// Unattended is the required confirmation decision for
	// non-interactive runs.
	Unattended UnattendedDecision `yaml:"unattended" validate:"omitempty,oneof=accept decline"`

	// LedgerPath overrides the cost ledger location.
	LedgerPath string `yaml:"ledger_path"`

	// RetryGeneration re-tries a failed generation call once. The
	// default is no retries; this is the named, overridable escape
	// hatch for flaky agent endpoints.
	RetryGeneration bool `yaml:"retry_generation"`

	// SandboxImage overrides the container image.
	SandboxImage string `yaml:"sandbox_image"`
}

// Default returns the fixed policy defaults.
func Default() Policy {
	return Policy{
		VerificationTimeoutSec: 300,
		AdversarialTimeoutSec:  600,
		MemoryLimitMB:          2048,
		CPULimit:               2.0,
		MaxCost:                0,
		Unattended:             UnattendedUnset,
	}
}

// Load reads a policy file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("policy: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks the policy's structural constraints.
func (p Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("policy: invalid: %w", err)
	}
	return nil
}

// VerificationTimeout returns the verification stage timeout.
func (p Policy) VerificationTimeout() time.Duration {
	return time.Duration(p.VerificationTimeoutSec) * time.Second
}

// AdversarialTimeout returns the adversarial stage timeout.
func (p Policy) AdversarialTimeout() time.Duration {
	return time.Duration(p.AdversarialTimeoutSec) * time.Second
}
