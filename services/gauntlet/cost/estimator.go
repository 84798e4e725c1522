// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cost estimates the monetary cost of one Testing Agent call
// and records run costs in a durable, append-only ledger.
//
// Estimation is a token-proportional heuristic with no network call;
// its inaccuracy is advisory only and never fails a run. Ledger write
// failures are likewise logged and swallowed by the caller — cost
// accounting must never change a verification outcome.
package cost

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// Default pricing knobs for the estimate. Dollars per million tokens,
// matching the published price band of the frontier models the Testing
// Agent runs on; deliberately on the high side so the budget check
// errs toward warning.
const (
	defaultInputPricePerMTok  = 3.0
	defaultOutputPricePerMTok = 15.0

	// defaultCompletionAllowance is the assumed size of the generated
	// adversarial script, in tokens.
	defaultCompletionAllowance = 8192

	// promptOverheadTokens covers the fixed system prompt and
	// per-message framing.
	promptOverheadTokens = 1024

	// fallbackBytesPerToken is the chars-per-token ratio used when no
	// tokenizer is available. Four bytes per token is the usual rough
	// figure for English text and source code.
	fallbackBytesPerToken = 4
)

// Estimator computes a pre-flight cost estimate for one generation
// call.
//
// Thread Safety: Safe for concurrent use after construction.
type Estimator struct {
	encoder    *tiktoken.Tiktoken // nil when the encoding is unavailable
	inPrice    float64
	outPrice   float64
	completion int
	logger     *slog.Logger
}

// NewEstimator creates an estimator.
//
// The tokenizer is loaded once at construction; if the encoding data
// is not available locally the estimator degrades to a bytes-per-token
// heuristic rather than touching the network during estimates.
func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Estimator{
		inPrice:    defaultInputPricePerMTok,
		outPrice:   defaultOutputPricePerMTok,
		completion: defaultCompletionAllowance,
		logger:     logger,
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tokenizer unavailable, falling back to byte heuristic",
			slog.String("error", err.Error()))
	} else {
		e.encoder = enc
	}
	return e
}

// Estimate returns the expected cost in dollars of generating
// adversarial tests for the given implementation files and claims.
//
// Pure function of its inputs: no network, no filesystem writes.
func (e *Estimator) Estimate(files map[string]string, claims []string) float64 {
	tokens := promptOverheadTokens
	for _, content := range files {
		tokens += e.countTokens(content)
	}
	for _, claim := range claims {
		tokens += e.countTokens(claim)
	}

	dollars := float64(tokens)/1e6*e.inPrice +
		float64(e.completion)/1e6*e.outPrice

	e.logger.Debug("cost estimate",
		slog.Int("prompt_tokens", tokens),
		slog.Int("completion_allowance", e.completion),
		slog.Float64("dollars", dollars),
	)
	return dollars
}

// countTokens counts tokens in one text, using the tokenizer when
// available and the byte heuristic otherwise.
func (e *Estimator) countTokens(text string) int {
	if e.encoder != nil {
		return len(e.encoder.Encode(text, nil, nil))
	}
	return len(text) / fallbackBytesPerToken
}
