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
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIInvoker implements Invoker against any OpenAI-compatible
// endpoint.
type OpenAIInvoker struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIInvoker builds an invoker from the environment.
//
// Reads OPENAI_API_KEY (falling back to the container secret path) and
// OPENAI_MODEL; OPENAI_BASE_URL optionally points the client at a
// compatible local endpoint.
func NewOpenAIInvoker(logger *slog.Logger) (*OpenAIInvoker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			logger.Info("read the OpenAI API key from container secrets")
		} else {
			return nil, fmt.Errorf("agent: OPENAI_API_KEY not set and secret not found at %s", secretPath)
		}
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	logger.Info("initializing Testing Agent client", slog.String("model", model))
	return &OpenAIInvoker{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// Invoke implements the Invoker interface with a single chat
// completion call. No retries.
func (o *OpenAIInvoker) Invoke(ctx context.Context, systemPrompt, content string) (*InvokeResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.logger.Error("Testing Agent call failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("agent: API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &InvokeResult{Success: false, Err: "agent returned no choices"}, nil
	}

	o.logger.Debug("Testing Agent responded",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return &InvokeResult{Success: true, Text: resp.Choices[0].Message.Content}, nil
}
