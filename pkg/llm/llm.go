// Package llm defines the LlmProvider port (spec §6): a generation
// interface abstracting away any specific LLM vendor (spec §1 Non-goals
// exclude concrete providers).
package llm

import "context"

// GenerateParams bounds a single completion request.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
}

// Provider is the port the Router's intent classifier fallback and
// dynamic-mode orchestration agents call through (spec §6 "LlmProvider").
// Concrete vendor clients (OpenAI, Anthropic, local models) live outside
// this module; the core only depends on this interface.
type Provider interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}
