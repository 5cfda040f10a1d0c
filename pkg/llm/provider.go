// Package llm defines the LanguageProvider capability the engine consumes.
// Transports (OpenAI-compatible HTTP, gRPC sidecars) live outside the core;
// the engine only depends on this interface.
package llm

import (
	"context"
	"time"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

// CompleteInput is one chat-completion request.
type CompleteInput struct {
	System  string
	User    string
	Options Options
}

// Options are per-call provider settings resolved from the LLM binding.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CompleteOutput is the provider's reply.
type CompleteOutput struct {
	Text  string
	Usage Usage
}

// Provider is the language-model capability. Implementations must honor
// ctx cancellation and the per-call timeout, and classify failures as
// LLM_UNAVAILABLE (transport, retryable) or LLM_PROTOCOL (malformed reply).
type Provider interface {
	Complete(ctx context.Context, input CompleteInput) (*CompleteOutput, error)
}

// Registry resolves an LLM binding id to a ready-to-call provider.
type Registry interface {
	Provider(bindingID string) (Provider, *models.LLMBinding, error)
}

// Unavailable wraps a transport failure as LLM_UNAVAILABLE.
func Unavailable(err error) error {
	return enginerr.Wrap(enginerr.KindLLMUnavailable, err, "language provider unavailable")
}

// ProtocolError wraps a malformed provider reply as LLM_PROTOCOL.
func ProtocolError(err error, detail string) error {
	return enginerr.Wrap(enginerr.KindLLMProtocol, err, "malformed provider reply: %s", detail)
}
