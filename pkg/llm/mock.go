package llm

import (
	"context"
	"strings"
	"sync"
)

// MockRule matches a request and supplies the canned reply.
type MockRule struct {
	// Contains is matched against the user prompt (case-insensitive).
	// Empty matches everything.
	Contains string
	// Reply is returned verbatim as the completion text.
	Reply string
	// Err, when set, is returned instead of a reply.
	Err error
}

// MockProvider is a scripted Provider for tests. Rules are evaluated in
// order; the first match wins. Unmatched calls fall back to Default.
type MockProvider struct {
	mu      sync.Mutex
	rules   []MockRule
	Default string
	calls   []CompleteInput
}

// NewMockProvider creates a mock with the given rules.
func NewMockProvider(rules ...MockRule) *MockProvider {
	return &MockProvider{rules: rules, Default: "{}"}
}

// AddRule appends a rule.
func (m *MockProvider) AddRule(rule MockRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, input CompleteInput) (*CompleteOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}

	m.mu.Lock()
	m.calls = append(m.calls, input)
	rules := m.rules
	fallback := m.Default
	m.mu.Unlock()

	lower := strings.ToLower(input.User)
	for _, rule := range rules {
		if rule.Contains == "" || strings.Contains(lower, strings.ToLower(rule.Contains)) {
			if rule.Err != nil {
				return nil, rule.Err
			}
			return &CompleteOutput{
				Text:  rule.Reply,
				Usage: Usage{InputTokens: len(input.User) / 4, OutputTokens: len(rule.Reply) / 4},
			}, nil
		}
	}
	return &CompleteOutput{Text: fallback}, nil
}

// Calls returns a copy of the recorded inputs.
func (m *MockProvider) Calls() []CompleteInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompleteInput, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Complete was invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
