package llm

import (
	"sync"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

// ProviderFactory builds a Provider for a binding. The factory owns the
// transport details (API key resolution, base URL).
type ProviderFactory func(binding *models.LLMBinding) (Provider, error)

// BindingRegistry maps binding ids to providers, constructing them lazily
// and caching the result. Thread-safe.
type BindingRegistry struct {
	mu        sync.RWMutex
	bindings  map[string]*models.LLMBinding
	providers map[string]Provider
	factory   ProviderFactory
	defaultID string
}

// NewBindingRegistry creates a registry over the configured bindings.
// defaultID may be empty when no default binding exists.
func NewBindingRegistry(bindings []models.LLMBinding, defaultID string, factory ProviderFactory) *BindingRegistry {
	m := make(map[string]*models.LLMBinding, len(bindings))
	for i := range bindings {
		m[bindings[i].ID] = &bindings[i]
	}
	return &BindingRegistry{
		bindings:  m,
		providers: make(map[string]Provider),
		factory:   factory,
		defaultID: defaultID,
	}
}

// Provider resolves a binding id to a provider. An empty id resolves to the
// default binding when one is configured.
func (r *BindingRegistry) Provider(bindingID string) (Provider, *models.LLMBinding, error) {
	if bindingID == "" {
		bindingID = r.defaultID
	}
	if bindingID == "" {
		return nil, nil, enginerr.New(enginerr.KindValidation, "no llm binding specified and no default configured")
	}

	r.mu.RLock()
	binding, ok := r.bindings[bindingID]
	provider := r.providers[bindingID]
	r.mu.RUnlock()

	if !ok {
		return nil, nil, enginerr.New(enginerr.KindNotFound, "llm binding not found: %s", bindingID)
	}
	if provider != nil {
		return provider, binding, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if provider = r.providers[bindingID]; provider == nil {
		var err error
		provider, err = r.factory(binding)
		if err != nil {
			return nil, nil, enginerr.Wrap(enginerr.KindInternal, err, "building provider for binding %s", bindingID)
		}
		r.providers[bindingID] = provider
	}
	return provider, binding, nil
}

// Put registers or replaces a binding, dropping any cached provider.
func (r *BindingRegistry) Put(binding models.LLMBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[binding.ID] = &binding
	delete(r.providers, binding.ID)
}
