package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

func testBindings() []models.LLMBinding {
	return []models.LLMBinding{
		{ID: "default-gpt", Provider: "openai", Model: "gpt-4o-mini"},
		{ID: "fast", Provider: "openai", Model: "gpt-4o-mini"},
	}
}

func TestBindingRegistryResolvesDefault(t *testing.T) {
	mock := NewMockProvider()
	registry := NewBindingRegistry(testBindings(), "default-gpt", func(*models.LLMBinding) (Provider, error) {
		return mock, nil
	})

	provider, binding, err := registry.Provider("")
	require.NoError(t, err)
	assert.Same(t, Provider(mock), provider)
	assert.Equal(t, "default-gpt", binding.ID)
}

func TestBindingRegistryUnknownBinding(t *testing.T) {
	registry := NewBindingRegistry(testBindings(), "", func(*models.LLMBinding) (Provider, error) {
		return NewMockProvider(), nil
	})

	_, _, err := registry.Provider("nope")
	assert.True(t, enginerr.Is(err, enginerr.KindNotFound))

	_, _, err = registry.Provider("")
	assert.True(t, enginerr.Is(err, enginerr.KindValidation))
}

func TestBindingRegistryCachesProviders(t *testing.T) {
	built := 0
	registry := NewBindingRegistry(testBindings(), "", func(*models.LLMBinding) (Provider, error) {
		built++
		return NewMockProvider(), nil
	})

	p1, _, err := registry.Provider("fast")
	require.NoError(t, err)
	p2, _, err := registry.Provider("fast")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, built)

	// Put drops the cached provider.
	registry.Put(models.LLMBinding{ID: "fast", Provider: "openai", Model: "gpt-4o"})
	_, _, err = registry.Provider("fast")
	require.NoError(t, err)
	assert.Equal(t, 2, built)
}

func TestMockProviderRules(t *testing.T) {
	mock := NewMockProvider(
		MockRule{Contains: "schema", Reply: `{"tables":[]}`},
		MockRule{Contains: "sql", Reply: `{"sql":"SELECT 1"}`},
	)
	mock.Default = "fallback"

	out, err := mock.Complete(context.Background(), CompleteInput{User: "generate SQL please"})
	require.NoError(t, err)
	assert.Equal(t, `{"sql":"SELECT 1"}`, out.Text)

	out, err = mock.Complete(context.Background(), CompleteInput{User: "unrelated"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.Text)

	assert.Equal(t, 2, mock.CallCount())
}
