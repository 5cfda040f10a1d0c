// Package agent implements the agent runtime and the specialist agents
// (schema, sql, visualize). The runtime owns provider resolution, prompt
// assembly, reply post-processing, and per-call execution logging; the
// specialists add their domain logic on top.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/llm"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

// InvokeRequest is one runtime invocation.
type InvokeRequest struct {
	// ProfileID selects the agent profile; empty uses no profile (all
	// tools enabled, default binding).
	ProfileID string
	// BindingID overrides the profile's LLM binding.
	BindingID string
	// ExecutionID correlates the call in the execution log.
	ExecutionID string
	// Step names the call in the execution log (e.g. "sql_generate").
	Step string

	System string
	User   string
}

// Runtime invokes language providers on behalf of agents.
type Runtime struct {
	providers llm.Registry
	profiles  *store.Registry[models.AgentProfile]
	logs      *store.ExecutionLogStore
	log       *slog.Logger
}

// NewRuntime creates the runtime. profiles and logs may be nil for
// bare setups (no profile gating, no execution logging).
func NewRuntime(providers llm.Registry, profiles *store.Registry[models.AgentProfile], logs *store.ExecutionLogStore) *Runtime {
	return &Runtime{
		providers: providers,
		profiles:  profiles,
		logs:      logs,
		log:       slog.With("component", "agent"),
	}
}

// Features returns the feature mask of a profile. An unknown or empty
// profile id enables every tool.
func (r *Runtime) Features(profileID string) models.FeatureMask {
	if profileID == "" || r.profiles == nil {
		return models.FeatureMask{SQLTool: true, RAGTool: true, RuleValidation: true}
	}
	profile, err := r.profiles.Get(profileID)
	if err != nil {
		return models.FeatureMask{SQLTool: true, RAGTool: true, RuleValidation: true}
	}
	return profile.Features
}

// Invoke renders the request into one provider call and post-processes
// the reply into an AgentMessage. Every call emits an execution log
// record regardless of outcome.
func (r *Runtime) Invoke(ctx context.Context, req InvokeRequest) (models.AgentMessage, error) {
	system := req.System
	bindingID := req.BindingID

	if req.ProfileID != "" && r.profiles != nil {
		profile, err := r.profiles.Get(req.ProfileID)
		if err != nil {
			return models.AgentMessage{}, err
		}
		if system == "" {
			system = profile.SystemPrompt
		}
		if bindingID == "" {
			bindingID = profile.LLMBindingID
		}
	}

	provider, binding, err := r.providers.Provider(bindingID)
	if err != nil {
		r.record(req, "error", err.Error(), nil)
		return models.AgentMessage{}, err
	}

	callCtx := ctx
	if timeout := binding.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	out, err := provider.Complete(callCtx, llm.CompleteInput{
		System: system,
		User:   req.User,
		Options: llm.Options{
			Model:       binding.Model,
			Temperature: binding.Temperature,
			MaxTokens:   binding.MaxTokens,
			Timeout:     binding.Timeout(),
		},
	})
	elapsed := time.Since(started)

	if err != nil {
		kind := enginerr.KindOf(err)
		if callCtx.Err() != nil && kind != enginerr.KindTimeout && kind != enginerr.KindCancelled {
			err = enginerr.Wrap(classifyCtx(callCtx), err, "provider call aborted")
		}
		r.record(req, "error", err.Error(), map[string]any{"duration_ms": elapsed.Milliseconds()})
		r.log.Warn("Provider call failed",
			"step", req.Step, "binding_id", binding.ID, "error", err)
		return models.AgentMessage{}, err
	}

	r.record(req, "ok", "", map[string]any{
		"duration_ms":  elapsed.Milliseconds(),
		"model":        binding.Model,
		"total_tokens": out.Usage.TotalTokens,
	})

	return models.AgentMessage{
		Role:    models.RoleAssistant,
		Content: out.Text,
		Intent:  models.IntentAnswer,
		Metadata: map[string]any{
			"binding_id":   binding.ID,
			"model":        binding.Model,
			"total_tokens": out.Usage.TotalTokens,
		},
	}, nil
}

func classifyCtx(ctx context.Context) enginerr.Kind {
	if ctx.Err() == context.DeadlineExceeded {
		return enginerr.KindTimeout
	}
	return enginerr.KindCancelled
}

func (r *Runtime) record(req InvokeRequest, status, detail string, metadata map[string]any) {
	if r.logs == nil {
		return
	}
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata["profile_id"] = req.ProfileID
	r.logs.Append(models.ExecutionLog{
		ExecutionID: req.ExecutionID,
		Step:        req.Step,
		Status:      status,
		Detail:      detail,
		Metadata:    metadata,
		TS:          time.Now().UTC(),
	})
}
