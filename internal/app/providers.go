package app

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kavehfayyazi/tremolo/internal/config"
	"github.com/kavehfayyazi/tremolo/internal/feedback"
	"github.com/kavehfayyazi/tremolo/internal/resilience"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/provider/llm"
	"github.com/kavehfayyazi/tremolo/pkg/provider/llm/anyllm"
	"github.com/kavehfayyazi/tremolo/pkg/provider/llm/openai"
)

// RegisterBuiltinLLMs wires the LLM providers that ship with tremolo into
// reg. "openai" uses the official SDK; every other name goes through
// any-llm-go.
func RegisterBuiltinLLMs(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Supported {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
}

// BuildFeedbackSource assembles the configured AI feedback sources into one
// [feedback.Source], or returns nil when AI feedback is disabled. Several
// sources, and several LLM providers within the llm source, are tried in
// order until one answers.
func BuildFeedbackSource(cfg config.FeedbackConfig, backend analysis.Provider, reg *config.Registry) (feedback.Source, error) {
	var chain *resilience.FeedbackFallback
	for _, name := range cfg.Sources {
		var src feedback.Source
		switch name {
		case config.FeedbackBackend:
			src = feedback.NewBackendSource(backend)
		case config.FeedbackLLM:
			p, err := buildLLM(cfg.LLM, reg)
			if err != nil {
				return nil, err
			}
			src = feedback.NewLLMSource(p, llmOptions(cfg)...)
		default:
			return nil, fmt.Errorf("unknown feedback source %q", name)
		}

		if chain == nil {
			chain = resilience.NewFeedbackFallback(src, string(name), resilience.FallbackConfig{})
		} else {
			chain.AddFallback(string(name), src)
		}
	}
	if chain == nil {
		return nil, nil
	}
	return chain, nil
}

// buildLLM creates every configured provider and chains them, primary first.
func buildLLM(entries []config.ProviderEntry, reg *config.Registry) (llm.Provider, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("llm feedback source needs at least one provider")
	}
	var chain *resilience.LLMFallback
	for i, entry := range entries {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("feedback.llm[%d] %q: %w", i, entry.Name, err)
		}
		label := entry.Name + "/" + entry.Model
		if chain == nil {
			chain = resilience.NewLLMFallback(p, label, resilience.FallbackConfig{})
		} else {
			chain.AddFallback(label, p)
		}
	}
	return chain, nil
}

func llmOptions(cfg config.FeedbackConfig) []feedback.LLMOption {
	var opts []feedback.LLMOption
	if cfg.SystemPrompt != "" {
		opts = append(opts, feedback.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, feedback.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, feedback.WithMaxTokens(cfg.MaxTokens))
	}
	return opts
}

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
