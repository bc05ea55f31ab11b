package provider

import (
	"fmt"
	"strings"

	"github.com/KafClaw/tenka/internal/config"
)

// Role selects which configured model a provider is built for.
type Role string

const (
	// RoleResponder is the model used by the mode responders.
	RoleResponder Role = "responder"
	// RoleClassifier is the model used by the mode classifier and the
	// consent judge. It falls back to the responder model when unset.
	RoleClassifier Role = "classifier"
)

// ParseModelString splits a "provider/model" string into provider ID and model name.
// For OpenRouter, the format is "openrouter/vendor/model" (three segments).
func ParseModelString(s string) (providerID, modelName string) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) < 2 {
		return "", s
	}
	providerID = strings.ToLower(parts[0])
	modelName = parts[1]
	return
}

// Resolve creates the LLMProvider for role based on config.
// Resolution order:
//  1. model.classifierModel (classifier role only)
//  2. model.name
//  3. providers.openai with the bare model name
func Resolve(cfg *config.Config, role Role) (LLMProvider, error) {
	modelStr := strings.TrimSpace(cfg.Model.Name)
	if role == RoleClassifier && strings.TrimSpace(cfg.Model.ClassifierModel) != "" {
		modelStr = strings.TrimSpace(cfg.Model.ClassifierModel)
	}
	provID, model := ParseModelString(modelStr)
	if provID == "" {
		// Bare model name: plain OpenAI-compatible endpoint.
		provID = "openai"
	}
	return buildProvider(cfg, provID, model)
}

// buildProvider constructs a provider from its canonical ID and model name.
func buildProvider(cfg *config.Config, providerID, model string) (LLMProvider, error) {
	switch providerID {
	case "openai":
		key := cfg.Providers.OpenAI.APIKey
		if key == "" {
			return nil, &ProviderError{Provider: "openai", Hint: "set providers.openai.apiKey in config or OPENAI_API_KEY", Err: ErrNoCredentials}
		}
		return NewOpenAIProvider(key, cfg.Providers.OpenAI.APIBase, model), nil

	case "openrouter":
		key := cfg.Providers.OpenRouter.APIKey
		base := cfg.Providers.OpenRouter.APIBase
		if key == "" {
			return nil, &ProviderError{Provider: "openrouter", Hint: "set providers.openrouter.apiKey in config or OPENROUTER_API_KEY", Err: ErrNoCredentials}
		}
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(key, base, model), nil

	default:
		return nil, &ProviderError{Provider: providerID, Hint: fmt.Sprintf("unknown provider ID %q (supported: openai, openrouter)", providerID)}
	}
}

// ProviderError is returned when a provider cannot be constructed.
type ProviderError struct {
	Provider string
	Hint     string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Hint)
}

func (e *ProviderError) Unwrap() error { return e.Err }
