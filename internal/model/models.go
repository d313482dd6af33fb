// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// =============================================================================
// PROVIDER FAMILIES
// =============================================================================

// Provider families understood by the adapter layer.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
)

// Provider endpoints.
const (
	OpenAIChatURL     = "https://api.openai.com/v1/chat/completions"
	AnthropicMessages = "https://api.anthropic.com/v1/messages"
)

// Generation defaults applied when neither the request nor the model sets a value.
const (
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
)

// =============================================================================
// MODEL CONFIG TYPE
// =============================================================================

// ModelConfig describes one backend the engine can talk to.
// Loaded at startup and on config reload; the engine never mutates it.
type ModelConfig struct {
	// ModelID is the identifier used in rosters and requests.
	ModelID string `toml:"model_id" json:"model_id" yaml:"model_id"`

	// ProviderFamily selects the wire protocol (openai, anthropic).
	ProviderFamily string `toml:"provider_family" json:"provider_family" yaml:"provider_family"`

	// EndpointURL is the full URL requests are POSTed to.
	EndpointURL string `toml:"endpoint_url" json:"endpoint_url" yaml:"endpoint_url"`

	DefaultMaxTokens int `toml:"default_max_tokens" json:"default_max_tokens" yaml:"default_max_tokens"`

	// DefaultTemperature is used when a request sets none. Nil means DefaultTemperature; 0 is kept.
	DefaultTemperature *float64 `toml:"default_temperature,omitempty" json:"default_temperature,omitempty" yaml:"default_temperature,omitempty"`

	// ProviderModel is the model name sent on the wire. Empty means ModelID.
	ProviderModel string `toml:"provider_model,omitempty" json:"provider_model,omitempty" yaml:"provider_model,omitempty"`

	// DisplayName is shown in listings.
	DisplayName string `toml:"display_name,omitempty" json:"display_name,omitempty" yaml:"display_name,omitempty"`

	// APIKeyEnv names an environment variable holding a fallback key.
	APIKeyEnv string `toml:"api_key_env,omitempty" json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// WireModel returns the model name to send to the provider.
func (c ModelConfig) WireModel() string {
	if c.ProviderModel != "" {
		return c.ProviderModel
	}
	return c.ModelID
}

// Name returns the display name, falling back to the model id.
func (c ModelConfig) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ModelID
}

// Validate checks that the config is usable.
func (c ModelConfig) Validate() error {
	if strings.TrimSpace(c.ModelID) == "" {
		return fmt.Errorf("model_id is required")
	}
	if c.ProviderFamily == "" {
		return fmt.Errorf("model %s: provider_family is required", c.ModelID)
	}
	u, err := url.Parse(c.EndpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("model %s: invalid endpoint_url %q", c.ModelID, c.EndpointURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model %s: endpoint_url must be http or https", c.ModelID)
	}
	if c.DefaultMaxTokens < 0 {
		return fmt.Errorf("model %s: default_max_tokens must be non-negative", c.ModelID)
	}
	if t := c.DefaultTemperature; t != nil && (*t < 0 || *t > MaxTemperature) {
		return fmt.Errorf("model %s: default_temperature must be between 0 and %.0f", c.ModelID, MaxTemperature)
	}
	return nil
}

// =============================================================================
// BUILT-IN CATALOG
// =============================================================================

// DefaultModels returns the built-in model catalog.
func DefaultModels() []ModelConfig {
	openai := func(id, name string) ModelConfig {
		return ModelConfig{
			ModelID:            id,
			ProviderFamily:     FamilyOpenAI,
			EndpointURL:        OpenAIChatURL,
			DefaultMaxTokens:   DefaultMaxTokens,
			DefaultTemperature: Float(DefaultTemperature),
			DisplayName:        name,
			APIKeyEnv:          "OPENAI_API_KEY",
		}
	}
	anthropic := func(id, wire, name string) ModelConfig {
		return ModelConfig{
			ModelID:            id,
			ProviderFamily:     FamilyAnthropic,
			EndpointURL:        AnthropicMessages,
			DefaultMaxTokens:   DefaultMaxTokens,
			DefaultTemperature: Float(DefaultTemperature),
			ProviderModel:      wire,
			DisplayName:        name,
			APIKeyEnv:          "ANTHROPIC_API_KEY",
		}
	}

	return []ModelConfig{
		openai("gpt-4", "GPT-4"),
		openai("gpt-4o", "GPT-4o"),
		openai("gpt-4o-mini", "GPT-4o Mini"),
		anthropic("claude-3-5-sonnet-latest", "", "Claude 3.5 Sonnet"),
		anthropic("claude-3-opus-20240229", "", "Claude 3 Opus"),
		anthropic("claude-3-haiku-20240229", "claude-3-haiku-20240307", "Claude 3 Haiku"),
	}
}

// DefaultRoster is the two-model roster used when none is configured.
func DefaultRoster() []string {
	return []string{"gpt-4o", "gpt-4o-mini"}
}

// ClaudeRoster is the three-model roster offered as a config example.
func ClaudeRoster() []string {
	return []string{"claude-3-5-sonnet-latest", "gpt-4o", "gpt-4o-mini"}
}

// Default system messages.
const (
	DefaultSystemMessage  = "You are an AI talking to another AI with an initial human prompt."
	ThreeWaySystemMessage = "You're one of three different AI models talking to each other, engaging in conversation with the other AIs. With the occasional human prompt every ten responses or so."
)

// ContinuationNotice is appended to replies the provider cut off at max tokens.
const ContinuationNotice = "\n\n*Note: The response was cut off. Please continue the conversation.*"

// SystemMessageFor picks the default system message for a roster size.
func SystemMessageFor(rosterLen int) string {
	if rosterLen >= 3 {
		return ThreeWaySystemMessage
	}
	return DefaultSystemMessage
}

// Index builds a model-id keyed map from configs.
func Index(models []ModelConfig) map[string]ModelConfig {
	out := make(map[string]ModelConfig, len(models))
	for _, m := range models {
		out[m.ModelID] = m
	}
	return out
}

// Families returns the sorted, de-duplicated provider families used by models.
func Families(models []ModelConfig) string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range models {
		if !seen[m.ProviderFamily] {
			seen[m.ProviderFamily] = true
			out = append(out, m.ProviderFamily)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
