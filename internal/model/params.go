// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Generation limits.
const (
	MaxTokensLimit = 128000
	MaxTemperature = 2.0
)

// =============================================================================
// GENERATION PARAMS
// =============================================================================

// GenerationParams are per-request knobs. Zero values mean "use the model default".
type GenerationParams struct {
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	SystemOverride string   `json:"system_override,omitempty"`
}

// Float returns a pointer to v, for setting Temperature.
func Float(v float64) *float64 {
	return &v
}

// Validate rejects out-of-range values.
func (p GenerationParams) Validate() error {
	if p.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", p.MaxTokens)
	}
	if p.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be at most %d, got %d", MaxTokensLimit, p.MaxTokens)
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > MaxTemperature) {
		return fmt.Errorf("temperature must be between 0 and %.0f, got %g", MaxTemperature, *p.Temperature)
	}
	return nil
}

// Resolve fills unset values from cfg, then from the package defaults.
func (p GenerationParams) Resolve(cfg ModelConfig) GenerationParams {
	out := p
	if out.MaxTokens == 0 {
		out.MaxTokens = cfg.DefaultMaxTokens
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.Temperature == nil {
		t := DefaultTemperature
		if cfg.DefaultTemperature != nil {
			t = *cfg.DefaultTemperature
		}
		out.Temperature = &t
	}
	return out
}

// TemperatureValue returns the temperature, or the package default when unset.
func (p GenerationParams) TemperatureValue() float64 {
	if p.Temperature == nil {
		return DefaultTemperature
	}
	return *p.Temperature
}

// =============================================================================
// CREDENTIAL
// =============================================================================

// Credential is an API key scoped to a (user, model) pair.
// Its formatting methods never reveal the secret.
type Credential struct {
	UserID  string
	ModelID string
	secret  string
}

// NewCredential wraps a secret.
func NewCredential(userID, modelID, secret string) Credential {
	return Credential{UserID: userID, ModelID: modelID, secret: secret}
}

// Secret returns the raw key for use in request headers.
func (c Credential) Secret() string {
	return c.secret
}

// Empty reports whether no key is present.
func (c Credential) Empty() bool {
	return c.secret == ""
}

// Fingerprint returns a short stable id of the secret, safe for logs.
func (c Credential) Fingerprint() string {
	if c.secret == "" {
		return "none"
	}
	sum := blake2b.Sum256([]byte(c.secret))
	return hex.EncodeToString(sum[:4])
}

// String implements fmt.Stringer without the secret.
func (c Credential) String() string {
	return fmt.Sprintf("Credential(user=%s model=%s key=%s)", c.UserID, c.ModelID, c.Fingerprint())
}

// GoString implements fmt.GoStringer without the secret.
func (c Credential) GoString() string {
	return c.String()
}
