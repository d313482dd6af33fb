// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// Configuration constants shared by all adapters.
const (
	// DefaultTimeout bounds a single provider request when the caller's context has no deadline.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// fallbackErrorMessage is reported when a provider error body has no message.
	fallbackErrorMessage = "API request failed."

	userAgent = "backroom/1.0"
)

// sharedHTTPClient pools connections across all provider requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// ADAPTER INTERFACE
// =============================================================================

// Adapter turns a conversation into one provider request and normalizes the reply.
//
// Implementations issue exactly one HTTP request per call and never retry.
// Every error returned is a *turnerr.Error.
type Adapter interface {
	Generate(ctx context.Context, cfg model.ModelConfig, messages []model.Message, cred model.Credential, params model.GenerationParams) (string, error)
}

// Func adapts a plain function to the Adapter interface.
type Func func(ctx context.Context, cfg model.ModelConfig, messages []model.Message, cred model.Credential, params model.GenerationParams) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, cfg model.ModelConfig, messages []model.Message, cred model.Credential, params model.GenerationParams) (string, error) {
	return f(ctx, cfg, messages, cred, params)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// errResponseTooLarge is returned by readResponse when the body hits MaxResponseSize.
var errResponseTooLarge = errors.New("response exceeded maximum size")

// apiErrorResponse is the error envelope used by both provider families.
type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// checkInput validates arguments common to every adapter.
func checkInput(messages []model.Message, cred model.Credential) error {
	if len(messages) == 0 {
		return turnerr.New(turnerr.InvalidInput, "no messages to send")
	}
	if cred.Empty() {
		return turnerr.New(turnerr.MissingCredential, "no API key for model %s", cred.ModelID)
	}
	return nil
}

// requestContext applies fallback only when ctx carries no deadline, so the
// caller's turn timeout is the bound whenever it sets one.
func requestContext(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || fallback <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, fallback)
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("%w of %d bytes", errResponseTooLarge, MaxResponseSize)
	}
	return body, nil
}

// providerErrorMessage extracts error.message from a provider error body.
func providerErrorMessage(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return fallbackErrorMessage
}

// transportError classifies a failure that happened before a status was received.
func transportError(ctx context.Context, err error) *turnerr.Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return turnerr.Wrap(turnerr.TransportError, err, "request timed out")
		}
		return turnerr.Wrap(turnerr.TransportError, err, "request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return turnerr.Wrap(turnerr.TransportError, err, "request timed out")
	}
	return turnerr.Wrap(turnerr.TransportError, err, "request failed")
}

// logRequest logs an outgoing request without message content or secrets.
func logRequest(family string, cfg model.ModelConfig, n int, cred model.Credential) {
	log.Printf("ADAPTER_REQUEST | family=%s model=%s messages=%d key=%s", family, cfg.ModelID, n, cred.Fingerprint())
}

// logResponse logs the outcome of a request.
func logResponse(family string, cfg model.ModelConfig, status int, duration time.Duration) {
	log.Printf("ADAPTER_RESPONSE | family=%s model=%s status=%d duration=%v", family, cfg.ModelID, status, duration.Round(time.Millisecond))
}
