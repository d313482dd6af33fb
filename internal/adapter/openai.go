// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// finishReasonLength marks a reply truncated by max_tokens.
const finishReasonLength = "length"

// chatMessage is a single message on the OpenAI wire.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// chatResponse is the subset of the chat completions response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// =============================================================================
// OPENAI ADAPTER
// =============================================================================

// OpenAI speaks the chat completions protocol.
type OpenAI struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewOpenAI creates an OpenAI-style adapter using the shared HTTP client.
func NewOpenAI() *OpenAI {
	return &OpenAI{httpClient: sharedHTTPClient, timeout: DefaultTimeout}
}

// WithHTTPClient sets a custom HTTP client.
func (a *OpenAI) WithHTTPClient(c *http.Client) *OpenAI {
	a.httpClient = c
	return a
}

// WithTimeout sets the request timeout used when the context has no deadline.
func (a *OpenAI) WithTimeout(d time.Duration) *OpenAI {
	a.timeout = d
	return a
}

// Generate sends the conversation and returns the first choice's content.
// A reply cut off by max_tokens gets the continuation notice appended.
func (a *OpenAI) Generate(ctx context.Context, cfg model.ModelConfig, messages []model.Message, cred model.Credential, params model.GenerationParams) (string, error) {
	if err := checkInput(messages, cred); err != nil {
		return "", err
	}
	params = params.Resolve(cfg)

	reqBody := chatRequest{
		Model:       cfg.WireModel(),
		Messages:    make([]chatMessage, len(messages)),
		MaxTokens:   params.MaxTokens,
		Temperature: params.TemperatureValue(),
	}
	for i, m := range messages {
		reqBody.Messages[i] = chatMessage{Role: m.Role.String(), Content: m.Content}
	}

	ctx, cancel := requestContext(ctx, a.timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", turnerr.Wrap(turnerr.InvalidInput, err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.EndpointURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", turnerr.Wrap(turnerr.ConfigError, err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+cred.Secret())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	logRequest(model.FamilyOpenAI, cfg, len(messages), cred)
	start := time.Now()

	resp, err := a.httpClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		logResponse(model.FamilyOpenAI, cfg, 0, time.Since(start))
		return "", transportError(ctx, err)
	}
	defer resp.Body.Close()
	logResponse(model.FamilyOpenAI, cfg, resp.StatusCode, time.Since(start))

	body, readErr := readResponse(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", turnerr.HTTP(resp.StatusCode, providerErrorMessage(body))
	}
	if readErr != nil {
		if errors.Is(readErr, errResponseTooLarge) {
			return "", turnerr.Wrap(turnerr.MalformedResponse, readErr, "response too large")
		}
		return "", transportError(ctx, readErr)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", turnerr.Wrap(turnerr.MalformedResponse, err, "failed to parse response")
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == nil {
		return "", turnerr.New(turnerr.MalformedResponse, "response has no choices[0].message.content")
	}

	reply := *chatResp.Choices[0].Message.Content
	if chatResp.Choices[0].FinishReason == finishReasonLength {
		reply += model.ContinuationNotice
	}
	return reply, nil
}
