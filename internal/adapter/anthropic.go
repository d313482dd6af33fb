// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// messagesPath is the path the SDK appends to the base URL.
const messagesPath = "/v1/messages"

// =============================================================================
// ANTHROPIC ADAPTER
// =============================================================================

// Anthropic speaks the Messages protocol through the official SDK.
type Anthropic struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewAnthropic creates an Anthropic-style adapter using the shared HTTP client.
func NewAnthropic() *Anthropic {
	return &Anthropic{httpClient: sharedHTTPClient, timeout: DefaultTimeout}
}

// WithHTTPClient sets a custom HTTP client.
func (a *Anthropic) WithHTTPClient(c *http.Client) *Anthropic {
	a.httpClient = c
	return a
}

// WithTimeout sets the request timeout used when the context has no deadline.
func (a *Anthropic) WithTimeout(d time.Duration) *Anthropic {
	a.timeout = d
	return a
}

// Generate lifts a leading system message into the system field, sends the
// rest as alternating turns and joins every text block of the reply.
func (a *Anthropic) Generate(ctx context.Context, cfg model.ModelConfig, messages []model.Message, cred model.Credential, params model.GenerationParams) (string, error) {
	if err := checkInput(messages, cred); err != nil {
		return "", err
	}
	params = params.Resolve(cfg)

	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return "", turnerr.New(turnerr.InvalidInput, "no user or assistant messages to send")
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(cfg.WireModel()),
		MaxTokens:   int64(params.MaxTokens),
		Messages:    make([]anthropic.MessageParam, 0, len(rest)),
		Temperature: anthropic.Float(params.TemperatureValue()),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == model.RoleAssistant {
			req.Messages = append(req.Messages, anthropic.NewAssistantMessage(block))
		} else {
			req.Messages = append(req.Messages, anthropic.NewUserMessage(block))
		}
	}

	var httpResp *http.Response
	svc := anthropic.NewMessageService(
		option.WithBaseURL(baseURL(cfg.EndpointURL)),
		option.WithAPIKey(cred.Secret()),
		option.WithHTTPClient(a.httpClient),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", userAgent),
		option.WithResponseInto(&httpResp),
	)

	ctx, cancel := requestContext(ctx, a.timeout)
	defer cancel()

	logRequest(model.FamilyAnthropic, cfg, len(messages), cred)
	start := time.Now()

	resp, err := svc.New(ctx, req)
	status := 0
	if httpResp != nil {
		status = httpResp.StatusCode
	}
	logResponse(model.FamilyAnthropic, cfg, status, time.Since(start))

	if err != nil {
		return "", classifyAnthropicError(ctx, err, httpResp)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", turnerr.New(turnerr.MalformedResponse, "response has no content")
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// splitSystem separates a leading system message from the rest.
func splitSystem(messages []model.Message) (string, []model.Message) {
	if len(messages) > 0 && messages[0].Role == model.RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

// baseURL strips the messages path so the SDK can append it again.
func baseURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	return strings.TrimSuffix(endpoint, messagesPath)
}

// classifyAnthropicError maps SDK failures onto the turn error taxonomy.
func classifyAnthropicError(ctx context.Context, err error, httpResp *http.Response) *turnerr.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return turnerr.HTTP(apiErr.StatusCode, providerErrorMessage([]byte(apiErr.RawJSON())))
	}
	if ctx.Err() != nil || httpResp == nil {
		return transportError(ctx, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		// Error body was not JSON, so the SDK could not build an API error.
		return turnerr.HTTP(httpResp.StatusCode, fallbackErrorMessage)
	}
	return turnerr.Wrap(turnerr.MalformedResponse, err, "failed to parse response")
}
