// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/turnerr"
)

func anthropicConfig(base string) model.ModelConfig {
	return model.ModelConfig{
		ModelID:            "claude-3-5-sonnet-latest",
		ProviderFamily:     model.FamilyAnthropic,
		EndpointURL:        base + "/v1/messages",
		DefaultMaxTokens:   200,
		DefaultTemperature: model.Float(0.7),
	}
}

const anthropicOK = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-latest",
"content":[{"type":"text","text":"  Hello"},{"type":"text","text":" world  "}],
"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":2}}`

// =============================================================================
// REQUEST SHAPE
// =============================================================================

func TestAnthropic_RequestShape(t *testing.T) {
	var (
		path    string
		apiKey  string
		version string
		body    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("X-Api-Key")
		version = r.Header.Get("Anthropic-Version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		respond(http.StatusOK, anthropicOK)(w, r)
	}))
	defer srv.Close()

	msgs := []model.Message{
		model.NewSystemMessage("be brief"),
		model.NewUserMessage("hello"),
		model.NewAssistantMessage("hi", "gpt-4o"),
		model.NewUserMessage("again"),
	}
	reply, err := NewAnthropic().Generate(context.Background(), anthropicConfig(srv.URL), msgs, testCred(), model.GenerationParams{MaxTokens: 150})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply)

	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, "sk-test", apiKey)
	assert.Equal(t, "2023-06-01", version)
	assert.Equal(t, "claude-3-5-sonnet-latest", body["model"])
	assert.EqualValues(t, 150, body["max_tokens"])
	assert.EqualValues(t, 0.7, body["temperature"])

	system, ok := body["system"].([]any)
	require.True(t, ok, "system should be a block list, got %T", body["system"])
	require.Len(t, system, 1)
	assert.Equal(t, "be brief", system[0].(map[string]any)["text"])

	sent, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, sent, 3, "system message must not be sent as a turn")
	assert.Equal(t, "user", sent[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", sent[1].(map[string]any)["role"])
}

func TestAnthropic_NoSystemField(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		respond(http.StatusOK, anthropicOK)(w, r)
	}))
	defer srv.Close()

	_, err := NewAnthropic().Generate(context.Background(), anthropicConfig(srv.URL), []model.Message{model.NewUserMessage("hi")}, testCred(), model.GenerationParams{})
	require.NoError(t, err)
	_, hasSystem := body["system"]
	assert.False(t, hasSystem)
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

func TestAnthropic_ResponseParsing(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
		wantKind    turnerr.Kind
		wantCode    int
	}{
		{
			name:   "joins and trims text parts",
			status: http.StatusOK,
			body:   anthropicOK,
			want:   "Hello world",
		},
		{
			name:   "skips non-text parts",
			status: http.StatusOK,
			body:   `{"content":[{"type":"thinking","thinking":"hmm","signature":"s"},{"type":"text","text":"answer"}]}`,
			want:   "answer",
		},
		{
			name:     "empty content array",
			status:   http.StatusOK,
			body:     `{"content":[]}`,
			wantKind: turnerr.MalformedResponse,
		},
		{
			name:     "missing content",
			status:   http.StatusOK,
			body:     `{"id":"msg_1"}`,
			wantKind: turnerr.MalformedResponse,
		},
		{
			name:        "not json",
			status:      http.StatusOK,
			contentType: "text/html",
			body:        `<html>oops</html>`,
			wantKind:    turnerr.MalformedResponse,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`,
			wantKind: turnerr.HTTPError,
			wantCode: http.StatusTooManyRequests,
			want:     "Number of requests has exceeded your rate limit",
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantKind: turnerr.HTTPError,
			wantCode: http.StatusUnauthorized,
			want:     "invalid x-api-key",
		},
		{
			name:        "gateway error page",
			status:      http.StatusBadGateway,
			contentType: "text/html",
			body:        `<html>bad gateway</html>`,
			wantKind:    turnerr.HTTPError,
			wantCode:    http.StatusBadGateway,
			want:        "API request failed.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ct := tt.contentType
				if ct == "" {
					ct = "application/json"
				}
				w.Header().Set("Content-Type", ct)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			reply, err := NewAnthropic().Generate(context.Background(), anthropicConfig(srv.URL), testMessages(), testCred(), model.GenerationParams{})
			if tt.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, reply)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, turnerr.KindOf(err), "err = %v", err)
			assert.Equal(t, tt.wantCode, turnerr.StatusOf(err))
			if tt.want != "" {
				assert.Equal(t, tt.want, turnerr.MessageOf(err))
			}
		})
	}
}

// =============================================================================
// TRANSPORT AND INPUT ERRORS
// =============================================================================

func TestAnthropic_TimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewAnthropic().Generate(ctx, anthropicConfig(srv.URL), testMessages(), testCred(), model.GenerationParams{})
	assert.Equal(t, turnerr.TransportError, turnerr.KindOf(err), "err = %v", err)
}

func TestAnthropic_CallerDeadlineOutlastsDefaultTimeout(t *testing.T) {
	srv := httptest.NewServer(slowOK(200*time.Millisecond, anthropicOK))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := NewAnthropic().WithTimeout(50*time.Millisecond).
		Generate(ctx, anthropicConfig(srv.URL), testMessages(), testCred(), model.GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply)
}

func TestAnthropic_OnlySystemMessage(t *testing.T) {
	_, err := NewAnthropic().Generate(context.Background(), anthropicConfig("http://127.0.0.1:1"),
		[]model.Message{model.NewSystemMessage("sys")}, testCred(), model.GenerationParams{})
	assert.Equal(t, turnerr.InvalidInput, turnerr.KindOf(err))
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.anthropic.com", baseURL("https://api.anthropic.com/v1/messages"))
	assert.Equal(t, "https://proxy.local/anthropic", baseURL("https://proxy.local/anthropic/v1/messages/"))
	assert.Equal(t, "http://host:8080", baseURL("http://host:8080"))
}
