package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AIFlash/internal/config"
	"AIFlash/internal/ports"
)

func TestCompleteSendsPromptAndReturnsContent(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"results\":[]}"}}]}`))
	}))
	defer server.Close()

	client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "gpt-test", APIKey: "secret"})
	reply, err := client.Complete(context.Background(), ports.Prompt{System: "judge", User: "items", Temperature: 0.2, MaxTokens: 300})
	require.NoError(t, err)

	assert.Equal(t, `{"results":[]}`, reply)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "judge", got.Messages[0].Content)
	assert.Equal(t, "items", got.Messages[1].Content)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
	assert.Equal(t, 300, got.MaxTokens)
}

func TestCompletePromptModelOverridesDefault(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "default", APIKey: "k"})
	_, err := client.Complete(context.Background(), ports.Prompt{User: "x", Model: "override"})
	require.NoError(t, err)
	assert.Equal(t, "override", got.Model)
	assert.NotEmpty(t, got.Messages[0].Content, "system prompt falls back to a default")
}

func TestCompleteErrors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "m", APIKey: "k"})
		_, err := client.Complete(context.Background(), ports.Prompt{User: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "m", APIKey: "k"})
		_, err := client.Complete(context.Background(), ports.Prompt{User: "x"})
		assert.True(t, errors.Is(err, ErrEmptyReply))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: server.URL, Model: "m", APIKey: "k", Timeout: 50 * time.Millisecond})
		start := time.Now()
		_, err := client.Complete(context.Background(), ports.Prompt{User: "x"})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("misconfigured", func(t *testing.T) {
		client := NewChatGPTClient(config.ChatGPTConfig{Endpoint: "http://localhost", Model: "m"})
		_, err := client.Complete(context.Background(), ports.Prompt{User: "x"})
		assert.EqualError(t, err, "chatgpt client misconfigured")

		var nilClient *ChatGPTClient
		_, err = nilClient.Complete(context.Background(), ports.Prompt{})
		assert.Error(t, err)
	})
}
