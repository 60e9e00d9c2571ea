package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AIFlash/internal/config"
)

func TestEmbedReturnsVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "embed-small", body["model"])
		assert.Equal(t, "hello world", body["input"])
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	client := NewClient(config.MLConfig{InferenceURL: server.URL, APIKey: "key", Model: "embed-small", Dimension: 3})
	vec, err := client.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, client.Dimension())
}

func TestEmbedRejectsBadResponses(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":    {status: http.StatusInternalServerError, body: `oops`},
		"no data":         {status: http.StatusOK, body: `{"data":[]}`},
		"wrong dimension": {status: http.StatusOK, body: `{"data":[{"embedding":[1,2]}]}`},
		"malformed":       {status: http.StatusOK, body: `{"data":`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(config.MLConfig{InferenceURL: server.URL, Dimension: 3})
			_, err := client.Embed(context.Background(), "x")
			assert.Error(t, err)
		})
	}
}

func TestEmbedMisconfigured(t *testing.T) {
	client := NewClient(config.MLConfig{})
	_, err := client.Embed(context.Background(), "x")
	assert.Error(t, err)
}
