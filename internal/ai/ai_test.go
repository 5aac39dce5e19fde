package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/ai"
)

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "embed-model", body.Model)
		require.Len(t, body.Input, 2)

		// Out of order on purpose.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	emb := ai.NewOpenAIEmbedder(ai.NewOpenAICompatibleClientWithHTTP(srv.Client()), ai.EmbeddingConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "key",
		Model:   "embed-model",
	})
	vecs, err := emb.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbedderRejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	emb := ai.NewOpenAIEmbedder(ai.NewOpenAICompatibleClientWithHTTP(srv.Client()), ai.EmbeddingConfig{BaseURL: srv.URL})
	_, err := emb.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOpenAIEmbedderRejectsBlankInput(t *testing.T) {
	emb := ai.NewOpenAIEmbedder(ai.NewOpenAICompatibleClient(), ai.EmbeddingConfig{BaseURL: "http://unused"})
	_, err := emb.Embed(context.Background(), []string{"ok", "  "})
	assert.Error(t, err)
}

func TestStatusErrorTemporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			emb := ai.NewOpenAIEmbedder(ai.NewOpenAICompatibleClientWithHTTP(srv.Client()), ai.EmbeddingConfig{BaseURL: srv.URL})
			_, err := emb.Embed(context.Background(), []string{"x"})
			require.Error(t, err)

			var se *ai.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.want, ai.IsTemporary(err))
		})
	}
}

func TestOpenAICompleter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []ai.ChatMessage `json:"messages"`
			Stream   bool             `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)

		if body.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":"echo: %s"}}]}`, body.Messages[0].Content)
	}))
	defer srv.Close()

	c := ai.NewOpenAICompleter(ai.NewOpenAICompatibleClientWithHTTP(srv.Client()), ai.ChatConfig{BaseURL: srv.URL, Model: "m"})

	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	var chunks []string
	full, err := c.Stream(context.Background(), "hi", func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", full)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestHashingEmbedder(t *testing.T) {
	e := ai.NewHashingEmbedder(128)
	vecs, err := e.Embed(context.Background(), []string{
		"The main finding is that sleep improves memory consolidation.",
		"What was the main finding about sleep and memory?",
		"Quarterly revenue grew in the retail segment.",
		"the and of",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	for _, v := range vecs {
		assert.Len(t, v, 128)
	}

	related := dot(vecs[0], vecs[1])
	unrelated := dot(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[0]), 1e-5)
	assert.Zero(t, dot(vecs[3], vecs[3]), "stopwords only")

	again, err := e.Embed(context.Background(), []string{strings.ToUpper("The main finding is that sleep improves memory consolidation.")})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0])
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
