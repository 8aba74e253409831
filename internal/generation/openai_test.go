package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/assembler"
	"docrag/internal/domain"
)

func TestMessagesLayout(t *testing.T) {
	pkg := assembler.Package{
		ContextTexts: []string{"alpha", "beta"},
		HistoryMessages: []assembler.Message{
			{Role: domain.RoleUser, Content: "earlier question"},
			{Role: domain.RoleAssistant, Content: "earlier answer"},
		},
	}
	msgs := Messages("sys", "now?", pkg)
	require.Len(t, msgs, 4)
	assert.Equal(t, goopenai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "sys\n\nContext:\n[1] alpha\n[2] beta", msgs[0].Content)
	assert.Equal(t, goopenai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, goopenai.ChatMessageRoleAssistant, msgs[2].Role)
	assert.Equal(t, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: "now?"}, msgs[3])

	bare := Messages("sys", "q", assembler.Package{})
	require.Len(t, bare, 2)
	assert.Equal(t, "sys", bare[0].Content)
}

func TestGenerate(t *testing.T) {
	var got goopenai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  The pump stops.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	t.Setenv("DOCRAG_TEST_GEN_KEY", "k")
	g, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "DOCRAG_TEST_GEN_KEY", Model: "small"})
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "what happens?", assembler.Package{ContextTexts: []string{"The red button stops the pump."}})
	require.NoError(t, err)
	assert.Equal(t, "The pump stops.", answer)
	assert.Equal(t, "small", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "[1] The red button stops the pump.")
}

func TestGenerateWrapsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	t.Setenv("DOCRAG_TEST_GEN_KEY", "k")
	g, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "DOCRAG_TEST_GEN_KEY"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q", assembler.Package{})
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.NotErrorIs(t, err, domain.ErrRetrievalDegraded)
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("DOCRAG_TEST_GEN_KEY", "")
	_, err := New(Config{APIKeyEnv: "DOCRAG_TEST_GEN_KEY"})
	assert.Error(t, err)
}
