// internal/askgen/gemini_test.go
package askgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/formfill"
)

func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

func validLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Enabled:        true,
		Model:          "test-model",
		APIKey:         "test-api-key",
		APITimeout:     5 * time.Second,
		Temperature:    0.4,
		MaxTokens:      256,
		RequestsPerMin: 6000, // effectively unthrottled for tests
		MaxRetries:     3,
	}
}

// setupProvider rigs up a GeminiProvider pointed at a mock HTTP server.
func setupProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := validLLMConfig()
	cfg.Endpoint = server.URL + "/models/test-model:generateContent"

	p, err := NewGeminiProvider(cfg, setupTestLogger(t))
	require.NoError(t, err)

	// Keep retry counts low so failure tests finish quickly.
	p.cfg.MaxRetries = 2
	return p
}

func questionResponse(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]string{{"text": text}},
					"role":  "model",
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]int{
			"promptTokenCount":     10,
			"candidatesTokenCount": 12,
			"totalTokenCount":      22,
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func samplePrompt() formfill.FieldPrompt {
	return formfill.FieldPrompt{
		Label:       "Email Address",
		Type:        formfill.FieldEmail,
		Required:    true,
		Placeholder: "you@example.com",
	}
}

func TestNewGeminiProviderRequiresAPIKey(t *testing.T) {
	cfg := validLLMConfig()
	cfg.APIKey = ""

	_, err := NewGeminiProvider(cfg, setupTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNewGeminiProviderBuildsDefaultEndpoint(t *testing.T) {
	cfg := validLLMConfig()
	cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"

	p, err := NewGeminiProvider(cfg, setupTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/test-model:generateContent", p.endpoint)
}

func TestAskReturnsGeneratedQuestion(t *testing.T) {
	var gotBody geminiRequestPayload
	p := setupProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(questionResponse("What email address should I use for you?")))
	})

	q, err := p.Ask(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "What email address should I use for you?", q)

	require.Len(t, gotBody.Contents, 1)
	userPrompt := gotBody.Contents[0].Parts[0].Text
	assert.Contains(t, userPrompt, "Email Address")
	assert.Contains(t, userPrompt, "required")
	assert.Contains(t, userPrompt, "you@example.com")
	require.NotNil(t, gotBody.SystemInstruction)
}

func TestAskStripsQuotesAndExtraLines(t *testing.T) {
	p := setupProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(questionResponse("\"What is your email?\"\nHere is why I asked that...")))
	})

	q, err := p.Ask(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "What is your email?", q)
}

func TestAskRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	p := setupProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(questionResponse("What is your email?")))
	})

	q, err := p.Ask(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "What is your email?", q)
	assert.Equal(t, int32(2), calls.Load(), "expected one retry after 429")
}

func TestAskDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	p := setupProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "invalid request"}}`))
	})

	_, err := p.Ask(context.Background(), samplePrompt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "400 must not be retried")
}

func TestAskSafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	p := setupProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`))
	})

	_, err := p.Ask(context.Background(), samplePrompt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAskCorrectionIncludesRejectionDetails(t *testing.T) {
	var gotBody geminiRequestPayload
	p := setupProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(questionResponse("That email bounced. What address should I try instead?")))
	})

	q, err := p.AskCorrection(context.Background(), formfill.CorrectionPrompt{
		FieldName:    "email",
		FieldLabel:   "Email Address",
		CurrentValue: "bad@",
		ErrorMessage: "Please enter a valid email address",
	})
	require.NoError(t, err)
	assert.Equal(t, "That email bounced. What address should I try instead?", q)

	userPrompt := gotBody.Contents[0].Parts[0].Text
	assert.Contains(t, userPrompt, "bad@")
	assert.Contains(t, userPrompt, "Please enter a valid email address")
}

func TestCleanQuestion(t *testing.T) {
	assert.Equal(t, "What is your name?", cleanQuestion("  What is your name?  "))
	assert.Equal(t, "What is your name?", cleanQuestion(`"What is your name?"`))
	assert.Equal(t, "First line?", cleanQuestion("First line?\nsecond line"))
	assert.Equal(t, "", cleanQuestion("   "))
}
