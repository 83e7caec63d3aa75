// internal/askgen/gemini.go
package askgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/formfill"
)

// GeminiProvider phrases form questions through the Google Gemini API. It
// implements formfill.QuestionProvider; any failure here degrades to the
// engine's templated questions, so errors are reported, never fatal.
type GeminiProvider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	cfg        config.LLMConfig
}

// -- Gemini API Request/Response Structures (Internal to this file) --
type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiProvider initializes the provider.
func NewGeminiProvider(cfg config.LLMConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if !strings.Contains(endpoint, ":generateContent") {
		endpoint = fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(endpoint, "/"), cfg.Model)
	}

	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 30
	}

	return &GeminiProvider{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("askgen.gemini"),
	}, nil
}

const askSystemPrompt = `You help a person fill out a web form through conversation.
Write exactly one short, friendly question asking the person for the value of the form field described.
Reply with the question only. No preamble, no quotation marks, no explanations.`

const correctionSystemPrompt = `You help a person fill out a web form through conversation.
The website rejected the person's previous answer for a field. Write exactly one short, friendly question that explains what was wrong and asks for a corrected value.
Reply with the question only. No preamble, no quotation marks, no explanations.`

// Ask phrases a question for one discovered field.
func (p *GeminiProvider) Ask(ctx context.Context, prompt formfill.FieldPrompt) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Field label: %s\n", prompt.Label)
	fmt.Fprintf(&sb, "Field type: %s\n", prompt.Type)
	if prompt.Required {
		sb.WriteString("The field is required.\n")
	}
	if prompt.Placeholder != "" {
		fmt.Fprintf(&sb, "Placeholder hint: %s\n", prompt.Placeholder)
	}
	if len(prompt.Options) > 0 {
		fmt.Fprintf(&sb, "Allowed options: %s\n", strings.Join(prompt.Options, ", "))
	}
	if prompt.Context != "" {
		fmt.Fprintf(&sb, "Additional context: %s\n", prompt.Context)
	}

	return p.generate(ctx, askSystemPrompt, sb.String())
}

// AskCorrection phrases a follow-up question after a server-side rejection.
func (p *GeminiProvider) AskCorrection(ctx context.Context, prompt formfill.CorrectionPrompt) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Field label: %s\n", prompt.FieldLabel)
	fmt.Fprintf(&sb, "Rejected value: %s\n", prompt.CurrentValue)
	fmt.Fprintf(&sb, "Error message from the website: %s\n", prompt.ErrorMessage)

	return p.generate(ctx, correctionSystemPrompt, sb.String())
}

// generate sends the prompts to the Gemini API and returns the generated
// question with retries.
func (p *GeminiProvider) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	payload := geminiRequestPayload{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: userPrompt}},
			},
		},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     float64(p.cfg.Temperature),
			MaxOutputTokens: p.cfg.MaxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	retries := uint64(p.cfg.MaxRetries)
	if retries == 0 {
		retries = 3
	}

	var question string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", p.apiKey)

		startTime := time.Now()
		resp, err := p.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			p.logger.Warn("Network error during question generation, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return p.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		p.logger.Debug("Question generation complete",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", responsePayload.UsageMetadata.TotalTokenCount),
		)

		question = cleanQuestion(candidate.Content.Parts[0].Text)
		if question == "" {
			return backoff.Permanent(fmt.Errorf("gemini API returned an empty question"))
		}
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		return "", err
	}

	return question, nil
}

func (p *GeminiProvider) handleAPIError(statusCode int, body []byte) error {
	p.logger.Error("Gemini API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

// cleanQuestion reduces a model reply to a single presentable line.
func cleanQuestion(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	// Models occasionally wrap the question in quotes despite instructions.
	return strings.Trim(s, "\"'")
}
