// internal/askgen/template.go
package askgen

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/formfill"
)

// TemplateProvider phrases questions from fixed templates. It is the
// provider of record when the LLM is disabled or unreachable at startup.
type TemplateProvider struct{}

func (TemplateProvider) Ask(_ context.Context, p formfill.FieldPrompt) (string, error) {
	label := strings.TrimSuffix(strings.TrimSpace(p.Label), ":")
	switch p.Type {
	case formfill.FieldSelect, formfill.FieldRadio:
		return fmt.Sprintf("Please choose your %s:", label), nil
	case formfill.FieldCheckbox:
		if len(p.Options) > 1 {
			return fmt.Sprintf("Please choose your %s:", label), nil
		}
		return fmt.Sprintf("%s? (yes/no)", label), nil
	default:
		return fmt.Sprintf("Please provide your %s:", label), nil
	}
}

func (TemplateProvider) AskCorrection(_ context.Context, p formfill.CorrectionPrompt) (string, error) {
	return fmt.Sprintf("The site rejected %s (%q): %s. Please provide a new value:",
		p.FieldLabel, p.CurrentValue, p.ErrorMessage), nil
}

// NewProvider returns the configured question provider. Anything that keeps
// the Gemini provider from starting falls back to templates rather than
// failing the run.
func NewProvider(cfg config.LLMConfig, logger *zap.Logger) formfill.QuestionProvider {
	if !cfg.Enabled || cfg.APIKey == "" {
		logger.Info("LLM question generation disabled; using templated questions.")
		return TemplateProvider{}
	}
	p, err := NewGeminiProvider(cfg, logger)
	if err != nil {
		logger.Warn("Failed to initialize Gemini provider; using templated questions.", zap.Error(err))
		return TemplateProvider{}
	}
	return p
}
