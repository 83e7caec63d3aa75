// internal/askgen/template_test.go
package askgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/formfill"
)

func TestTemplateProviderAsk(t *testing.T) {
	p := TemplateProvider{}
	ctx := context.Background()

	q, err := p.Ask(ctx, formfill.FieldPrompt{Label: "Full Name:", Type: formfill.FieldText})
	require.NoError(t, err)
	assert.Equal(t, "Please provide your Full Name:", q)

	q, err = p.Ask(ctx, formfill.FieldPrompt{Label: "Country", Type: formfill.FieldSelect, Options: []string{"US", "DE"}})
	require.NoError(t, err)
	assert.Equal(t, "Please choose your Country:", q)

	q, err = p.Ask(ctx, formfill.FieldPrompt{Label: "Subscribe to newsletter", Type: formfill.FieldCheckbox})
	require.NoError(t, err)
	assert.Equal(t, "Subscribe to newsletter? (yes/no)", q)

	q, err = p.Ask(ctx, formfill.FieldPrompt{Label: "Interests", Type: formfill.FieldCheckbox, Options: []string{"Sports", "Music"}})
	require.NoError(t, err)
	assert.Equal(t, "Please choose your Interests:", q)
}

func TestTemplateProviderAskCorrection(t *testing.T) {
	q, err := TemplateProvider{}.AskCorrection(context.Background(), formfill.CorrectionPrompt{
		FieldLabel:   "Email Address",
		CurrentValue: "bad@",
		ErrorMessage: "Please enter a valid email address",
	})
	require.NoError(t, err)
	assert.Contains(t, q, "Email Address")
	assert.Contains(t, q, `"bad@"`)
	assert.Contains(t, q, "Please enter a valid email address")
}

func TestNewProviderSelection(t *testing.T) {
	logger := setupTestLogger(t)

	disabled := validLLMConfig()
	disabled.Enabled = false
	assert.IsType(t, TemplateProvider{}, NewProvider(disabled, logger))

	keyless := validLLMConfig()
	keyless.APIKey = ""
	assert.IsType(t, TemplateProvider{}, NewProvider(keyless, logger))

	assert.IsType(t, &GeminiProvider{}, NewProvider(validLLMConfig(), logger))
}
