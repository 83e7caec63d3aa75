// internal/prompt/console_test.go
package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/formfill"
)

func TestConsolePromptReturnsAnswer(t *testing.T) {
	c := NewConsole()
	c.ask = func(p survey.Prompt, response any, opts ...survey.AskOpt) error {
		input, ok := p.(*survey.Input)
		require.True(t, ok)
		assert.Equal(t, "What is your email?", input.Message)
		*(response.(*string)) = "me@example.com"
		return nil
	}

	answer, err := c.Prompt(context.Background(), "  What is your email?\n")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", answer)
}

func TestConsolePromptTranslatesInterrupt(t *testing.T) {
	c := NewConsole()
	c.ask = func(p survey.Prompt, response any, opts ...survey.AskOpt) error {
		return terminal.InterruptErr
	}

	_, err := c.Prompt(context.Background(), "Question?")
	assert.ErrorIs(t, err, formfill.ErrCancelled)
}

func TestConsolePromptPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("tty unavailable")
	c := NewConsole()
	c.ask = func(p survey.Prompt, response any, opts ...survey.AskOpt) error {
		return boom
	}

	_, err := c.Prompt(context.Background(), "Question?")
	assert.ErrorIs(t, err, boom)
}

func TestConsolePromptHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewConsole()
	c.ask = func(p survey.Prompt, response any, opts ...survey.AskOpt) error {
		t.Fatal("prompt must not run with a cancelled context")
		return nil
	}

	_, err := c.Prompt(ctx, "Question?")
	assert.ErrorIs(t, err, context.Canceled)
}
