// internal/prompt/console.go
package prompt

import (
	"context"
	"errors"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/xkilldash9x/formpilot/internal/formfill"
)

// Console reads answers interactively from the terminal. It implements
// formfill.AnswerChannel. A Ctrl-C during a prompt is treated the same as a
// spoken cancellation, so the engine can release the browser cleanly.
type Console struct {
	ask  func(p survey.Prompt, response any, opts ...survey.AskOpt) error
	opts []survey.AskOpt
}

// NewConsole returns a terminal-backed answer channel.
func NewConsole(opts ...survey.AskOpt) *Console {
	return &Console{
		ask:  survey.AskOne,
		opts: opts,
	}
}

// Prompt displays the question and blocks for one line of input.
func (c *Console) Prompt(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var answer string
	input := &survey.Input{Message: strings.TrimSpace(question)}
	if err := c.ask(input, &answer, c.opts...); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return "", formfill.ErrCancelled
		}
		return "", err
	}
	return answer, nil
}
