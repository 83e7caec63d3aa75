// internal/formfill/collect.go
package formfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FieldPrompt seeds the Question Provider with everything it may use to
// phrase a question about one field.
type FieldPrompt struct {
	Label       string
	Type        FieldType
	Required    bool
	Placeholder string
	Context     string
	Options     []string
}

// CorrectionPrompt seeds a follow-up question after a server-side rejection.
type CorrectionPrompt struct {
	FieldName    string
	FieldLabel   string
	CurrentValue string
	ErrorMessage string
}

// QuestionProvider produces natural-language questions. Implementations may
// fail; the engine always degrades to a templated question.
type QuestionProvider interface {
	Ask(ctx context.Context, p FieldPrompt) (string, error)
	AskCorrection(ctx context.Context, p CorrectionPrompt) (string, error)
}

// AnswerChannel reads one line of human input per prompt.
type AnswerChannel interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// cancellationWords is the fixed vocabulary that aborts a run from any
// prompt, checked case-insensitively.
var cancellationWords = map[string]bool{
	"quit": true, "exit": true, "cancel": true, "abort": true, "stop": true,
}

// IsCancellation reports whether a raw answer is a cancellation request.
func IsCancellation(answer string) bool {
	return cancellationWords[strings.ToLower(strings.TrimSpace(answer))]
}

// Collector runs the question/answer loop over discovered fields.
type Collector struct {
	driver   Driver
	provider QuestionProvider
	channel  AnswerChannel
	logger   *zap.Logger
	// settle bounds the wait for a custom widget popup during lazy option
	// lookup.
	settle time.Duration
}

func NewCollector(d Driver, provider QuestionProvider, channel AnswerChannel, logger *zap.Logger) *Collector {
	return &Collector{
		driver:   d,
		provider: provider,
		channel:  channel,
		logger:   logger.Named("collector"),
		settle:   500 * time.Millisecond,
	}
}

// Collect asks one question per field not already cached, validating each
// answer locally and re-prompting until it passes. Returning ErrCancelled
// means the human asked to stop; that is a control-flow signal, not a
// validation failure.
func (c *Collector) Collect(ctx context.Context, fields []Field, cache *ResponseCache) error {
	for i := range fields {
		f := &fields[i]
		if cache.Has(f.Identity()) {
			// Idempotent re-entry after a recovery pass.
			continue
		}
		if f.Type == FieldFile {
			c.logger.Info("Skipping file upload field", zap.String("field", f.Label))
			continue
		}

		if capabilityFor(f).options == optionsLazy && len(f.Options) == 0 {
			c.lookupLazyOptions(ctx, f)
		}

		question := c.question(ctx, f)
		value, err := c.askUntilValid(ctx, f, question)
		if err != nil {
			return err
		}
		cache.Set(f.Identity(), value)
		c.logger.Debug("Answer accepted",
			zap.String("field", f.Label),
			zap.String("identity", f.Identity()))
	}
	return nil
}

// question obtains the provider's phrasing, substituting the template on any
// provider failure. The substitution itself cannot fail.
func (c *Collector) question(ctx context.Context, f *Field) string {
	q, err := c.provider.Ask(ctx, FieldPrompt{
		Label:       f.Label,
		Type:        f.Type,
		Required:    f.Required,
		Placeholder: f.Placeholder,
		Context:     fieldContext(f),
		Options:     f.Options,
	})
	if err != nil || strings.TrimSpace(q) == "" {
		if err != nil {
			c.logger.Debug("Question provider failed, using template",
				zap.String("field", f.Label), zap.Error(err))
		}
		return FallbackQuestion(f)
	}
	return q
}

// askUntilValid loops on the same field until the answer passes local
// validation. The human can retry indefinitely.
func (c *Collector) askUntilValid(ctx context.Context, f *Field, question string) (string, error) {
	prompt := question
	if len(f.Options) > 0 {
		prompt = question + "\n" + formatOptions(f.Options)
	}
	for {
		raw, err := c.channel.Prompt(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("reading answer for %q: %w", f.Label, err)
		}
		if IsCancellation(raw) {
			return "", ErrCancelled
		}

		value := Sanitize(raw)
		if len(f.Options) > 0 && value != "" {
			resolved, err := ResolveOption(f, value)
			if err != nil {
				prompt = invalidPrompt(err, question, f)
				continue
			}
			value = resolved
		}
		if err := Validate(f, value); err != nil {
			prompt = invalidPrompt(err, question, f)
			continue
		}
		return value, nil
	}
}

func invalidPrompt(err error, question string, f *Field) string {
	p := fmt.Sprintf("That didn't work: %s\n%s", err.Error(), question)
	if len(f.Options) > 0 {
		p += "\n" + formatOptions(f.Options)
	}
	return p
}

func formatOptions(options []string) string {
	var b strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, opt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FallbackQuestion is the templated question used whenever the provider
// cannot supply one.
func FallbackQuestion(f *Field) string {
	label := strings.TrimSuffix(strings.TrimSpace(f.Label), ":")
	switch f.Type {
	case FieldSelect, FieldRadio:
		return fmt.Sprintf("Please choose your %s:", label)
	case FieldCheckbox:
		if len(f.Options) > 1 {
			return fmt.Sprintf("Please choose your %s:", label)
		}
		return fmt.Sprintf("%s? (yes/no)", label)
	default:
		return fmt.Sprintf("Please provide your %s:", label)
	}
}

// FallbackCorrection phrases a correction request without the provider.
func FallbackCorrection(p CorrectionPrompt) string {
	return fmt.Sprintf("The site rejected %s (%q): %s. Please provide a new value:",
		p.FieldLabel, p.CurrentValue, p.ErrorMessage)
}

// fieldContext builds the short context sentence handed to the provider.
func fieldContext(f *Field) string {
	var parts []string
	if f.Required {
		parts = append(parts, "this field is required")
	}
	if f.Placeholder != "" {
		parts = append(parts, fmt.Sprintf("the form hints %q", f.Placeholder))
	}
	if len(f.Options) > 0 {
		parts = append(parts, fmt.Sprintf("there are %d choices", len(f.Options)))
	}
	return strings.Join(parts, "; ")
}

// lookupLazyOptions opens a custom widget, reads its rendered option list
// and closes it again. Failure leaves the field option-free, which the fill
// strategy's free-text fallback tolerates.
func (c *Collector) lookupLazyOptions(ctx context.Context, f *Field) {
	if err := c.driver.Click(ctx, f.Selector); err != nil {
		c.logger.Debug("Could not open widget for option lookup",
			zap.String("field", f.Label), zap.Error(err))
		return
	}
	popupSelector := `[role="option"], .select2-results__option, ` +
		`.react-select__option, .ant-select-item-option, li[data-value]`
	if err := c.driver.WaitVisible(ctx, popupSelector, c.settle); err != nil {
		c.logger.Debug("Widget popup did not render for option lookup",
			zap.String("field", f.Label), zap.Error(err))
	}

	script := fmt.Sprintf(`
		(() => {
			const out = [];
			document.querySelectorAll(%q).forEach(o => {
				const t = (o.textContent || '').replace(/\s+/g, ' ').trim();
				if (t) out.push(t);
			});
			return out;
		})()
	`, popupSelector)
	var options []string
	if err := c.driver.Evaluate(ctx, script, &options); err != nil {
		c.logger.Debug("Widget option lookup failed",
			zap.String("field", f.Label), zap.Error(err))
	}
	f.Options = options

	// Dismiss the popup so it cannot occlude later interactions.
	_ = c.driver.Evaluate(ctx, `document.body.click()`, nil)
}
