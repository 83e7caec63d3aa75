// internal/formfill/submit.go
package formfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// state names one node of the submission/recovery machine. Transitions are
// driven exclusively by Submitter.Run.
type state int

const (
	stateIdle state = iota
	stateSubmitting
	stateSubmitted
	stateErrorsDetected
	stateCorrecting
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSubmitting:
		return "submitting"
	case stateSubmitted:
		return "submitted"
	case stateErrorsDetected:
		return "errors_detected"
	case stateCorrecting:
		return "correcting"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// DefaultMaxAttempts bounds the submit/correct loop. Policy, not structure.
const DefaultMaxAttempts = 3

// Submitter drives submit attempts, outcome observation and bounded
// correction rounds.
type Submitter struct {
	driver     Driver
	detector   *Detector
	filler     *Filler
	discoverer *Discoverer
	provider   QuestionProvider
	channel    AnswerChannel
	logger     *zap.Logger

	// MaxAttempts is the total number of submit attempts; after the last
	// failed one the run terminates as retry-exhausted.
	MaxAttempts int
	// outcomeTimeout bounds the wait for any post-submit signal.
	outcomeTimeout time.Duration
	// outcomePoll is the interval between sequential outcome checks.
	outcomePoll time.Duration
	// attemptsUsed records how many submit attempts the last Run made.
	attemptsUsed int
}

// AttemptsUsed reports the submit attempts consumed by the last Run.
func (s *Submitter) AttemptsUsed() int { return s.attemptsUsed }

func NewSubmitter(
	d Driver,
	detector *Detector,
	filler *Filler,
	discoverer *Discoverer,
	provider QuestionProvider,
	channel AnswerChannel,
	logger *zap.Logger,
) *Submitter {
	return &Submitter{
		driver:         d,
		detector:       detector,
		filler:         filler,
		discoverer:     discoverer,
		provider:       provider,
		channel:        channel,
		logger:         logger.Named("submitter"),
		MaxAttempts:    DefaultMaxAttempts,
		outcomeTimeout: 10 * time.Second,
		outcomePoll:    300 * time.Millisecond,
	}
}

// Run executes the state machine until the form is accepted, retries are
// exhausted, the outcome is ambiguous, or the human cancels. On failure the
// returned error list carries the last detected error set.
func (s *Submitter) Run(ctx context.Context, fields []Field, cache *ResponseCache) ([]ValidationError, error) {
	current := stateIdle
	transition := func(next state) {
		s.logger.Debug("State transition",
			zap.Stringer("from", current), zap.Stringer("to", next))
		current = next
	}
	var lastErrors []ValidationError

	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		s.attemptsUsed = attempt
		transition(stateSubmitting)
		s.logger.Info("Submitting form",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.MaxAttempts))

		preURL, _ := s.driver.CurrentURL(ctx)
		if err := s.pressSubmit(ctx); err != nil {
			return lastErrors, err
		}

		submitted, err := s.observeOutcome(ctx, preURL)
		if err != nil {
			return lastErrors, err
		}
		if submitted {
			transition(stateSubmitted)
			s.logger.Info("Form accepted", zap.Int("attempts", attempt))
			return nil, nil
		}

		errs, err := s.detector.Detect(ctx)
		if err != nil {
			return lastErrors, err
		}
		if len(errs) == 0 {
			// Not confirmed accepted and nothing diagnosable: cannot tell a
			// silent rejection from a slow acceptance.
			s.logger.Warn("Submission outcome ambiguous", zap.Int("attempt", attempt))
			return nil, ErrAmbiguousOutcome
		}

		transition(stateErrorsDetected)
		lastErrors = errs
		if attempt == s.MaxAttempts {
			break
		}

		transition(stateCorrecting)
		s.logger.Info("Starting correction round", zap.Int("errors", len(errs)))
		if err := s.correct(ctx, fields, cache, errs); err != nil {
			return lastErrors, err
		}
	}

	transition(stateExhausted)
	s.logger.Warn("Submission retries exhausted",
		zap.Int("remaining_errors", len(lastErrors)))
	return lastErrors, ErrRetriesExhausted
}

// submitControlSelectors is the prioritized list tried before falling back
// to keyword scanning and finally to form.submit().
var submitControlSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`form button:not([type="button"]):not([type="reset"])`,
	`[role="button"][data-submit]`,
}

// pressSubmit fires the submit action once. Outcome observation is separate.
func (s *Submitter) pressSubmit(ctx context.Context) error {
	for _, sel := range submitControlSelectors {
		var found bool
		script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
		if err := s.driver.Evaluate(ctx, script, &found); err != nil {
			return fmt.Errorf("%w: submit control lookup failed: %v", ErrDriverUnavailable, err)
		}
		if found {
			return s.driver.Click(ctx, sel)
		}
	}

	// No declared submit control: scan visible buttons for submission-like
	// text or classes in the lower half of the viewport.
	if sel, ok := s.findSubmitByKeywords(ctx); ok {
		return s.driver.Click(ctx, sel)
	}

	// Arbitrary third-party markup sometimes has no clickable submit at
	// all; force the form element itself.
	s.logger.Debug("No submit control found, forcing form submission")
	return s.driver.Evaluate(ctx, `
		(() => {
			const form = document.querySelector('form');
			if (form) form.submit();
			return !!form;
		})()
	`, nil)
}

func (s *Submitter) findSubmitByKeywords(ctx context.Context) (string, bool) {
	tag := fmt.Sprintf("fp-submit-%d", time.Now().UnixNano())
	script := fmt.Sprintf(`
		(() => {
			const keywords = ['submit', 'send', 'apply', 'continue', 'next', 'finish', 'complete', 'save'];
			const candidates = Array.from(document.querySelectorAll('button, [role="button"], a.btn'));
			const match = candidates.find((el) => {
				const style = window.getComputedStyle(el);
				if (style.display === 'none' || style.visibility === 'hidden') return false;
				const rect = el.getBoundingClientRect();
				if (rect.top < window.innerHeight / 2) return false;
				const text = ((el.textContent || '') + ' ' + (el.className || '')).toLowerCase();
				return keywords.some(k => text.includes(k));
			});
			if (!match) return false;
			match.setAttribute('data-formpilot-submit', %q);
			return true;
		})()
	`, tag)
	var found bool
	if err := s.driver.Evaluate(ctx, script, &found); err != nil || !found {
		return "", false
	}
	return fmt.Sprintf(`[data-formpilot-submit=%q]`, tag), true
}

// observeOutcome watches for the first post-submit signal -- navigation, a
// success indicator, or an error indicator -- up to the timeout, then always
// defers to IsSubmitted as the authoritative check. Document operations stay
// strictly sequential, so the race is realized as a poll; the navigation wait
// doubles as the poll pacing, and its expiry just means no signal this round.
func (s *Submitter) observeOutcome(ctx context.Context, preURL string) (bool, error) {
	deadline := time.Now().Add(s.outcomeTimeout)
	for time.Now().Before(deadline) {
		err := s.driver.WaitNavigation(ctx, s.outcomePoll)
		if err == nil {
			s.logger.Debug("Navigation observed after submit")
			break
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !errors.Is(err, ErrWaitTimeout) {
			s.logger.Debug("Navigation wait failed", zap.Error(err))
		}

		// A navigation that finished before the wait was armed leaves no
		// event to observe; the URL comparison catches it.
		if url, uerr := s.driver.CurrentURL(ctx); uerr == nil && url != preURL {
			s.logger.Debug("Navigation observed after submit", zap.String("url", url))
			break
		}

		var signal struct {
			Success bool `json:"success"`
			Error   bool `json:"error"`
		}
		script := `
			(() => ({
				success: !!document.querySelector('.success, .success-message, .thank-you, .confirmation, .alert-success'),
				error: !!document.querySelector('` + errorIndicatorSelectors + `')
			}))()
		`
		if err := s.driver.Evaluate(ctx, script, &signal); err == nil && (signal.Success || signal.Error) {
			break
		}
	}
	// The race deciding first is only a hint; IsSubmitted decides.
	return s.detector.IsSubmitted(ctx)
}

// correct runs one correction round: a question, answer and re-fill per
// detected error, in detection order. Cancellation aborts the whole
// recovery.
func (s *Submitter) correct(ctx context.Context, fields []Field, cache *ResponseCache, errs []ValidationError) error {
	for _, ve := range errs {
		target := s.resolveErrorField(ctx, fields, ve)
		if target == nil {
			s.logger.Warn("No known field matches validation error",
				zap.String("field_name", ve.FieldName),
				zap.String("field_label", ve.FieldLabel))
			continue
		}

		question := s.correctionQuestion(ctx, ve)
		raw, err := s.channel.Prompt(ctx, question)
		if err != nil {
			return fmt.Errorf("reading correction for %q: %w", ve.FieldLabel, err)
		}
		if IsCancellation(raw) {
			return ErrCancelled
		}
		value := Sanitize(raw)
		if len(target.Options) > 0 {
			if resolved, rerr := ResolveOption(target, value); rerr == nil {
				value = resolved
			}
		}

		if err := s.filler.Fill(ctx, target, value); err != nil {
			s.logger.Warn("Correction fill failed",
				zap.String("field", target.Label), zap.Error(err))
		}
		cache.Set(target.Identity(), value)
	}
	return nil
}

func (s *Submitter) correctionQuestion(ctx context.Context, ve ValidationError) string {
	p := CorrectionPrompt{
		FieldName:    ve.FieldName,
		FieldLabel:   ve.FieldLabel,
		CurrentValue: ve.CurrentValue,
		ErrorMessage: ve.Message,
	}
	q, err := s.provider.AskCorrection(ctx, p)
	if err != nil || strings.TrimSpace(q) == "" {
		return FallbackCorrection(p)
	}
	return q
}

// resolveErrorField matches a validation error to an already-known field
// first, then retries against freshly-rediscovered custom-widget fields in
// case the site swapped its markup.
func (s *Submitter) resolveErrorField(ctx context.Context, fields []Field, ve ValidationError) *Field {
	if f := matchErrorField(fields, ve); f != nil {
		return f
	}
	fresh, err := s.discoverer.Discover(ctx)
	if err != nil {
		return nil
	}
	var widgets []Field
	for _, f := range fresh {
		if f.CustomWidget {
			widgets = append(widgets, f)
		}
	}
	return matchErrorField(widgets, ve)
}

func matchErrorField(fields []Field, ve ValidationError) *Field {
	name := normalizeIdentity(ve.FieldName)
	label := normalizeIdentity(ve.FieldLabel)
	for i := range fields {
		if fields[i].Identity() == name {
			return &fields[i]
		}
	}
	for i := range fields {
		if normalizeIdentity(fields[i].Label) == label {
			return &fields[i]
		}
	}
	return nil
}
