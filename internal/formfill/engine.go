// internal/formfill/engine.go
//
// The Engine ties discovery, collection, filling and submission recovery
// into the single outward call the application uses.
package formfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options tunes one engine run.
type Options struct {
	// NavigationTimeout bounds the initial page load.
	NavigationTimeout time.Duration
	// MaxAttempts bounds the submit/correct loop; zero means the default.
	MaxAttempts int
	// SnapshotDir receives diagnostic document dumps; empty disables
	// persistence (statistics are still logged).
	SnapshotDir string
	// OutcomeTimeout bounds the wait for a post-submit signal; zero keeps
	// the submitter's default.
	OutcomeTimeout time.Duration
}

// Engine runs the full conversational form-filling workflow against one
// document driver. All state is per-run; an Engine is not reusable across
// concurrent runs.
type Engine struct {
	driver   Driver
	provider QuestionProvider
	channel  AnswerChannel
	logger   *zap.Logger
	opts     Options

	// Recorder, when set, receives the finished submission (history store).
	Recorder SubmissionRecorder
}

// SubmissionRecorder persists finished submissions. Failures must be
// tolerated by implementations; the engine logs and continues.
type SubmissionRecorder interface {
	Record(ctx context.Context, sub *Submission) error
}

func NewEngine(d Driver, provider QuestionProvider, channel AnswerChannel, logger *zap.Logger, opts Options) *Engine {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 90 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		driver:   d,
		provider: provider,
		channel:  channel,
		logger:   logger.Named("engine"),
		opts:     opts,
	}
}

// RunForm drives discovery, collection, filling and submission recovery for
// the form at url. The driver is released on every exit path. The returned
// Result always carries a reason for failure; the error preserves the
// sentinel for errors.Is dispatch.
func (e *Engine) RunForm(ctx context.Context, url string) (Result, error) {
	sub := NewSubmission(url)
	defer func() {
		if err := e.driver.Close(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Driver release failed", zap.Error(err))
		}
	}()

	result, err := e.run(ctx, url, sub)
	sub.Result = &result
	if e.Recorder != nil {
		if rerr := e.Recorder.Record(context.WithoutCancel(ctx), sub); rerr != nil {
			e.logger.Warn("Could not record submission", zap.Error(rerr))
		}
	}
	return result, err
}

func (e *Engine) run(ctx context.Context, url string, sub *Submission) (Result, error) {
	if err := e.driver.Navigate(ctx, url, e.opts.NavigationTimeout); err != nil {
		err = fmt.Errorf("%w: navigation failed: %v", ErrDriverUnavailable, err)
		return failure(err, nil, nil), err
	}

	snapshots := NewDiskSnapshotter(e.driver, e.opts.SnapshotDir, e.logger)
	discoverer := NewDiscoverer(e.driver, e.logger)
	filler := NewFiller(e.driver, e.logger, snapshots)
	detector := NewDetector(e.driver, e.logger)
	collector := NewCollector(e.driver, e.provider, e.channel, e.logger)
	submitter := NewSubmitter(e.driver, detector, filler, discoverer, e.provider, e.channel, e.logger)
	submitter.MaxAttempts = e.opts.MaxAttempts
	if e.opts.OutcomeTimeout > 0 {
		submitter.outcomeTimeout = e.opts.OutcomeTimeout
	}

	fields, err := discoverer.Discover(ctx)
	if err != nil {
		return failure(err, nil, nil), err
	}
	if len(fields) == 0 {
		err := fmt.Errorf("no fillable form controls found at %s", url)
		return failure(err, nil, nil), err
	}

	cache := NewResponseCache()
	if err := collector.Collect(ctx, fields, cache); err != nil {
		// Cancellation unwinds without touching the document again.
		return failure(err, cache.Answers(), nil), err
	}

	if failures := filler.FillAll(ctx, fields, cache); len(failures) > 0 {
		for _, ff := range failures {
			e.logger.Warn("Field skipped during fill",
				zap.String("field", ff.Field.Label),
				zap.String("reason", ff.Reason))
		}
	}

	lastErrors, err := submitter.Run(ctx, fields, cache)
	sub.Attempts = submitter.AttemptsUsed()
	answers := cache.Answers()
	sub.Answers = answers
	if err != nil {
		return failure(err, answers, lastErrors), err
	}

	return Result{Success: true, Reason: "form accepted", Answers: answers}, nil
}

// failure maps the error taxonomy onto a caller-facing Result.
func failure(err error, answers []Answer, lastErrors []ValidationError) Result {
	reason := "form filling failed: " + err.Error()
	switch {
	case errors.Is(err, ErrCancelled):
		reason = "cancelled by user"
	case errors.Is(err, ErrRetriesExhausted):
		reason = "submission retries exhausted with validation errors remaining"
	case errors.Is(err, ErrAmbiguousOutcome):
		reason = "submission outcome could not be determined"
	case errors.Is(err, ErrDriverUnavailable):
		reason = "browser became unavailable: " + err.Error()
	}
	return Result{Success: false, Reason: reason, Answers: answers, Errors: lastErrors}
}
