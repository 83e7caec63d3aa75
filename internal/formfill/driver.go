// internal/formfill/driver.go
package formfill

import (
	"context"
	"time"
)

// Driver is the rendered-document interface the engine operates against.
// internal/browser provides the chromedp implementation; tests substitute
// fakes. Every method is a potential suspension point and must honor ctx.
type Driver interface {
	// Navigate loads the URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Evaluate runs a script in the page and JSON-decodes the result into
	// out. A nil out discards the result.
	Evaluate(ctx context.Context, script string, out any) error
	Click(ctx context.Context, selector string) error
	Focus(ctx context.Context, selector string) error
	// Clear empties the current value of a text-bearing control.
	Clear(ctx context.Context, selector string) error
	// SendKeys types text into the focused control key by key.
	SendKeys(ctx context.Context, selector, text string) error
	// SetValue assigns the value property directly and dispatches input and
	// change events. Used for structured-value controls.
	SetValue(ctx context.Context, selector, value string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// WaitNavigation blocks until a page navigation completes or the timeout
	// elapses. A timeout is reported as ErrWaitTimeout, not a hard failure.
	WaitNavigation(ctx context.Context, timeout time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	// HTML returns the serialized current document, used for diagnostics.
	HTML(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// ErrWaitTimeout is returned by driver waits that elapsed without a signal.
// The engine treats it as "no signal", never as a run-ending failure.
var ErrWaitTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "formfill: wait timed out" }
func (timeoutError) Timeout() bool { return true }
