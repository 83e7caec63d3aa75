// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/formfill"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultOpTimeout bounds individual page operations that carry no explicit
// timeout of their own.
const defaultOpTimeout = 30 * time.Second

// Session is a single browser tab. It implements formfill.Driver.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.Interface

	allocatorContext context.Context
	sessionContext   context.Context
	sessionCancel    context.CancelFunc

	isClosed bool
	mu       sync.Mutex
}

func newSession(allocCtx context.Context, cfg config.Interface, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:               id,
		logger:           logger.With(zap.String("session_id", id[:8])),
		cfg:              cfg,
		allocatorContext: allocCtx,
	}
}

// initialize creates the browser tab and applies session-wide settings.
func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.sessionContext != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	sessionCtx, cancel := chromedp.NewContext(s.allocatorContext)
	s.sessionContext = sessionCtx
	s.sessionCancel = cancel
	s.mu.Unlock()

	actions := []chromedp.Action{network.Enable()}

	if headers := s.cfg.Network().Headers; len(headers) > 0 {
		h := make(network.Headers, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(h))
	}

	if vp := s.cfg.Browser().Viewport; vp["width"] > 0 && vp["height"] > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(vp["width"]), int64(vp["height"])))
	}

	opCtx, opCancel := s.opContext(ctx, defaultOpTimeout)
	defer opCancel()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		s.Close(ctx)
		return fmt.Errorf("failed to configure session: %w", err)
	}

	s.logger.Info("Browser session initialized.")
	return nil
}

// opContext derives a bounded context from the session that is also cancelled
// when the caller's context ends.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	opCtx, cancel := context.WithTimeout(s.sessionContext, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads the URL, waits for the document body, and then lets async
// page work settle before returning.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.Network().NavigationTimeout
	}
	s.logger.Debug("Navigating", zap.String("url", url))

	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	return chromedp.Run(opCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if s.cfg.Browser().DisableCache {
				return network.SetCacheDisabled(true).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Network().PostLoadWait),
	)
}

// Evaluate runs the script in the page and decodes its JSON result into out.
// A nil out discards the result.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()

	if out == nil {
		return chromedp.Run(opCtx, chromedp.Evaluate(script, nil))
	}

	var raw json.RawMessage
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := jsonCodec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *Session) Focus(ctx context.Context, selector string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Focus(selector, chromedp.ByQuery))
}

// Clear empties the current value of a text-bearing control.
func (s *Session) Clear(ctx context.Context, selector string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Clear(selector, chromedp.ByQuery))
}

// SendKeys types text into the control key by key, which lets the page's own
// key handlers (masking, autocomplete) observe the input.
func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// SetValue assigns the value property directly and dispatches input and
// change events so framework listeners pick the value up.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		el.value = %q;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, value)

	var ok bool
	if err := s.Evaluate(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element matches selector %q", selector)
	}
	return nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	err := chromedp.Run(opCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return formfill.ErrWaitTimeout
	}
	return err
}

// WaitNavigation blocks until the main frame navigates or the timeout
// elapses. An elapsed timeout is reported as formfill.ErrWaitTimeout.
func (s *Session) WaitNavigation(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.Network().NavigationTimeout
	}

	navigated := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(s.sessionContext)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*page.EventFrameNavigated); ok && e.Frame.ParentID == "" {
			select {
			case navigated <- struct{}{}:
			default:
			}
		}
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-navigated:
	case <-timer.C:
		return formfill.ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-s.sessionContext.Done():
		return s.sessionContext.Err()
	}

	// Give the new document a chance to reach readiness before the caller
	// inspects it.
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()

	var url string
	if err := chromedp.Run(opCtx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// HTML returns the serialized current document, used for diagnostics.
func (s *Session) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Network().Timeout)
	defer cancel()

	var doc string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &doc, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return doc, nil
}

// Close safely terminates the browser tab.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	// Capture references needed for closing before releasing the lock.
	sessionCancel := s.sessionCancel
	sessionContext := s.sessionContext
	s.mu.Unlock()

	if sessionCancel != nil {
		sessionCancel()
	}
	if sessionContext == nil {
		return nil
	}

	// Wait for the session context to be fully done, respecting the caller's
	// deadline and a hard timeout.
	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()

	select {
	case <-sessionContext.Done():
		s.logger.Debug("Browser session closed gracefully.")
	case <-waitCtx.Done():
		s.logger.Warn("Timed out waiting for browser session to close.")
	}
	return nil
}
