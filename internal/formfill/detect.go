// internal/formfill/detect.go
package formfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Detector scans the document after a submit attempt for field-level
// validation failures and decides whether the form was accepted.
type Detector struct {
	driver Driver
	logger *zap.Logger
	// settleDelay gives the site time to render errors asynchronously before
	// the first scan.
	settleDelay time.Duration
}

func NewDetector(d Driver, logger *zap.Logger) *Detector {
	return &Detector{
		driver:      d,
		logger:      logger.Named("detector"),
		settleDelay: 1500 * time.Millisecond,
	}
}

// errorIndicatorSelectors matches controls flagged invalid by ARIA, common
// class conventions, native constraint validation, and the error classes of
// widespread form libraries.
const errorIndicatorSelectors = `[aria-invalid="true"], .error, .invalid, ` +
	`input:invalid, select:invalid, textarea:invalid, ` +
	`.is-invalid, .has-error, .field_with_errors input, .Mui-error input`

// alertSelectors matches free-standing error messages not attached to a
// control.
const alertSelectors = `[role="alert"], .error-message, .field-error, ` +
	`.invalid-feedback, .form-error, .validation-error`

// rawDetected pairs a flagged control's raw data with the best error message
// the page offers for it. Label/type inference reuses the discovery rules.
type rawDetected struct {
	Control rawControl `json:"control"`
	Message string     `json:"message"`
	// GroupChecked is set by the required-control scan for radio and
	// checkbox members whose name group already has a checked member; such
	// a member is not missing even though it is unchecked itself.
	GroupChecked bool `json:"groupChecked"`
}

const detectionScript = `
	(() => {
		const out = [];
		const seen = new Set();
		const textOf = (el) => (el ? (el.textContent || '').replace(/\s+/g, ' ').trim() : '');

		const rawOf = (el) => {
			const attrs = {};
			for (const a of el.attributes) attrs[a.name] = a.value;
			let labelFor = '';
			if (el.id) {
				labelFor = textOf(document.querySelector('label[for="' + CSS.escape(el.id) + '"]'));
			}
			const wrapping = el.closest ? el.closest('label') : null;
			return {
				tag: el.tagName.toLowerCase(),
				attrs: attrs,
				value: ('value' in el) ? String(el.value || '') : '',
				labelFor: labelFor,
				wrappingLabel: textOf(wrapping),
				siblingText: '',
				legend: '',
				options: [],
				disabled: !!el.disabled,
				className: attrs['class'] || ''
			};
		};

		const messageFor = (el) => {
			const described = el.getAttribute && el.getAttribute('aria-describedby');
			if (described) {
				for (const id of described.split(/\s+/)) {
					const t = textOf(document.getElementById(id));
					if (t) return t;
				}
			}
			const group = el.closest ? el.closest('.form-group, .field, .form-field, .input-group, div') : null;
			if (group) {
				const sib = group.querySelector('` + alertSelectors + `');
				const t = textOf(sib);
				if (t) return t;
			}
			if (typeof el.validationMessage === 'string' && el.validationMessage) {
				return el.validationMessage;
			}
			return '';
		};

		const isControl = (el) =>
			el.matches && el.matches('input, textarea, select');

		const push = (el, message, groupChecked) => {
			if (!el || seen.has(el)) return;
			seen.add(el);
			out.push({
				control: rawOf(el),
				message: message || messageFor(el),
				groupChecked: !!groupChecked
			});
		};

		// (a) Controls flagged by error-indicating selectors.
		document.querySelectorAll('` + errorIndicatorSelectors + `').forEach((el) => {
			if (!isControl(el)) {
				el = el.querySelector ? el.querySelector('input, textarea, select') : null;
			}
			if (el && isControl(el)) push(el, '');
		});

		// (b) Free-standing alerts, associated to the enclosing form group's
		// control.
		document.querySelectorAll('` + alertSelectors + `').forEach((alertEl) => {
			const msg = textOf(alertEl);
			if (!msg) return;
			const group = alertEl.closest('.form-group, .field, .form-field, .input-group, form, div');
			if (!group) return;
			const control = group.querySelector('input, textarea, select');
			if (control) push(control, msg);
		});

		// (c) Required controls still empty, regardless of site styling. Radio
		// and checkbox members are judged by their name group: an unchecked
		// member whose group has a checked member is reported with the group
		// flag set so it can be discarded.
		document.querySelectorAll('[required], [aria-required="true"]').forEach((el) => {
			if (!isControl(el)) return;
			const type = (el.getAttribute('type') || '').toLowerCase();
			if (type === 'hidden' || type === 'submit' || type === 'button') return;
			if (type === 'checkbox' || type === 'radio') {
				if (el.checked) return;
				let groupChecked = false;
				if (el.name) {
					groupChecked = !!document.querySelector(
						'input[type="' + type + '"][name="' + CSS.escape(el.name) + '"]:checked');
				}
				push(el, '', groupChecked);
				return;
			}
			if (!(el.value || '').trim()) push(el, '');
		});

		return out;
	})()
`

// Detect waits for asynchronous error rendering, scans the three error
// sources and returns the deduplicated field-level error list.
func (d *Detector) Detect(ctx context.Context) ([]ValidationError, error) {
	select {
	case <-time.After(d.settleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.scan(ctx)
}

func (d *Detector) scan(ctx context.Context) ([]ValidationError, error) {
	var raws []rawDetected
	if err := d.driver.Evaluate(ctx, detectionScript, &raws); err != nil {
		return nil, fmt.Errorf("%w: error scan failed: %v", ErrDriverUnavailable, err)
	}

	type dedupeKey struct{ name, label string }
	index := make(map[dedupeKey]int)
	var errs []ValidationError

	for _, raw := range raws {
		if raw.GroupChecked {
			continue
		}
		ft := inferType(raw.Control)
		label := inferLabel(raw.Control, ft)
		name := fieldNameOf(raw.Control)
		message := synthesizeMessage(raw, ft)

		key := dedupeKey{name, label}
		if idx, seen := index[key]; seen {
			// First occurrence wins; a later message may only upgrade a
			// generic placeholder.
			if isGenericMessage(errs[idx].Message) && !isGenericMessage(message) {
				errs[idx].Message = message
			}
			continue
		}
		index[key] = len(errs)
		errs = append(errs, ValidationError{
			FieldName:    name,
			FieldLabel:   label,
			Message:      message,
			FieldType:    ft,
			CurrentValue: raw.Control.Value,
		})
	}

	if len(errs) > 0 {
		d.logger.Info("Validation errors detected", zap.Int("count", len(errs)))
	}
	return errs, nil
}

func fieldNameOf(raw rawControl) string {
	for _, attr := range []string{"name", "id"} {
		if v := raw.Attrs[attr]; v != "" {
			return normalizeIdentity(v)
		}
	}
	return normalizeIdentity(inferLabel(raw, inferType(raw)))
}

func synthesizeMessage(raw rawDetected, ft FieldType) string {
	if msg := strings.TrimSpace(raw.Message); msg != "" {
		return msg
	}
	empty := strings.TrimSpace(raw.Control.Value) == ""
	switch {
	case empty && ft == FieldSelect:
		return "please select an option"
	case empty:
		return "this field is required"
	default:
		return "invalid value"
	}
}

func isGenericMessage(msg string) bool {
	switch msg {
	case "", "invalid value", "this field is required", "please select an option":
		return true
	}
	return false
}

// successTokens are URL fragments that indicate an accepted submission.
var successTokens = []string{"success", "thank", "confirm", "complete", "submitted"}

type submitProbe struct {
	SuccessIndicator bool `json:"successIndicator"`
	HasForm          bool `json:"hasForm"`
}

const submitProbeScript = `
	(() => {
		const successSelectors = '.success, .success-message, .thank-you, ' +
			'.confirmation, .alert-success, [data-success]';
		let success = false;
		document.querySelectorAll(successSelectors).forEach((el) => {
			const style = window.getComputedStyle(el);
			if (style.display !== 'none' && style.visibility !== 'hidden') success = true;
		});
		return {successIndicator: success, hasForm: !!document.querySelector('form')};
	})()
`

// IsSubmitted is the authoritative acceptance check: a visible success
// indicator, a success-like URL token, or no remaining errors on a page
// whose form element is gone. The last clause intentionally requires the
// form to have disappeared; a still-present form with no flagged errors is
// not treated as accepted.
func (d *Detector) IsSubmitted(ctx context.Context) (bool, error) {
	var probe submitProbe
	if err := d.driver.Evaluate(ctx, submitProbeScript, &probe); err != nil {
		return false, fmt.Errorf("%w: submit probe failed: %v", ErrDriverUnavailable, err)
	}
	if probe.SuccessIndicator {
		return true, nil
	}

	if url, err := d.driver.CurrentURL(ctx); err == nil {
		lowered := strings.ToLower(url)
		for _, token := range successTokens {
			if strings.Contains(lowered, token) {
				return true, nil
			}
		}
	}

	errs, err := d.scan(ctx)
	if err != nil {
		return false, err
	}
	return len(errs) == 0 && !probe.HasForm, nil
}
