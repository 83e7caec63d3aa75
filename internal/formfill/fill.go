// internal/formfill/fill.go
package formfill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Snapshotter captures diagnostic state when a field cannot be resolved. The
// capture is an external side effect; failures are logged, never propagated.
type Snapshotter interface {
	Capture(ctx context.Context, reason string)
}

// Filler applies accepted answers to the live document, one strategy per
// field type. Per-field failures are reported but never abort later fields.
type Filler struct {
	driver    Driver
	logger    *zap.Logger
	snapshots Snapshotter
	// settle bounds the wait for a custom widget's popup to render.
	settle time.Duration
}

// FillFailure records one field the filler could not apply.
type FillFailure struct {
	Field  Field
	Reason string
}

func NewFiller(d Driver, logger *zap.Logger, snapshots Snapshotter) *Filler {
	return &Filler{
		driver:    d,
		logger:    logger.Named("filler"),
		snapshots: snapshots,
		settle:    500 * time.Millisecond,
	}
}

// FillAll applies every cached answer in field discovery order.
func (fl *Filler) FillAll(ctx context.Context, fields []Field, cache *ResponseCache) []FillFailure {
	var failures []FillFailure
	for i := range fields {
		f := &fields[i]
		value, ok := cache.Get(f.Identity())
		if !ok {
			continue
		}
		if err := fl.Fill(ctx, f, value); err != nil {
			fl.logger.Warn("Field fill failed",
				zap.String("field", f.Label),
				zap.String("type", string(f.Type)),
				zap.Error(err))
			failures = append(failures, FillFailure{Field: *f, Reason: err.Error()})
		}
		if err := ctx.Err(); err != nil {
			break
		}
	}
	return failures
}

// Fill resolves the field's live element and applies the value with the
// type's strategy from the capability table.
func (fl *Filler) Fill(ctx context.Context, f *Field, value string) error {
	if f.Type == FieldFile {
		// File uploads are deliberately unsupported.
		fl.logger.Warn("Skipping file upload field", zap.String("field", f.Label))
		return nil
	}

	selector, err := fl.resolve(ctx, f)
	if err != nil {
		if fl.snapshots != nil {
			fl.snapshots.Capture(ctx, fmt.Sprintf("unresolved field %q", f.Label))
		}
		return err
	}

	state, err := fl.controlState(ctx, selector)
	if err != nil {
		return fmt.Errorf("reading state of %q: %w", f.Label, err)
	}
	if state.Disabled || state.ReadOnly {
		fl.logger.Debug("Skipping non-fillable control",
			zap.String("field", f.Label),
			zap.Bool("disabled", state.Disabled),
			zap.Bool("readonly", state.ReadOnly))
		return nil
	}

	return capabilityFor(f).fill(fl, ctx, f, selector, value)
}

// resolve walks the selector fallback chain: primary, alternates, then a
// label-text search against visible label elements.
func (fl *Filler) resolve(ctx context.Context, f *Field) (string, error) {
	for _, sel := range append([]string{f.Selector}, f.AlternateSelectors...) {
		ok, err := fl.selectorExists(ctx, sel)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
		}
		if ok {
			return sel, nil
		}
	}
	if sel, ok := fl.resolveByLabel(ctx, f.Label); ok {
		fl.logger.Debug("Field re-resolved by label text",
			zap.String("field", f.Label), zap.String("selector", sel))
		return sel, nil
	}
	return "", fmt.Errorf("no selector resolves field %q", f.Label)
}

func (fl *Filler) selectorExists(ctx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := fl.driver.Evaluate(ctx, script, &found); err != nil {
		return false, err
	}
	return found, nil
}

// resolveByLabel searches visible label elements for the field's label text
// (exact first, substring second), follows for-references, containment or
// adjacency to the control, and tags the match with a fresh attribute so the
// caller gets a stable selector back.
func (fl *Filler) resolveByLabel(ctx context.Context, label string) (string, bool) {
	tag := fmt.Sprintf("fp-%d", time.Now().UnixNano())
	script := fmt.Sprintf(`
		(() => {
			const wanted = %q.toLowerCase();
			const labels = Array.from(document.querySelectorAll('label'));
			const norm = (el) => (el.textContent || '').replace(/\s+/g, ' ').trim().toLowerCase();
			let lab = labels.find(l => norm(l) === wanted) ||
				labels.find(l => norm(l).includes(wanted));
			if (!lab) return false;
			let control = null;
			if (lab.htmlFor) control = document.getElementById(lab.htmlFor);
			if (!control) control = lab.querySelector('input, textarea, select');
			if (!control) {
				let sib = lab.nextElementSibling;
				while (sib && !control) {
					control = sib.matches('input, textarea, select') ? sib :
						sib.querySelector('input, textarea, select');
					sib = sib.nextElementSibling;
				}
			}
			if (!control) return false;
			control.setAttribute('data-formpilot-target', %q);
			return true;
		})()
	`, label, tag)
	var found bool
	if err := fl.driver.Evaluate(ctx, script, &found); err != nil || !found {
		return "", false
	}
	return fmt.Sprintf(`[data-formpilot-target=%q]`, tag), true
}

type controlState struct {
	Disabled bool   `json:"disabled"`
	ReadOnly bool   `json:"readOnly"`
	Checked  bool   `json:"checked"`
	Value    string `json:"value"`
}

func (fl *Filler) controlState(ctx context.Context, selector string) (controlState, error) {
	var st controlState
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%q);
			if (!el) return {disabled: true, readOnly: true, checked: false, value: ''};
			return {
				disabled: !!el.disabled,
				readOnly: !!el.readOnly,
				checked: !!el.checked,
				value: ('value' in el) ? String(el.value || '') : ''
			};
		})()
	`, selector)
	err := fl.driver.Evaluate(ctx, script, &st)
	return st, err
}

// dispatchEvents fires bubbling input and change events so framework-bound
// forms observe the mutation.
func (fl *Filler) dispatchEvents(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		})()
	`, selector)
	return fl.driver.Evaluate(ctx, script, nil)
}

// -- Per-type strategies (referenced from the capability table) --

// fillTyped handles text-like controls: focus, clear, keystroke the value,
// then notify.
func (fl *Filler) fillTyped(ctx context.Context, f *Field, selector, value string) error {
	if err := fl.driver.Focus(ctx, selector); err != nil {
		return fmt.Errorf("focusing %q: %w", f.Label, err)
	}
	if err := fl.driver.Clear(ctx, selector); err != nil {
		return fmt.Errorf("clearing %q: %w", f.Label, err)
	}
	if err := fl.driver.SendKeys(ctx, selector, value); err != nil {
		return fmt.Errorf("typing into %q: %w", f.Label, err)
	}
	return fl.dispatchEvents(ctx, selector)
}

// fillValue handles structured-value controls (number, date family, color,
// range): assign through the value channel, no keystroke simulation.
func (fl *Filler) fillValue(ctx context.Context, f *Field, selector, value string) error {
	if err := fl.driver.SetValue(ctx, selector, value); err != nil {
		return fmt.Errorf("setting value of %q: %w", f.Label, err)
	}
	return nil
}

// fillSelect picks a native select option by value, then by exact text, then
// by substring. No match is a local error.
func (fl *Filler) fillSelect(ctx context.Context, f *Field, selector, value string) error {
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%q);
			if (!el || el.tagName !== 'SELECT') return false;
			const wanted = %q;
			const lowered = wanted.toLowerCase();
			const opts = Array.from(el.options);
			let match = opts.find(o => o.value === wanted) ||
				opts.find(o => (o.textContent || '').trim().toLowerCase() === lowered) ||
				opts.find(o => (o.textContent || '').toLowerCase().includes(lowered));
			if (!match) return false;
			el.value = match.value;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		})()
	`, selector, value)
	var selected bool
	if err := fl.driver.Evaluate(ctx, script, &selected); err != nil {
		return fmt.Errorf("selecting option on %q: %w", f.Label, err)
	}
	if !selected {
		return fmt.Errorf("no option of %q matches %q", f.Label, value)
	}
	return nil
}

// checkedTarget locates the concrete input to toggle within a single
// checkbox or a named radio/checkbox group.
type checkedTarget struct {
	Found    bool   `json:"found"`
	Checked  bool   `json:"checked"`
	Selector string `json:"selector"`
}

// fillChecked clicks only when the current checked state differs from the
// desired one, so repeated fills with the same value are no-ops.
func (fl *Filler) fillChecked(ctx context.Context, f *Field, selector, value string) error {
	desiredOption := value
	if len(f.Options) > 0 {
		if resolved, err := ResolveOption(f, value); err == nil {
			desiredOption = resolved
		}
	}
	grouped := f.Type == FieldRadio || len(f.Options) > 1
	tag := fmt.Sprintf("fp-check-%d", time.Now().UnixNano())
	script := fmt.Sprintf(`
		(() => {
			const el = document.querySelector(%q);
			if (!el) return {found: false, checked: false, selector: ''};
			const wanted = %q.toLowerCase();
			const grouped = %t;
			let target = el;
			if (grouped && el.name) {
				const members = Array.from(document.querySelectorAll(
					'input[name="' + CSS.escape(el.name) + '"]'));
				const labelOf = (m) => {
					if (m.id) {
						const l = document.querySelector('label[for="' + CSS.escape(m.id) + '"]');
						if (l) return (l.textContent || '').replace(/\s+/g, ' ').trim();
					}
					const wrap = m.closest('label');
					if (wrap) return (wrap.textContent || '').replace(/\s+/g, ' ').trim();
					return m.value || '';
				};
				target = members.find(m => labelOf(m).toLowerCase() === wanted) ||
					members.find(m => (m.value || '').toLowerCase() === wanted) ||
					members.find(m => labelOf(m).toLowerCase().includes(wanted));
				if (!target) return {found: false, checked: false, selector: ''};
			}
			target.setAttribute('data-formpilot-check', %q);
			return {found: true, checked: !!target.checked,
				selector: '[data-formpilot-check="' + %q + '"]'};
		})()
	`, selector, desiredOption, grouped, tag, tag)

	var target checkedTarget
	if err := fl.driver.Evaluate(ctx, script, &target); err != nil {
		return fmt.Errorf("inspecting %q: %w", f.Label, err)
	}
	if !target.Found {
		return fmt.Errorf("no member of %q matches %q", f.Label, desiredOption)
	}

	desired := true
	if !grouped {
		desired = IsAffirmative(value)
	}
	if target.Checked == desired {
		return nil
	}
	if err := fl.driver.Click(ctx, target.Selector); err != nil {
		return fmt.Errorf("clicking %q: %w", f.Label, err)
	}
	return nil
}

// fillCustomDropdown drives a non-native widget: open it, wait for the
// option list, pick by exact then substring text, and as a last resort type
// the raw value into the widget's own text box and commit with Enter. The
// free-text path is required because some widgets accept arbitrary input.
func (fl *Filler) fillCustomDropdown(ctx context.Context, f *Field, selector, value string) error {
	if err := fl.driver.Click(ctx, selector); err != nil {
		return fmt.Errorf("opening widget %q: %w", f.Label, err)
	}
	popupSelector := `[role="option"], .select2-results__option, ` +
		`.react-select__option, .ant-select-item-option, li[data-value]`
	if err := fl.driver.WaitVisible(ctx, popupSelector, fl.settle); err != nil {
		fl.logger.Debug("Widget popup did not render in time",
			zap.String("field", f.Label), zap.Error(err))
	}

	script := fmt.Sprintf(`
		(() => {
			const wanted = %q.toLowerCase();
			const opts = Array.from(document.querySelectorAll(%q));
			const textOf = (o) => (o.textContent || '').replace(/\s+/g, ' ').trim().toLowerCase();
			const match = opts.find(o => textOf(o) === wanted) ||
				opts.find(o => textOf(o).includes(wanted));
			if (!match) return false;
			match.dispatchEvent(new MouseEvent('mousedown', {bubbles: true}));
			match.click();
			return true;
		})()
	`, value, popupSelector)
	var picked bool
	if err := fl.driver.Evaluate(ctx, script, &picked); err != nil {
		return fmt.Errorf("picking widget option on %q: %w", f.Label, err)
	}
	if picked {
		return nil
	}

	// No listed option matched: fall back to the widget's text input.
	inputSelector := selector + ` input, input[role="combobox"], .select2-search__field`
	if err := fl.driver.SendKeys(ctx, inputSelector, value+"\r"); err != nil {
		return fmt.Errorf("free-text entry on widget %q: %w", f.Label, err)
	}
	return nil
}

// fillFile exists so the capability table is total; Fill short-circuits file
// fields before dispatch.
func (fl *Filler) fillFile(ctx context.Context, f *Field, selector, value string) error {
	fl.logger.Warn("File upload fields are not supported", zap.String("field", f.Label))
	return nil
}
