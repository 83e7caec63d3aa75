// internal/formfill/discovery.go
package formfill

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Discoverer scans the rendered document for form controls and produces
// Field descriptors with inferred labels, types, constraints and selectors.
type Discoverer struct {
	driver Driver
	logger *zap.Logger
}

func NewDiscoverer(d Driver, logger *zap.Logger) *Discoverer {
	return &Discoverer{driver: d, logger: logger.Named("discovery")}
}

// controlSelectors matches native controls plus ARIA-role custom widgets and
// the class markers of common third-party dropdown libraries.
const controlSelectors = `input, textarea, select, ` +
	`[role="combobox"], [role="listbox"], [role="textbox"], [role="searchbox"], ` +
	`.select2-selection, .chosen-container, .react-select__control, ` +
	`.v-select, .ant-select, .MuiSelect-select`

// extractionScript gathers raw per-control data in a single page evaluation.
// All classification happens on the Go side so it stays unit-testable.
const extractionScript = `
	(() => {
		const selectors = '` + controlSelectors + `';
		const out = [];
		const seen = new Set();

		const textOf = (el) => (el ? (el.textContent || '').replace(/\s+/g, ' ').trim() : '');

		// cssPath builds a positional selector anchored at the nearest
		// ancestor with an id, so it cannot drift to a lookalike control in
		// another section of the page.
		const cssPath = (el) => {
			const parts = [];
			let node = el;
			while (node && node.nodeType === Node.ELEMENT_NODE && node !== document.body) {
				if (node.id) {
					parts.unshift('#' + CSS.escape(node.id));
					return parts.join(' > ');
				}
				let k = 1;
				for (let sib = node.previousElementSibling; sib; sib = sib.previousElementSibling) {
					if (sib.tagName === node.tagName) k++;
				}
				parts.unshift(node.tagName.toLowerCase() + ':nth-of-type(' + k + ')');
				node = node.parentElement;
			}
			return parts.join(' > ');
		};

		const precedingText = (el) => {
			let node = el.previousSibling;
			while (node) {
				if (node.nodeType === Node.TEXT_NODE && node.textContent.trim()) {
					return node.textContent.replace(/\s+/g, ' ').trim();
				}
				if (node.nodeType === Node.ELEMENT_NODE) {
					const t = textOf(node);
					if (t) return t;
				}
				node = node.previousSibling;
			}
			return '';
		};

		document.querySelectorAll(selectors).forEach((el) => {
			if (seen.has(el)) return;
			seen.add(el);

			const attrs = {};
			for (const a of el.attributes) attrs[a.name] = a.value;

			const tag = el.tagName.toLowerCase();

			let labelFor = '';
			if (el.id) {
				const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
				labelFor = textOf(lab);
			}

			const wrapping = el.closest ? el.closest('label') : null;

			let legend = '';
			const fieldset = el.closest ? el.closest('fieldset') : null;
			if (fieldset) legend = textOf(fieldset.querySelector('legend'));

			const options = [];
			if (tag === 'select') {
				for (const opt of el.options) {
					const t = (opt.textContent || '').trim();
					if (t) options.push(t);
				}
			}

			out.push({
				tag: tag,
				attrs: attrs,
				value: ('value' in el) ? String(el.value || '') : '',
				labelFor: labelFor,
				wrappingLabel: textOf(wrapping),
				siblingText: precedingText(el),
				legend: legend,
				options: options,
				cssPath: cssPath(el),
				disabled: !!el.disabled,
				className: attrs['class'] || ''
			});
		});
		return out;
	})()
`

// rawControl mirrors one record from the extraction script.
type rawControl struct {
	Tag           string            `json:"tag"`
	Attrs         map[string]string `json:"attrs"`
	Value         string            `json:"value"`
	LabelFor      string            `json:"labelFor"`
	WrappingLabel string            `json:"wrappingLabel"`
	SiblingText   string            `json:"siblingText"`
	Legend        string            `json:"legend"`
	Options       []string          `json:"options"`
	CSSPath       string            `json:"cssPath"`
	Disabled      bool              `json:"disabled"`
	ClassName     string            `json:"className"`
}

// Discover extracts raw control data and classifies it into Fields. A control
// that cannot be classified is skipped; only driver failure is an error.
func (d *Discoverer) Discover(ctx context.Context) ([]Field, error) {
	var raws []rawControl
	if err := d.driver.Evaluate(ctx, extractionScript, &raws); err != nil {
		return nil, fmt.Errorf("%w: control extraction failed: %v", ErrDriverUnavailable, err)
	}

	fields := make([]Field, 0, len(raws))
	groups := make(map[string]int) // radio/checkbox group name -> index in fields

	for _, raw := range raws {
		f, ok := classifyControl(raw)
		if !ok {
			continue
		}

		// Radio and checkbox inputs sharing a name collapse into one field
		// whose options are the member labels. A lone checkbox keeps its own
		// label and yes/no semantics; radios are inherently a choice, so the
		// group form applies from the first member.
		if (f.Type == FieldRadio || f.Type == FieldCheckbox) && raw.Attrs["name"] != "" {
			key := string(f.Type) + ":" + raw.Attrs["name"]
			memberLabel := groupMemberLabel(raw)
			if idx, seen := groups[key]; seen {
				g := &fields[idx]
				if len(g.Options) == 0 {
					// Second checkbox of this name: upgrade to a group.
					g.Options = []string{groupLabelOrMember(*g)}
					g.Label = groupName(raw)
				}
				g.Options = append(g.Options, memberLabel)
				g.Required = g.Required || f.Required
				continue
			}
			if f.Type == FieldRadio {
				f.Options = []string{memberLabel}
				f.Label = groupName(raw)
			}
			groups[key] = len(fields)
		}

		fields = append(fields, f)
	}

	d.logger.Info("Form discovery complete",
		zap.Int("controls_seen", len(raws)),
		zap.Int("fields", len(fields)))
	return fields, nil
}

// classifyControl turns one raw record into a Field. The bool result is false
// for controls the engine deliberately ignores.
func classifyControl(raw rawControl) (Field, bool) {
	attrs := raw.Attrs
	inputType := strings.ToLower(attrs["type"])

	switch raw.Tag {
	case "input":
		switch inputType {
		case "hidden", "submit", "button", "reset", "image":
			return Field{}, false
		}
	case "option", "optgroup", "label":
		return Field{}, false
	}

	f := Field{
		Type:        inferType(raw),
		Placeholder: attrs["placeholder"],
		Options:     raw.Options,
	}
	f.Selector, f.AlternateSelectors = buildSelectors(raw)
	if f.Selector == "" {
		return Field{}, false
	}

	f.Label = inferLabel(raw, f.Type)
	f.Required = inferRequired(raw, f.Label)
	f.CustomWidget = isCustomWidget(raw)
	f.Min = attrs["min"]
	f.Max = attrs["max"]
	f.MinLength = atoiOrZero(attrs["minlength"])
	f.MaxLength = atoiOrZero(attrs["maxlength"])
	return f, true
}

// inferLabel applies the documented inference order; it never returns empty.
func inferLabel(raw rawControl, ft FieldType) string {
	const siblingTextLimit = 80
	attrs := raw.Attrs

	if v := strings.TrimSpace(attrs["aria-label"]); v != "" {
		return v
	}
	if raw.LabelFor != "" {
		return raw.LabelFor
	}
	if raw.WrappingLabel != "" {
		// The wrapping label's text includes the control's own value for
		// selects and prefilled inputs; strip it so it cannot contaminate
		// the label.
		label := raw.WrappingLabel
		if raw.Value != "" {
			label = strings.ReplaceAll(label, raw.Value, "")
		}
		for _, opt := range raw.Options {
			label = strings.ReplaceAll(label, opt, "")
		}
		if label = strings.TrimSpace(strings.Join(strings.Fields(label), " ")); label != "" {
			return label
		}
	}
	if raw.SiblingText != "" && len(raw.SiblingText) <= siblingTextLimit {
		return raw.SiblingText
	}
	if v := strings.TrimSpace(attrs["placeholder"]); v != "" {
		return v
	}
	for _, attr := range []string{"name", "id"} {
		if v := attrs[attr]; v != "" {
			return humanizeName(v)
		}
	}
	return genericLabel(ft)
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// humanizeName turns attribute-style names ("first-name", "user_email",
// "billingAddress") into title-cased words.
func humanizeName(name string) string {
	s := camelBoundary.ReplaceAllString(name, "$1 $2")
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func genericLabel(ft FieldType) string {
	switch ft {
	case FieldSelect:
		return "Selection Field"
	case FieldCheckbox:
		return "Checkbox Field"
	case FieldRadio:
		return "Choice Field"
	case FieldTextarea:
		return "Text Area"
	default:
		return "Text Field"
	}
}

// buildSelectors returns the primary selector and the remaining viable ones
// as alternates, in documented preference order. The positional fallback is
// the extraction script's ancestor-anchored path, used only when no
// attribute-based selector exists.
func buildSelectors(raw rawControl) (string, []string) {
	attrs := raw.Attrs
	var candidates []string

	if v := attrs["name"]; v != "" {
		candidates = append(candidates, fmt.Sprintf(`%s[name=%q]`, raw.Tag, v))
	}
	if v := attrs["id"]; v != "" {
		candidates = append(candidates, fmt.Sprintf(`[id=%q]`, v))
	}
	for _, attr := range []string{"data-testid", "data-test-id", "data-test", "data-cy", "data-qa"} {
		if v := attrs[attr]; v != "" {
			candidates = append(candidates, fmt.Sprintf(`[%s=%q]`, attr, v))
		}
	}
	if len(candidates) == 0 {
		if raw.CSSPath == "" {
			return "", nil
		}
		candidates = append(candidates, raw.CSSPath)
	}
	return candidates[0], candidates[1:]
}

var classTypeKeywords = []struct {
	keyword string
	ft      FieldType
}{
	{"password", FieldPassword},
	{"email", FieldEmail},
	{"number", FieldNumber},
	{"date", FieldDate},
	{"tel", FieldTel},
	{"phone", FieldTel},
	{"url", FieldURL},
	{"search", FieldText},
}

var placeholderTypeKeywords = []struct {
	keyword string
	ft      FieldType
}{
	{"email", FieldEmail},
	{"phone", FieldTel},
	{"@", FieldEmail},
	{"http", FieldURL},
}

var inputModeTypes = map[string]FieldType{
	"numeric": FieldNumber,
	"decimal": FieldNumber,
	"tel":     FieldTel,
	"email":   FieldEmail,
	"url":     FieldURL,
}

// inferType resolves the control's FieldType: explicit attribute first, then
// class keywords, inputmode, placeholder keywords, defaulting to text.
// Select-family tags and roles always resolve to select.
func inferType(raw rawControl) FieldType {
	attrs := raw.Attrs
	role := strings.ToLower(attrs["role"])

	if raw.Tag == "select" || role == "combobox" || role == "listbox" || isCustomWidget(raw) {
		return FieldSelect
	}
	if raw.Tag == "textarea" {
		return FieldTextarea
	}
	if role == "textbox" || role == "searchbox" {
		return FieldText
	}

	switch t := strings.ToLower(attrs["type"]); t {
	case "text", "":
		// fall through to heuristics
	case "datetime-local":
		return FieldDatetime
	case "search":
		return FieldText
	default:
		if _, known := capabilities[FieldType(t)]; known {
			return FieldType(t)
		}
	}

	lowerClass := strings.ToLower(raw.ClassName)
	for _, ck := range classTypeKeywords {
		if strings.Contains(lowerClass, ck.keyword) {
			return ck.ft
		}
	}
	if ft, ok := inputModeTypes[strings.ToLower(attrs["inputmode"])]; ok {
		return ft
	}
	lowerPlaceholder := strings.ToLower(attrs["placeholder"])
	for _, pk := range placeholderTypeKeywords {
		if strings.Contains(lowerPlaceholder, pk.keyword) {
			return pk.ft
		}
	}
	return FieldText
}

func inferRequired(raw rawControl, label string) bool {
	if _, ok := raw.Attrs["required"]; ok {
		return true
	}
	if strings.EqualFold(raw.Attrs["aria-required"], "true") {
		return true
	}
	return strings.Contains(label, "*")
}

// isCustomWidget reports whether the control is a non-native widget whose
// option list only exists once the widget is opened.
func isCustomWidget(raw rawControl) bool {
	if raw.Tag == "select" || raw.Tag == "textarea" {
		return false
	}
	role := strings.ToLower(raw.Attrs["role"])
	if raw.Tag != "input" && (role == "combobox" || role == "listbox") {
		return true
	}
	lower := strings.ToLower(raw.ClassName)
	for _, marker := range []string{"select2", "chosen-container", "react-select", "v-select", "ant-select", "muiselect"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// groupName names a collapsed group: fieldset legend first, then the shared
// name attribute humanized.
func groupName(raw rawControl) string {
	if raw.Legend != "" {
		return raw.Legend
	}
	return humanizeName(raw.Attrs["name"])
}

// groupLabelOrMember recovers the first member's option label when a lone
// checkbox is upgraded to a group.
func groupLabelOrMember(f Field) string {
	if f.Label != "" {
		return f.Label
	}
	return "Option 1"
}

// groupMemberLabel prefers the member's own inferred label; the value
// attribute is the fallback.
func groupMemberLabel(raw rawControl) string {
	if raw.LabelFor != "" {
		return raw.LabelFor
	}
	if raw.WrappingLabel != "" {
		return strings.TrimSpace(raw.WrappingLabel)
	}
	if raw.SiblingText != "" && len(raw.SiblingText) <= 40 {
		return raw.SiblingText
	}
	if v := raw.Attrs["value"]; v != "" {
		return v
	}
	return humanizeName(raw.Attrs["name"])
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
