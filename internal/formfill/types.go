// internal/formfill/types.go
package formfill

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType is the closed set of control types the engine knows how to
// discover, validate and fill.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldEmail    FieldType = "email"
	FieldTel      FieldType = "tel"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldTime     FieldType = "time"
	FieldMonth    FieldType = "month"
	FieldWeek     FieldType = "week"
	FieldColor    FieldType = "color"
	FieldRange    FieldType = "range"
	FieldURL      FieldType = "url"
	FieldPassword FieldType = "password"
	FieldFile     FieldType = "file"
)

// Field describes a single discovered form control. Radio and checkbox
// groups sharing a name collapse into one Field whose Options carry the
// per-member labels.
type Field struct {
	Label              string
	Selector           string
	AlternateSelectors []string
	Type               FieldType
	Required           bool
	Placeholder        string
	Options            []string
	// CustomWidget marks non-native controls (ARIA combobox, styled
	// dropdowns) whose options are only resolvable by opening the widget.
	CustomWidget bool
	// Min and Max hold the raw attribute values; numeric for number/range,
	// ISO dates for the date family. Empty when the control declares none.
	Min       string
	Max       string
	MinLength int
	MaxLength int
}

// Identity returns the normalized cache key for this field: the value of a
// stable selector attribute when one exists, otherwise the label.
func (f *Field) Identity() string {
	if key := selectorAttributeValue(f.Selector); key != "" {
		return normalizeIdentity(key)
	}
	return normalizeIdentity(f.Label)
}

// selectorAttributeValue extracts the attribute value from selectors of the
// shape [name="x"], #x or [data-testid="x"]. Positional selectors and
// anchored paths yield "".
func selectorAttributeValue(selector string) string {
	if strings.HasPrefix(selector, "#") && !strings.ContainsAny(selector, " >") {
		return selector[1:]
	}
	open := strings.Index(selector, `="`)
	if open < 0 || !strings.HasSuffix(selector, `"]`) {
		return ""
	}
	return selector[open+2 : len(selector)-2]
}

func normalizeIdentity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

// Answer is one accepted response tied to a field identity.
type Answer struct {
	FieldIdentity string    `json:"field"`
	Value         string    `json:"value"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// cachedValue is one stored answer with the time it was accepted.
type cachedValue struct {
	value string
	at    time.Time
}

// ResponseCache maps field identities to their last accepted value. It is
// owned by a single engine run and must not be mutated concurrently with an
// in-flight collection or correction pass.
type ResponseCache struct {
	values map[string]cachedValue
	order  []string
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{values: make(map[string]cachedValue)}
}

// Set stores a value, overwriting any earlier answer for the same identity.
// The acceptance time is recorded with the value.
func (c *ResponseCache) Set(identity, value string) {
	if _, seen := c.values[identity]; !seen {
		c.order = append(c.order, identity)
	}
	c.values[identity] = cachedValue{value: value, at: time.Now()}
}

func (c *ResponseCache) Get(identity string) (string, bool) {
	v, ok := c.values[identity]
	return v.value, ok
}

func (c *ResponseCache) Has(identity string) bool {
	_, ok := c.values[identity]
	return ok
}

func (c *ResponseCache) Len() int { return len(c.values) }

// Reset discards all cached answers.
func (c *ResponseCache) Reset() {
	c.values = make(map[string]cachedValue)
	c.order = nil
}

// Answers returns the cached responses in first-answered order, each carrying
// the time its value was accepted.
func (c *ResponseCache) Answers() []Answer {
	out := make([]Answer, 0, len(c.order))
	for _, id := range c.order {
		v := c.values[id]
		out = append(out, Answer{FieldIdentity: id, Value: v.value, AnsweredAt: v.at})
	}
	return out
}

// ValidationError is one field-level failure reported by the target site
// after a submit attempt. Instances live only within a single detection pass.
type ValidationError struct {
	FieldName    string
	FieldLabel   string
	Message      string
	FieldType    FieldType
	CurrentValue string
}

// Submission records one engine run against a form.
type Submission struct {
	ID          string
	URL         string
	Answers     []Answer
	SubmittedAt time.Time
	Attempts    int
	Result      *Result
}

func NewSubmission(url string) *Submission {
	return &Submission{ID: uuid.NewString(), URL: url, SubmittedAt: time.Now()}
}

// Result is the caller-facing outcome of a run. Success is authoritative;
// Reason carries the human-readable explanation for every failure mode.
type Result struct {
	Success bool
	Reason  string
	Answers []Answer
	Errors  []ValidationError
}

// Sentinel failures surfaced by the engine. Callers distinguish them with
// errors.Is.
var (
	// ErrCancelled is a control-flow signal, not an error condition: the
	// human typed a cancellation word at a prompt.
	ErrCancelled = errors.New("formfill: cancelled by user")
	// ErrRetriesExhausted means the bounded correction loop ran out of
	// attempts with server-side validation errors still present.
	ErrRetriesExhausted = errors.New("formfill: submission retries exhausted")
	// ErrAmbiguousOutcome means the form was neither confirmed accepted nor
	// produced any detectable validation error.
	ErrAmbiguousOutcome = errors.New("formfill: submission outcome ambiguous")
	// ErrDriverUnavailable means the underlying document driver is unusable.
	ErrDriverUnavailable = errors.New("formfill: document driver unavailable")
)

// validateFunc checks an already-sanitized answer against a field's local
// constraints.
type validateFunc func(f *Field, value string) error

// fillFunc applies a value to a resolved live element.
type fillFunc func(fl *Filler, ctx context.Context, f *Field, selector, value string) error

// optionsMode describes where a field's option list comes from.
type optionsMode int

const (
	optionsNone   optionsMode = iota // free-form input, no option list
	optionsStatic                    // collected during discovery
	optionsLazy                      // resolved at fill time by opening the widget
)

// capability binds a field type to its option-lookup mode, fill strategy and
// validation rule. Dispatch goes through this table rather than type-string
// branching.
type capability struct {
	options  optionsMode
	fill     fillFunc
	validate validateFunc
}

var capabilities = map[FieldType]capability{
	FieldText:     {optionsNone, (*Filler).fillTyped, validateText},
	FieldPassword: {optionsNone, (*Filler).fillTyped, validateText},
	FieldTextarea: {optionsNone, (*Filler).fillTyped, validateText},
	FieldEmail:    {optionsNone, (*Filler).fillTyped, validateEmail},
	FieldTel:      {optionsNone, (*Filler).fillTyped, validatePhone},
	FieldURL:      {optionsNone, (*Filler).fillTyped, validateURL},
	FieldSelect:   {optionsStatic, (*Filler).fillSelect, validateOption},
	FieldRadio:    {optionsStatic, (*Filler).fillChecked, validateOption},
	FieldCheckbox: {optionsStatic, (*Filler).fillChecked, validateCheckbox},
	FieldNumber:   {optionsNone, (*Filler).fillValue, validateNumber},
	FieldRange:    {optionsNone, (*Filler).fillValue, validateNumber},
	FieldDate:     {optionsNone, (*Filler).fillValue, validateDate},
	FieldDatetime: {optionsNone, (*Filler).fillValue, validateDatetime},
	FieldTime:     {optionsNone, (*Filler).fillValue, validateTime},
	FieldMonth:    {optionsNone, (*Filler).fillValue, validateMonth},
	FieldWeek:     {optionsNone, (*Filler).fillValue, validateWeek},
	FieldColor:    {optionsNone, (*Filler).fillValue, validateColor},
	FieldFile:     {optionsNone, (*Filler).fillFile, validateText},
}

// capabilityFor returns the capability entry for a field, treating custom
// dropdown widgets as lazily-optioned selects.
func capabilityFor(f *Field) capability {
	c, ok := capabilities[f.Type]
	if !ok {
		c = capabilities[FieldText]
	}
	if f.CustomWidget && f.Type == FieldSelect {
		c.options = optionsLazy
		c.fill = (*Filler).fillCustomDropdown
	}
	return c
}
