// internal/formfill/validate.go
package formfill

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Sanitize normalizes a raw human answer: trims, collapses internal
// whitespace and newlines into single spaces, and strips control characters
// and anything outside the basic printable Unicode range.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// dropped
		case r > 0xFFFD:
			// dropped: outside the safe range
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	colorPattern = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)
	weekPattern  = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	monthPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	timePattern  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

	// Phone formats accepted after separator stripping: E.164-style
	// international, 11-digit NANP with country code, 10-digit local and
	// 7-digit short local numbers.
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\+\d{8,15}$`),
		regexp.MustCompile(`^1\d{10}$`),
		regexp.MustCompile(`^\d{10}$`),
		regexp.MustCompile(`^\d{7}$`),
	}

	colorNames = map[string]bool{
		"black": true, "white": true, "red": true, "green": true,
		"blue": true, "yellow": true, "orange": true, "purple": true,
		"pink": true, "brown": true, "gray": true, "grey": true,
		"cyan": true, "magenta": true, "silver": true, "gold": true,
	}

	truthyTokens = map[string]bool{
		"yes": true, "y": true, "true": true, "1": true,
		"on": true, "check": true, "checked": true,
	}
	falsyTokens = map[string]bool{
		"no": true, "n": true, "false": true, "0": true,
		"off": true, "uncheck": true, "unchecked": true,
	}
)

func requireNonEmpty(f *Field, value string) error {
	if f.Required && value == "" {
		return fmt.Errorf("%s is required", f.Label)
	}
	return nil
}

func validateText(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if f.MinLength > 0 && len(value) < f.MinLength {
		return fmt.Errorf("%s must be at least %d characters", f.Label, f.MinLength)
	}
	if f.MaxLength > 0 && len(value) > f.MaxLength {
		return fmt.Errorf("%s must be at most %d characters", f.Label, f.MaxLength)
	}
	return nil
}

func validateEmail(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if !emailPattern.MatchString(value) {
		return fmt.Errorf("%q is not a valid email address", value)
	}
	return nil
}

func validatePhone(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '/':
			return -1
		}
		return r
	}, value)
	for _, p := range phonePatterns {
		if p.MatchString(stripped) {
			return nil
		}
	}
	return fmt.Errorf("%q is not a recognizable phone number", value)
}

func validateNumber(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", value)
	}
	if f.Min != "" {
		if min, err := strconv.ParseFloat(f.Min, 64); err == nil && n < min {
			return fmt.Errorf("%s must be at least %s", f.Label, f.Min)
		}
	}
	if f.Max != "" {
		if max, err := strconv.ParseFloat(f.Max, 64); err == nil && n > max {
			return fmt.Errorf("%s must be at most %s", f.Label, f.Max)
		}
	}
	return nil
}

func validateDate(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		return fmt.Errorf("%q is not a valid date, expected YYYY-MM-DD", value)
	}
	if f.Min != "" {
		if min, err := time.Parse("2006-01-02", f.Min); err == nil && d.Before(min) {
			return fmt.Errorf("%s must not be before %s", f.Label, f.Min)
		}
	}
	if f.Max != "" {
		if max, err := time.Parse("2006-01-02", f.Max); err == nil && d.After(max) {
			return fmt.Errorf("%s must not be after %s", f.Label, f.Max)
		}
	}
	return nil
}

func validateDatetime(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02T15:04", value); err != nil {
		return fmt.Errorf("%q is not a valid date and time, expected YYYY-MM-DDTHH:MM", value)
	}
	return nil
}

func validateTime(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if !timePattern.MatchString(value) {
		return fmt.Errorf("%q is not a valid 24-hour time, expected HH:MM", value)
	}
	return nil
}

func validateMonth(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	m := monthPattern.FindStringSubmatch(value)
	if m == nil {
		return fmt.Errorf("%q is not a valid month, expected YYYY-MM", value)
	}
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return fmt.Errorf("month %d is out of range 1-12", month)
	}
	return nil
}

func validateWeek(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	m := weekPattern.FindStringSubmatch(value)
	if m == nil {
		return fmt.Errorf("%q is not a valid week, expected YYYY-Www", value)
	}
	week, _ := strconv.Atoi(m[2])
	if week < 1 || week > 53 {
		return fmt.Errorf("week %d is out of range 1-53", week)
	}
	return nil
}

func validateColor(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if colorPattern.MatchString(value) || colorNames[strings.ToLower(value)] {
		return nil
	}
	return fmt.Errorf("%q is not a valid color, expected a 6-digit hex code or a common color name", value)
}

func validateURL(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	candidate := value
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || !strings.Contains(u.Host, ".") {
		return fmt.Errorf("%q is not a valid web address", value)
	}
	return nil
}

func validateCheckbox(f *Field, value string) error {
	// Checkbox groups carry options and validate like selects.
	if len(f.Options) > 0 {
		return validateOption(f, value)
	}
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	token := strings.ToLower(value)
	if !truthyTokens[token] && !falsyTokens[token] {
		return fmt.Errorf("%q is not a yes/no answer (try yes, no, true or false)", value)
	}
	return nil
}

func validateOption(f *Field, value string) error {
	if err := requireNonEmpty(f, value); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	// Options unresolved until fill time: accept and let the fill strategy's
	// free-text fallback handle mismatches.
	if len(f.Options) == 0 {
		return nil
	}
	if _, err := ResolveOption(f, value); err != nil {
		return err
	}
	return nil
}

// ResolveOption maps a human answer to one of the field's options: an
// in-range 1-based index wins, then an exact case-insensitive match, then the
// first case-insensitive substring match.
func ResolveOption(f *Field, answer string) (string, error) {
	if len(f.Options) == 0 {
		return answer, nil
	}
	if idx, err := strconv.Atoi(strings.TrimSpace(answer)); err == nil {
		if idx >= 1 && idx <= len(f.Options) {
			return f.Options[idx-1], nil
		}
		return "", fmt.Errorf("choice %d is out of range, pick 1-%d or one of: %s",
			idx, len(f.Options), strings.Join(f.Options, ", "))
	}
	lowered := strings.ToLower(answer)
	for _, opt := range f.Options {
		if strings.ToLower(opt) == lowered {
			return opt, nil
		}
	}
	for _, opt := range f.Options {
		if strings.Contains(strings.ToLower(opt), lowered) {
			return opt, nil
		}
	}
	return "", fmt.Errorf("%q does not match any option, valid choices are: %s",
		answer, strings.Join(f.Options, ", "))
}

// IsAffirmative reports whether a sanitized answer is one of the accepted
// truthy tokens. Unrecognized tokens are false.
func IsAffirmative(value string) bool {
	return truthyTokens[strings.ToLower(strings.TrimSpace(value))]
}

// Validate runs the field's type-specific local validation rule.
func Validate(f *Field, value string) error {
	return capabilityFor(f).validate(f, value)
}
