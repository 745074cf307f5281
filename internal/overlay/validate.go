package overlay

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	// FieldName scopes a validation error to the display label.
	FieldName = "name"
	// FieldKind scopes a validation error to the overlay type.
	FieldKind = "type"
	// FieldContent scopes a validation error to the content payload.
	FieldContent = "content"
	// FieldColor scopes a validation error to the text color.
	FieldColor = "color"
	// FieldSize scopes a validation error to the width/height pair.
	FieldSize = "size"
)

const (
	// ReasonRequired marks an empty mandatory field.
	ReasonRequired = "required"
	// ReasonUnsupported marks an overlay type outside {text, logo}.
	ReasonUnsupported = "unsupported"
	// ReasonInvalidURL marks logo content that is not an absolute URL.
	ReasonInvalidURL = "invalid_url"
	// ReasonInvalidFormat marks a color outside the #RRGGBB pattern.
	ReasonInvalidFormat = "invalid_format"
	// ReasonNonPositive marks a dimension that does not parse to a positive magnitude.
	ReasonNonPositive = "non_positive"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var dimensionPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([a-z%]*)$`)

// ValidationError reports the first field that violates a draft rule.
// Validation errors are resolved locally and never reach the store.
type ValidationError struct {
	Field  string
	Reason string
}

// Error satisfies the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("overlay: field %s %s", e.Field, e.Reason)
}

// NormalizeDraft substitutes defaults the validator treats as caller
// responsibilities: missing position components clamp to zero and a text
// draft without a color receives the explicit default.
func NormalizeDraft(draft Draft) Draft {
	if draft.Position.X < 0 {
		draft.Position.X = 0
	}
	if draft.Position.Y < 0 {
		draft.Position.Y = 0
	}
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Content = strings.TrimSpace(draft.Content)
	if draft.Kind == KindText && strings.TrimSpace(draft.Color) == "" {
		draft.Color = DefaultTextColor
	}
	if draft.Kind == KindLogo {
		draft.Color = ""
	}
	return draft
}

// ValidateDraft checks a normalized draft against the per-field rules and
// returns the first violation found.
func ValidateDraft(draft Draft) error {
	if strings.TrimSpace(draft.Name) == "" {
		return ValidationError{Field: FieldName, Reason: ReasonRequired}
	}
	if _, err := ParseKind(string(draft.Kind)); err != nil {
		return ValidationError{Field: FieldKind, Reason: ReasonUnsupported}
	}
	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return ValidationError{Field: FieldContent, Reason: ReasonRequired}
	}
	if draft.Kind == KindLogo {
		parsed, err := url.Parse(content)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return ValidationError{Field: FieldContent, Reason: ReasonInvalidURL}
		}
	}
	if draft.Color != "" && !colorPattern.MatchString(draft.Color) {
		return ValidationError{Field: FieldColor, Reason: ReasonInvalidFormat}
	}
	if _, err := ParseDimension(draft.Size.Width); err != nil {
		return ValidationError{Field: FieldSize, Reason: ReasonNonPositive}
	}
	if _, err := ParseDimension(draft.Size.Height); err != nil {
		return ValidationError{Field: FieldSize, Reason: ReasonNonPositive}
	}
	return nil
}

// ParseDimension extracts the numeric magnitude from a value+unit dimension
// string. Bare numerals are treated as pixels. Zero, negative, and
// unparseable values are rejected.
func ParseDimension(raw string) (float64, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	matches := dimensionPattern.FindStringSubmatch(trimmed)
	if matches == nil {
		return 0, fmt.Errorf("overlay: unparseable dimension %q", raw)
	}
	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("overlay: unparseable dimension %q", raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("overlay: non-positive dimension %q", raw)
	}
	return value, nil
}
