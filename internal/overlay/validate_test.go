package overlay

import (
	"errors"
	"testing"
)

func validDraft() Draft {
	return Draft{
		Name:     "Title",
		Kind:     KindText,
		Content:  "Hello",
		Color:    "#FF0000",
		Position: Position{X: 10, Y: 20},
		Size:     Size{Width: "150px", Height: "40px"},
	}
}

func TestValidateDraftAcceptsValidDrafts(t *testing.T) {
	drafts := []Draft{
		validDraft(),
		{
			Name:    "Logo",
			Kind:    KindLogo,
			Content: "https://example.com/logo.png",
			Size:    Size{Width: "64px", Height: "64px"},
		},
		{
			Name:    "Bare numeric size",
			Kind:    KindText,
			Content: "plain",
			Size:    Size{Width: "150", Height: "40"},
		},
	}

	for _, draft := range drafts {
		if err := ValidateDraft(NormalizeDraft(draft)); err != nil {
			t.Fatalf("expected draft %q to validate, got %v", draft.Name, err)
		}
	}
}

func TestValidateDraftRejectsRuleViolations(t *testing.T) {
	tests := []struct {
		name           string
		mutate         func(*Draft)
		expectedField  string
		expectedReason string
	}{
		{
			name:           "empty-name",
			mutate:         func(d *Draft) { d.Name = "   " },
			expectedField:  FieldName,
			expectedReason: ReasonRequired,
		},
		{
			name:           "unknown-type",
			mutate:         func(d *Draft) { d.Kind = "banner" },
			expectedField:  FieldKind,
			expectedReason: ReasonUnsupported,
		},
		{
			name:           "empty-content",
			mutate:         func(d *Draft) { d.Content = "" },
			expectedField:  FieldContent,
			expectedReason: ReasonRequired,
		},
		{
			name: "relative-logo-url",
			mutate: func(d *Draft) {
				d.Kind = KindLogo
				d.Content = "/images/logo.png"
				d.Color = ""
			},
			expectedField:  FieldContent,
			expectedReason: ReasonInvalidURL,
		},
		{
			name: "schemeless-logo-url",
			mutate: func(d *Draft) {
				d.Kind = KindLogo
				d.Content = "example.com/logo.png"
				d.Color = ""
			},
			expectedField:  FieldContent,
			expectedReason: ReasonInvalidURL,
		},
		{
			name:           "short-color",
			mutate:         func(d *Draft) { d.Color = "#FFF" },
			expectedField:  FieldColor,
			expectedReason: ReasonInvalidFormat,
		},
		{
			name:           "color-missing-hash",
			mutate:         func(d *Draft) { d.Color = "FF0000" },
			expectedField:  FieldColor,
			expectedReason: ReasonInvalidFormat,
		},
		{
			name:           "zero-width",
			mutate:         func(d *Draft) { d.Size.Width = "0px" },
			expectedField:  FieldSize,
			expectedReason: ReasonNonPositive,
		},
		{
			name:           "negative-height",
			mutate:         func(d *Draft) { d.Size.Height = "-40px" },
			expectedField:  FieldSize,
			expectedReason: ReasonNonPositive,
		},
		{
			name:           "unparseable-width",
			mutate:         func(d *Draft) { d.Size.Width = "wide" },
			expectedField:  FieldSize,
			expectedReason: ReasonNonPositive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(&draft)

			err := ValidateDraft(draft)
			if err == nil {
				t.Fatalf("expected validation failure")
			}

			var validationErr ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if validationErr.Field != tt.expectedField {
				t.Fatalf("expected field %s, got %s", tt.expectedField, validationErr.Field)
			}
			if validationErr.Reason != tt.expectedReason {
				t.Fatalf("expected reason %s, got %s", tt.expectedReason, validationErr.Reason)
			}
		})
	}
}

func TestNormalizeDraftAppliesDefaults(t *testing.T) {
	draft := Draft{
		Name:     "  Title  ",
		Kind:     KindText,
		Content:  " Hello ",
		Position: Position{X: -5, Y: -1},
		Size:     Size{Width: "150px", Height: "40px"},
	}

	normalized := NormalizeDraft(draft)
	if normalized.Name != "Title" {
		t.Fatalf("expected trimmed name, got %q", normalized.Name)
	}
	if normalized.Content != "Hello" {
		t.Fatalf("expected trimmed content, got %q", normalized.Content)
	}
	if normalized.Color != DefaultTextColor {
		t.Fatalf("expected default color %s, got %q", DefaultTextColor, normalized.Color)
	}
	if normalized.Position.X != 0 || normalized.Position.Y != 0 {
		t.Fatalf("expected negative position clamped to origin, got %+v", normalized.Position)
	}
}

func TestNormalizeDraftClearsColorForLogos(t *testing.T) {
	draft := Draft{
		Name:    "Logo",
		Kind:    KindLogo,
		Content: "https://example.com/logo.png",
		Color:   "#123456",
		Size:    Size{Width: "64px", Height: "64px"},
	}

	normalized := NormalizeDraft(draft)
	if normalized.Color != "" {
		t.Fatalf("expected color cleared for logo overlays, got %q", normalized.Color)
	}
}

func TestParseDimension(t *testing.T) {
	tests := []struct {
		raw       string
		expectErr bool
		expected  float64
	}{
		{raw: "150px", expected: 150},
		{raw: "2.5em", expected: 2.5},
		{raw: "40", expected: 40},
		{raw: "75%", expected: 75},
		{raw: "0px", expectErr: true},
		{raw: "-40px", expectErr: true},
		{raw: "", expectErr: true},
		{raw: "px", expectErr: true},
	}

	for _, tt := range tests {
		value, err := ParseDimension(tt.raw)
		if tt.expectErr {
			if err == nil {
				t.Fatalf("expected error for %q", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.raw, err)
		}
		if value != tt.expected {
			t.Fatalf("expected %v for %q, got %v", tt.expected, tt.raw, value)
		}
	}
}

func TestParseKind(t *testing.T) {
	if kind, err := ParseKind(" Text "); err != nil || kind != KindText {
		t.Fatalf("expected text kind, got %v %v", kind, err)
	}
	if kind, err := ParseKind("logo"); err != nil || kind != KindLogo {
		t.Fatalf("expected logo kind, got %v %v", kind, err)
	}
	if _, err := ParseKind("banner"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestNewIDRejectsEmptyAndOversized(t *testing.T) {
	if _, err := NewID("   "); !errors.Is(err, ErrInvalidOverlayID) {
		t.Fatalf("expected ErrInvalidOverlayID for empty input, got %v", err)
	}

	oversized := make([]byte, maxIdentifierLength+1)
	for index := range oversized {
		oversized[index] = 'a'
	}
	if _, err := NewID(string(oversized)); !errors.Is(err, ErrInvalidOverlayID) {
		t.Fatalf("expected ErrInvalidOverlayID for oversized input, got %v", err)
	}

	id, err := NewID(" overlay-1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "overlay-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}
