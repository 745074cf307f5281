package overlay

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates supported overlay content types.
type Kind string

const (
	// KindText renders the overlay content as styled text.
	KindText Kind = "text"
	// KindLogo renders the overlay content URL as an image.
	KindLogo Kind = "logo"
)

// DefaultTextColor is stored explicitly whenever a text draft omits a color,
// so downstream consumers never need to know the defaulting rule.
const DefaultTextColor = "#000000"

const maxIdentifierLength = 190

var (
	// ErrInvalidOverlayID indicates that an overlay identifier is empty or exceeds storage bounds.
	ErrInvalidOverlayID = errors.New("overlay: invalid overlay id")
	// ErrInvalidKind indicates an overlay type outside the supported set.
	ErrInvalidKind = errors.New("overlay: invalid overlay type")
)

// ID represents a validated overlay identifier.
type ID string

// NewID validates raw input and returns an ID.
func NewID(rawInput string) (ID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOverlayID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOverlayID, maxIdentifierLength)
	}
	return ID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ID) String() string {
	return string(id)
}

// ParseKind validates raw input against the supported overlay types.
func ParseKind(rawInput string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case KindText:
		return KindText, nil
	case KindLogo:
		return KindLogo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, rawInput)
	}
}

// Position locates an overlay within the composition surface, in pixels from
// the surface origin. Components are never negative.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size carries the overlay dimensions as value+unit strings (e.g. "150px").
// Bare numerals are accepted and treated as pixels.
type Size struct {
	Width  string `json:"width"`
	Height string `json:"height"`
}

// Geometry groups the two interactively mutated fields.
type Geometry struct {
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// Overlay models the persisted overlay entity.
type Overlay struct {
	ID               string `gorm:"column:overlay_id;primaryKey;size:190;not null" json:"id"`
	Name             string `gorm:"column:name;size:190;not null" json:"name"`
	Kind             Kind   `gorm:"column:kind;size:16;not null" json:"type"`
	Content          string `gorm:"column:content;type:text;not null" json:"content"`
	Color            string `gorm:"column:color;size:16;not null;default:''" json:"color,omitempty"`
	PositionX        int    `gorm:"column:position_x;not null;default:0" json:"-"`
	PositionY        int    `gorm:"column:position_y;not null;default:0" json:"-"`
	Width            string `gorm:"column:width;size:32;not null" json:"-"`
	Height           string `gorm:"column:height;size:32;not null" json:"-"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_overlays_created,priority:1" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Overlay) TableName() string {
	return "overlays"
}

// Geometry assembles the overlay's position and size fields.
func (o Overlay) Geometry() Geometry {
	return Geometry{
		Position: Position{X: o.PositionX, Y: o.PositionY},
		Size:     Size{Width: o.Width, Height: o.Height},
	}
}

// WithGeometry returns a copy of the overlay carrying the provided geometry.
func (o Overlay) WithGeometry(geometry Geometry) Overlay {
	o.PositionX = geometry.Position.X
	o.PositionY = geometry.Position.Y
	o.Width = geometry.Size.Width
	o.Height = geometry.Size.Height
	return o
}

// Draft carries the mutable overlay fields supplied by the edit form. The id
// is absent: the persistence service assigns it on creation.
type Draft struct {
	Name     string   `json:"name"`
	Kind     Kind     `json:"type"`
	Content  string   `json:"content"`
	Color    string   `json:"color,omitempty"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// DraftOf extracts an editable draft from an existing overlay.
func DraftOf(existing Overlay) Draft {
	return Draft{
		Name:     existing.Name,
		Kind:     existing.Kind,
		Content:  existing.Content,
		Color:    existing.Color,
		Position: Position{X: existing.PositionX, Y: existing.PositionY},
		Size:     Size{Width: existing.Width, Height: existing.Height},
	}
}
