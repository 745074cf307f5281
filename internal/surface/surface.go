package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
	"go.uber.org/zap"
)

const (
	defaultMinVisible  = 20
	defaultFetchLimit  = 8 << 20
	defaultFetchWindow = 10 * time.Second
)

var errMissingRegistry = errors.New("surface: registry is required")

// RegistryView is the slice of the registry the surface needs: the ordered
// overlay set plus the geometry commit path.
type RegistryView interface {
	All() []overlay.Overlay
	Get(id overlay.ID) (overlay.Overlay, bool)
	CommitGeometry(ctx context.Context, id overlay.ID, geometry overlay.Geometry) (<-chan error, error)
}

// LogoFetcher resolves a logo content URL to image bytes.
type LogoFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Bounds is the pixel extent of the composition surface.
type Bounds struct {
	Width  int
	Height int
}

// VideoLayer mounts the external video source underneath every overlay.
type VideoLayer struct {
	SourceURL string
	Bounds    Bounds
}

// Layer is one positioned overlay in a rendered frame. Logo layers whose
// image could not be fetched stay in the frame with Image nil and
// ImageMissing set; the overlay's metadata remains intact.
type Layer struct {
	OverlayID    string
	Kind         overlay.Kind
	Name         string
	Position     overlay.Position
	Size         overlay.Size
	Text         string
	Color        string
	Image        []byte
	ImageMissing bool
}

// Frame is a pure description of one rendered composition: the video source
// rect plus overlay layers stacked above it in registry order.
type Frame struct {
	Video  VideoLayer
	Layers []Layer
}

// Config wires the composition surface.
type Config struct {
	Registry    RegistryView
	VideoSource string
	Bounds      Bounds
	MinVisible  int
	Logos       LogoFetcher
	Logger      *zap.Logger
}

// Surface composes the overlay set over the video source and translates
// drag/resize interactions into registry geometry commits. It owns no
// overlay state of its own.
type Surface struct {
	registry    RegistryView
	videoSource string
	minVisible  int
	logos       LogoFetcher
	logger      *zap.Logger

	mu     sync.Mutex
	bounds Bounds
}

// New validates the configuration and constructs a Surface.
func New(cfg Config) (*Surface, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}

	minVisible := cfg.MinVisible
	if minVisible <= 0 {
		minVisible = defaultMinVisible
	}

	logos := cfg.Logos
	if logos == nil {
		logos = NewHTTPLogoFetcher(nil)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Surface{
		registry:    cfg.Registry,
		videoSource: cfg.VideoSource,
		minVisible:  minVisible,
		logos:       logos,
		logger:      logger,
		bounds:      cfg.Bounds,
	}, nil
}

// SetBounds records a surface resize. Stored overlay geometry is never moved
// retroactively; the new bounds apply to subsequent drags only.
func (s *Surface) SetBounds(bounds Bounds) {
	s.mu.Lock()
	s.bounds = bounds
	s.mu.Unlock()
}

// RenderFrame produces the current composition without side effects on
// overlay state. A logo whose content URL cannot be fetched degrades to a
// hidden image; the failure is logged and swallowed here since the overlay's
// other metadata remains valid.
func (s *Surface) RenderFrame(ctx context.Context) Frame {
	s.mu.Lock()
	bounds := s.bounds
	s.mu.Unlock()

	overlays := s.registry.All()
	frame := Frame{
		Video:  VideoLayer{SourceURL: s.videoSource, Bounds: bounds},
		Layers: make([]Layer, 0, len(overlays)),
	}

	for _, record := range overlays {
		layer := Layer{
			OverlayID: record.ID,
			Kind:      record.Kind,
			Name:      record.Name,
			Position:  overlay.Position{X: record.PositionX, Y: record.PositionY},
			Size:      overlay.Size{Width: record.Width, Height: record.Height},
		}
		switch record.Kind {
		case overlay.KindText:
			layer.Text = record.Content
			layer.Color = record.Color
			if layer.Color == "" {
				layer.Color = overlay.DefaultTextColor
			}
		case overlay.KindLogo:
			image, err := s.logos.Fetch(ctx, record.Content)
			if err != nil {
				s.logger.Debug("logo fetch failed",
					zap.String("overlay_id", record.ID),
					zap.String("url", record.Content),
					zap.Error(err))
				layer.ImageMissing = true
			} else {
				layer.Image = image
			}
		}
		frame.Layers = append(frame.Layers, layer)
	}

	return frame
}

// DragEnd commits a reposition. The position is clamped so the overlay keeps
// a minimum visible footprint inside the surface bounds; clamping shapes the
// committed value only and never rejects the interaction.
func (s *Surface) DragEnd(ctx context.Context, id overlay.ID, position overlay.Position) (<-chan error, error) {
	current, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("surface: drag target %s: unknown overlay", id.String())
	}

	geometry := current.Geometry()
	geometry.Position = s.clamp(position)
	return s.registry.CommitGeometry(ctx, id, geometry)
}

// ResizeEnd commits a resize, keeping the overlay's current position.
func (s *Surface) ResizeEnd(ctx context.Context, id overlay.ID, size overlay.Size) (<-chan error, error) {
	if _, err := overlay.ParseDimension(size.Width); err != nil {
		return nil, err
	}
	if _, err := overlay.ParseDimension(size.Height); err != nil {
		return nil, err
	}

	current, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("surface: resize target %s: unknown overlay", id.String())
	}

	geometry := current.Geometry()
	geometry.Size = size
	return s.registry.CommitGeometry(ctx, id, geometry)
}

func (s *Surface) clamp(position overlay.Position) overlay.Position {
	s.mu.Lock()
	bounds := s.bounds
	s.mu.Unlock()

	clamped := position
	if clamped.X < 0 {
		clamped.X = 0
	}
	if clamped.Y < 0 {
		clamped.Y = 0
	}
	if bounds.Width > s.minVisible && clamped.X > bounds.Width-s.minVisible {
		clamped.X = bounds.Width - s.minVisible
	}
	if bounds.Height > s.minVisible && clamped.Y > bounds.Height-s.minVisible {
		clamped.Y = bounds.Height - s.minVisible
	}
	return clamped
}

// HTTPLogoFetcher fetches logo images over HTTP with a bounded body size.
type HTTPLogoFetcher struct {
	client *http.Client
}

// NewHTTPLogoFetcher constructs a fetcher; a nil client gets a default with
// a request timeout.
func NewHTTPLogoFetcher(client *http.Client) *HTTPLogoFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchWindow}
	}
	return &HTTPLogoFetcher{client: client}
}

// Fetch downloads the image bytes at the provided URL.
func (f *HTTPLogoFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	response, err := f.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("surface: logo fetch status %d", response.StatusCode)
	}
	return io.ReadAll(io.LimitReader(response.Body, defaultFetchLimit))
}
