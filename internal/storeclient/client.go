package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

var errMissingBaseURL = errors.New("storeclient: base url is required")

// ErrorKind classifies a store failure for the caller's retry policy.
type ErrorKind string

const (
	// KindNotFound means the overlay does not exist on the service.
	KindNotFound ErrorKind = "not_found"
	// KindInvalid means the service rejected the payload.
	KindInvalid ErrorKind = "invalid"
	// KindUnavailable means the service could not be reached or answered 5xx.
	KindUnavailable ErrorKind = "unavailable"
	// KindUnknown covers every other failure.
	KindUnknown ErrorKind = "unknown"
)

// StoreError is the normalized failure result of a store operation. The
// client never lets a transport error escape unwrapped.
type StoreError struct {
	Kind    ErrorKind
	Message string
}

// Error satisfies the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("storeclient: %s: %s", e.Kind, e.Message)
}

// OverlayPatch carries the optional fields of a partial overlay update. Nil
// fields are omitted from the request body.
type OverlayPatch struct {
	Name     *string           `json:"name,omitempty"`
	Type     *string           `json:"type,omitempty"`
	Content  *string           `json:"content,omitempty"`
	Color    *string           `json:"color,omitempty"`
	Position *overlay.Position `json:"position,omitempty"`
	Size     *overlay.Size     `json:"size,omitempty"`
}

// GeometryPatch builds the partial update issued on drag/resize end.
func GeometryPatch(geometry overlay.Geometry) OverlayPatch {
	position := geometry.Position
	size := geometry.Size
	return OverlayPatch{Position: &position, Size: &size}
}

// DraftPatch builds the full-field update issued by a form submission.
func DraftPatch(draft overlay.Draft) OverlayPatch {
	name := draft.Name
	kind := string(draft.Kind)
	content := draft.Content
	color := draft.Color
	position := draft.Position
	size := draft.Size
	return OverlayPatch{
		Name:     &name,
		Type:     &kind,
		Content:  &content,
		Color:    &color,
		Position: &position,
		Size:     &size,
	}
}

// ClientConfig wires the store client dependencies.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client is a stateless, concurrency-safe adapter to the overlay persistence
// service. Retry policy belongs to callers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type overlayPayload struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Type             string           `json:"type"`
	Content          string           `json:"content"`
	Color            string           `json:"color"`
	Position         overlay.Position `json:"position"`
	Size             overlay.Size     `json:"size"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	UpdatedAtSeconds int64            `json:"updated_at_s"`
}

func (p overlayPayload) toOverlay() overlay.Overlay {
	return overlay.Overlay{
		ID:               p.ID,
		Name:             p.Name,
		Kind:             overlay.Kind(p.Type),
		Content:          p.Content,
		Color:            p.Color,
		PositionX:        p.Position.X,
		PositionY:        p.Position.Y,
		Width:            p.Size.Width,
		Height:           p.Size.Height,
		CreatedAtSeconds: p.CreatedAtSeconds,
		UpdatedAtSeconds: p.UpdatedAtSeconds,
	}
}

// List fetches the full overlay set in creation order.
func (c *Client) List(ctx context.Context) ([]overlay.Overlay, error) {
	var payloads []overlayPayload
	if err := c.do(ctx, http.MethodGet, "/api/overlays", nil, &payloads); err != nil {
		return nil, err
	}
	overlays := make([]overlay.Overlay, 0, len(payloads))
	for _, payload := range payloads {
		overlays = append(overlays, payload.toOverlay())
	}
	return overlays, nil
}

// Create submits a pre-validated draft and returns the overlay with its
// service-assigned identifier.
func (c *Client) Create(ctx context.Context, draft overlay.Draft) (overlay.Overlay, error) {
	var payload overlayPayload
	if err := c.do(ctx, http.MethodPost, "/api/overlays", draft, &payload); err != nil {
		return overlay.Overlay{}, err
	}
	return payload.toOverlay(), nil
}

// Update submits a partial update for the identified overlay.
func (c *Client) Update(ctx context.Context, id overlay.ID, patch OverlayPatch) (overlay.Overlay, error) {
	var payload overlayPayload
	if err := c.do(ctx, http.MethodPut, "/api/overlays/"+id.String(), patch, &payload); err != nil {
		return overlay.Overlay{}, err
	}
	return payload.toOverlay(), nil
}

// Delete removes the identified overlay from the service.
func (c *Client) Delete(ctx context.Context, id overlay.ID) error {
	return c.do(ctx, http.MethodDelete, "/api/overlays/"+id.String(), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var requestBody *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &StoreError{Kind: KindUnknown, Message: err.Error()}
		}
		requestBody = bytes.NewReader(encoded)
	} else {
		requestBody = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, requestBody)
	if err != nil {
		return &StoreError{Kind: KindUnknown, Message: err.Error()}
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("store request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return &StoreError{Kind: KindUnavailable, Message: err.Error()}
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return c.normalizeFailure(response)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return &StoreError{Kind: KindUnknown, Message: err.Error()}
	}
	return nil
}

func (c *Client) normalizeFailure(response *http.Response) error {
	message := response.Status
	var errorBody struct {
		Error  string `json:"error"`
		Field  string `json:"field"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(response.Body).Decode(&errorBody); err == nil && errorBody.Error != "" {
		message = errorBody.Error
		if errorBody.Field != "" {
			message = fmt.Sprintf("%s: %s %s", errorBody.Error, errorBody.Field, errorBody.Reason)
		}
	}

	kind := KindUnknown
	switch {
	case response.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	case response.StatusCode == http.StatusBadRequest || response.StatusCode == http.StatusUnprocessableEntity:
		kind = KindInvalid
	case response.StatusCode >= http.StatusInternalServerError:
		kind = KindUnavailable
	}
	return &StoreError{Kind: kind, Message: message}
}
