package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
	"github.com/luminastream/studio/backend/internal/storeclient"
	"go.uber.org/zap"
)

const defaultSubmitTimeout = 10 * time.Second

// State enumerates the edit form lifecycle.
type State string

const (
	// StateIdle means no form is open.
	StateIdle State = "idle"
	// StateDrafting means a draft is being edited.
	StateDrafting State = "drafting"
	// StateSubmitting means a store call for the draft is outstanding.
	StateSubmitting State = "submitting"
	// StateDraftingWithError means the form stayed open with an error shown.
	StateDraftingWithError State = "drafting_with_error"
)

var (
	errMissingRegistry = errors.New("session: registry gateway is required")

	// ErrNoActiveDraft reports an operation that needs an open form.
	ErrNoActiveDraft = errors.New("session: no active draft")
	// ErrSubmitInProgress reports a submit while one is already outstanding.
	ErrSubmitInProgress = errors.New("session: submit already in progress")
)

// RegistryGateway is the mutation path the controller drives. All store
// traffic flows through the registry, which reconciles local state.
type RegistryGateway interface {
	Create(ctx context.Context, draft overlay.Draft) (overlay.Overlay, error)
	Update(ctx context.Context, id overlay.ID, draft overlay.Draft) (overlay.Overlay, error)
}

// Config wires the controller dependencies.
type Config struct {
	Registry      RegistryGateway
	SubmitTimeout time.Duration
	Logger        *zap.Logger
}

// Controller manages a single overlay draft through the
// Idle/Drafting/Submitting/DraftingWithError lifecycle. At most one draft is
// active; starting a new session cancels the previous one.
type Controller struct {
	registry      RegistryGateway
	submitTimeout time.Duration
	logger        *zap.Logger

	mu            sync.Mutex
	state         State
	draft         overlay.Draft
	editTarget    *overlay.ID
	validationErr *overlay.ValidationError
	storeErr      error
}

// NewController validates the configuration and constructs a Controller in
// the Idle state.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}

	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		registry:      cfg.Registry,
		submitTimeout: timeout,
		logger:        logger,
		state:         StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Draft returns a copy of the active draft.
func (c *Controller) Draft() overlay.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// ValidationError returns the field error that blocked the last submit, if any.
func (c *Controller) ValidationError() *overlay.ValidationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validationErr == nil {
		return nil
	}
	errCopy := *c.validationErr
	return &errCopy
}

// StoreError returns the store failure surfaced by the last submit, if any.
func (c *Controller) StoreError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeErr
}

// StartCreate opens a create form with the default draft, implicitly
// cancelling any active session.
func (c *Controller) StartCreate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.state = StateDrafting
	c.draft = overlay.Draft{
		Kind:     overlay.KindText,
		Color:    overlay.DefaultTextColor,
		Position: overlay.Position{X: 50, Y: 50},
		Size:     overlay.Size{Width: "150px", Height: "40px"},
	}
}

// StartEdit opens an edit form pre-populated with a copy of the target
// overlay, implicitly cancelling any active session.
func (c *Controller) StartEdit(target overlay.Overlay) error {
	targetID, err := overlay.NewID(target.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.state = StateDrafting
	c.draft = overlay.DraftOf(target)
	c.editTarget = &targetID
	return nil
}

// UpdateField mutates one draft field from its form string representation.
// The draft stays open; full validation runs at submit time.
func (c *Controller) UpdateField(field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDrafting && c.state != StateDraftingWithError {
		return ErrNoActiveDraft
	}

	switch field {
	case "name":
		c.draft.Name = value
	case "type":
		kind, err := overlay.ParseKind(value)
		if err != nil {
			return err
		}
		c.draft.Kind = kind
	case "content":
		c.draft.Content = value
	case "color":
		c.draft.Color = value
	case "width":
		c.draft.Size.Width = value
	case "height":
		c.draft.Size.Height = value
	case "x", "y":
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("session: field %s: %w", field, err)
		}
		if field == "x" {
			c.draft.Position.X = parsed
		} else {
			c.draft.Position.Y = parsed
		}
	default:
		return fmt.Errorf("session: unknown field %q", field)
	}
	return nil
}

// Submit validates the draft and routes it through the registry. Validation
// failures keep the form open without a network call; store failures return
// the form to an editable error state. A call that outlives the submit
// timeout surfaces as an unavailable store error.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return ErrSubmitInProgress
	}
	if c.state != StateDrafting && c.state != StateDraftingWithError {
		c.mu.Unlock()
		return ErrNoActiveDraft
	}

	normalized := overlay.NormalizeDraft(c.draft)
	if err := overlay.ValidateDraft(normalized); err != nil {
		var validationErr overlay.ValidationError
		errors.As(err, &validationErr)
		c.state = StateDraftingWithError
		c.validationErr = &validationErr
		c.storeErr = nil
		c.mu.Unlock()
		return err
	}

	c.state = StateSubmitting
	c.validationErr = nil
	c.storeErr = nil
	target := c.editTarget
	c.mu.Unlock()

	submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	var err error
	if target == nil {
		_, err = c.registry.Create(submitCtx, normalized)
	} else {
		_, err = c.registry.Update(submitCtx, *target, normalized)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSubmitting {
		// Cancelled or restarted while the call was outstanding; the session
		// outcome no longer applies.
		return err
	}
	if err != nil {
		c.state = StateDraftingWithError
		c.storeErr = normalizeSubmitError(err)
		c.logger.Warn("draft submit failed", zap.Error(err))
		return c.storeErr
	}
	c.resetLocked()
	return nil
}

// Cancel discards the draft unconditionally and returns to Idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.state = StateIdle
	c.draft = overlay.Draft{}
	c.editTarget = nil
	c.validationErr = nil
	c.storeErr = nil
}

// normalizeSubmitError maps a deadline expiry onto the unavailable store
// error kind so a hung store call cannot leave the form stuck.
func normalizeSubmitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &storeclient.StoreError{Kind: storeclient.KindUnavailable, Message: "store call timed out"}
	}
	var storeErr *storeclient.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return err
}
