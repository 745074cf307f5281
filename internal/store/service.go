package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrOverlayNotFound indicates that no overlay exists for the requested identifier.
	ErrOverlayNotFound = errors.New("store: overlay not found")
)

// ServiceError carries an operation.reason code alongside the wrapped cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "store.service.new"
	opListOverlays  = "store.list_overlays"
	opCreateOverlay = "store.create_overlay"
	opUpdateOverlay = "store.update_overlay"
	opDeleteOverlay = "store.delete_overlay"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidDraft      = "invalid_draft"
	reasonImmutableKind     = "immutable_kind"
	reasonQueryFailed       = "query_failed"
	reasonIDGeneration      = "id_generation_failed"
	reasonInsertFailed      = "insert_failed"
	reasonSaveFailed        = "save_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonNotFound          = "not_found"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the persistence service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider overlay.IDProvider
	Logger     *zap.Logger
}

// Service persists overlays and streams behind the HTTP API.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider overlay.IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Ping reports whether the backing database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// OverlayPatch carries the optional fields of a partial overlay update. Nil
// fields are left untouched.
type OverlayPatch struct {
	Name     *string
	Kind     *overlay.Kind
	Content  *string
	Color    *string
	Position *overlay.Position
	Size     *overlay.Size
}

// ListOverlays returns every persisted overlay in creation order.
func (s *Service) ListOverlays(ctx context.Context) ([]overlay.Overlay, error) {
	var overlays []overlay.Overlay
	if err := s.db.WithContext(ctx).
		Order("created_at_s ASC, overlay_id ASC").
		Find(&overlays).Error; err != nil {
		s.logError(opListOverlays, reasonQueryFailed, err)
		return nil, newServiceError(opListOverlays, reasonQueryFailed, err)
	}
	return overlays, nil
}

// CreateOverlay validates the draft, assigns an identifier, and persists the
// new overlay.
func (s *Service) CreateOverlay(ctx context.Context, draft overlay.Draft) (overlay.Overlay, error) {
	normalized := overlay.NormalizeDraft(draft)
	if err := overlay.ValidateDraft(normalized); err != nil {
		return overlay.Overlay{}, newServiceError(opCreateOverlay, reasonInvalidDraft, err)
	}

	overlayID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateOverlay, reasonIDGeneration, err)
		return overlay.Overlay{}, newServiceError(opCreateOverlay, reasonIDGeneration, err)
	}

	now := s.clock().UTC().Unix()
	record := overlay.Overlay{
		ID:               overlayID,
		Name:             normalized.Name,
		Kind:             normalized.Kind,
		Content:          normalized.Content,
		Color:            normalized.Color,
		PositionX:        normalized.Position.X,
		PositionY:        normalized.Position.Y,
		Width:            normalized.Size.Width,
		Height:           normalized.Size.Height,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateOverlay, reasonInsertFailed, err, zap.String("overlay_id", overlayID))
		return overlay.Overlay{}, newServiceError(opCreateOverlay, reasonInsertFailed, err)
	}

	return record, nil
}

// UpdateOverlay applies a partial update to an existing overlay. The merged
// result is re-validated before it is saved so a patch can never push a
// stored overlay outside the entity rules.
func (s *Service) UpdateOverlay(ctx context.Context, id overlay.ID, patch OverlayPatch) (overlay.Overlay, error) {
	var updated overlay.Overlay
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing overlay.Overlay
		err := tx.Where("overlay_id = ?", id.String()).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateOverlay, reasonNotFound, ErrOverlayNotFound)
		}
		if err != nil {
			s.logError(opUpdateOverlay, reasonQueryFailed, err, zap.String("overlay_id", id.String()))
			return newServiceError(opUpdateOverlay, reasonQueryFailed, err)
		}

		// The overlay type is immutable after creation; a type change is
		// modeled as delete+create by the caller.
		if patch.Kind != nil && *patch.Kind != existing.Kind {
			return newServiceError(opUpdateOverlay, reasonImmutableKind, overlay.ErrInvalidKind)
		}

		merged := applyPatch(existing, patch)
		draft := overlay.NormalizeDraft(overlay.DraftOf(merged))
		if err := overlay.ValidateDraft(draft); err != nil {
			return newServiceError(opUpdateOverlay, reasonInvalidDraft, err)
		}

		merged.Name = draft.Name
		merged.Content = draft.Content
		merged.Color = draft.Color
		merged.PositionX = draft.Position.X
		merged.PositionY = draft.Position.Y
		merged.UpdatedAtSeconds = s.clock().UTC().Unix()

		if err := tx.Save(&merged).Error; err != nil {
			s.logError(opUpdateOverlay, reasonSaveFailed, err, zap.String("overlay_id", id.String()))
			return newServiceError(opUpdateOverlay, reasonSaveFailed, err)
		}
		updated = merged
		return nil
	})
	if txErr != nil {
		return overlay.Overlay{}, txErr
	}
	return updated, nil
}

// DeleteOverlay removes the overlay with the provided identifier.
func (s *Service) DeleteOverlay(ctx context.Context, id overlay.ID) error {
	result := s.db.WithContext(ctx).Where("overlay_id = ?", id.String()).Delete(&overlay.Overlay{})
	if result.Error != nil {
		s.logError(opDeleteOverlay, reasonDeleteFailed, result.Error, zap.String("overlay_id", id.String()))
		return newServiceError(opDeleteOverlay, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteOverlay, reasonNotFound, ErrOverlayNotFound)
	}
	return nil
}

func applyPatch(existing overlay.Overlay, patch OverlayPatch) overlay.Overlay {
	merged := existing
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Kind != nil {
		merged.Kind = *patch.Kind
	}
	if patch.Content != nil {
		merged.Content = *patch.Content
	}
	if patch.Color != nil {
		merged.Color = *patch.Color
	}
	if patch.Position != nil {
		merged.PositionX = patch.Position.X
		merged.PositionY = patch.Position.Y
	}
	if patch.Size != nil {
		merged.Width = patch.Size.Width
		merged.Height = patch.Size.Height
	}
	return merged
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store service error", attrs...)
}
