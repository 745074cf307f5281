package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luminastream/studio/backend/internal/database"
	"github.com/luminastream/studio/backend/internal/overlay"
	"github.com/luminastream/studio/backend/internal/registry"
	"github.com/luminastream/studio/backend/internal/server"
	"github.com/luminastream/studio/backend/internal/session"
	"github.com/luminastream/studio/backend/internal/store"
	"github.com/luminastream/studio/backend/internal/storeclient"
	"github.com/luminastream/studio/backend/internal/surface"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sequentialIDProvider struct {
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("overlay-%03d", p.next), nil
}

// studioStack wires the persistence service behind a live HTTP server and the
// full client side on top of it: store client, registry, edit session
// controller, and composition surface.
type studioStack struct {
	server     *httptest.Server
	registry   *registry.Registry
	controller *session.Controller
	surface    *surface.Surface
}

func newStudioStack(t *testing.T) *studioStack {
	t.Helper()

	dsn := fmt.Sprintf("file:integration-%s?mode=memory&cache=shared", t.Name())
	db, err := database.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected handle error: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	service, err := store.NewService(store.ServiceConfig{
		Database:   db,
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		StoreService: service,
		Dispatcher:   server.NewChangeDispatcher(),
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)

	client, err := storeclient.NewClient(storeclient.ClientConfig{BaseURL: testServer.URL})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	overlayRegistry, err := registry.New(registry.Config{Store: client})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}

	controller, err := session.NewController(session.Config{Registry: overlayRegistry})
	if err != nil {
		t.Fatalf("unexpected controller error: %v", err)
	}

	compositionSurface, err := surface.New(surface.Config{
		Registry:    overlayRegistry,
		VideoSource: "rtsp://example.com/live",
		Bounds:      surface.Bounds{Width: 640, Height: 480},
	})
	if err != nil {
		t.Fatalf("unexpected surface error: %v", err)
	}

	return &studioStack{
		server:     testServer,
		registry:   overlayRegistry,
		controller: controller,
		surface:    compositionSurface,
	}
}

func (s *studioStack) createOverlay(t *testing.T, name, content string) overlay.Overlay {
	t.Helper()
	s.controller.StartCreate()
	if err := s.controller.UpdateField("name", name); err != nil {
		t.Fatalf("unexpected field error: %v", err)
	}
	if err := s.controller.UpdateField("content", content); err != nil {
		t.Fatalf("unexpected field error: %v", err)
	}
	if err := s.controller.Submit(context.Background()); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	overlays := s.registry.All()
	for _, record := range overlays {
		if record.Name == name {
			return record
		}
	}
	t.Fatalf("created overlay %q missing from registry", name)
	return overlay.Overlay{}
}

func awaitPersist(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected persist failure: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for geometry persist")
	}
}

func TestCreateEditDragDeleteWorkflow(t *testing.T) {
	stack := newStudioStack(t)

	created := stack.createOverlay(t, "Lower Third", "Hello")
	if created.Color != overlay.DefaultTextColor {
		t.Fatalf("expected default color persisted, got %q", created.Color)
	}
	if stack.controller.State() != session.StateIdle {
		t.Fatalf("expected idle after create, got %s", stack.controller.State())
	}

	// Edit the overlay through the session controller.
	if err := stack.controller.StartEdit(created); err != nil {
		t.Fatalf("unexpected edit error: %v", err)
	}
	if err := stack.controller.UpdateField("content", "Updated text"); err != nil {
		t.Fatalf("unexpected field error: %v", err)
	}
	if err := stack.controller.Submit(context.Background()); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	createdID, err := overlay.NewID(created.ID)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}
	edited, ok := stack.registry.Get(createdID)
	if !ok || edited.Content != "Updated text" {
		t.Fatalf("expected edited overlay in registry, got %+v", edited)
	}

	// Drag it; the commit resolves against the live store.
	done, err := stack.surface.DragEnd(context.Background(), createdID, overlay.Position{X: 300, Y: 200})
	if err != nil {
		t.Fatalf("unexpected drag error: %v", err)
	}
	awaitPersist(t, done)

	// A refresh from the store must agree with local state.
	if err := stack.registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	refreshed, ok := stack.registry.Get(createdID)
	if !ok {
		t.Fatalf("overlay missing after refresh")
	}
	if refreshed.PositionX != 300 || refreshed.PositionY != 200 {
		t.Fatalf("expected persisted drag position, got %+v", refreshed)
	}
	if refreshed.Content != "Updated text" {
		t.Fatalf("expected persisted edit, got %+v", refreshed)
	}

	// Delete removes the overlay on both sides.
	if err := stack.registry.Delete(context.Background(), createdID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, ok := stack.registry.Get(createdID); ok {
		t.Fatalf("expected overlay removed locally")
	}
	if err := stack.registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if remaining := stack.registry.All(); len(remaining) != 0 {
		t.Fatalf("expected empty store after delete, got %+v", remaining)
	}
}

func TestRapidDragsSettleOnFinalPosition(t *testing.T) {
	stack := newStudioStack(t)
	created := stack.createOverlay(t, "Draggable", "catch me")
	createdID, err := overlay.NewID(created.ID)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}

	var lastDone <-chan error
	for step := 1; step <= 5; step++ {
		done, err := stack.surface.DragEnd(context.Background(), createdID, overlay.Position{X: step * 50, Y: step * 30})
		if err != nil {
			t.Fatalf("unexpected drag error at step %d: %v", step, err)
		}
		lastDone = done
	}

	select {
	case err := <-lastDone:
		if err != nil {
			t.Fatalf("final drag persist failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for final drag")
	}

	// Drain persists, then confirm the stored geometry matches the last drag.
	if err := stack.registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	final, ok := stack.registry.Get(createdID)
	if !ok {
		t.Fatalf("overlay missing after refresh")
	}
	if final.PositionX != 250 || final.PositionY != 150 {
		t.Fatalf("expected final drag position 250,150, got %d,%d", final.PositionX, final.PositionY)
	}
}

func TestValidationFailureNeverReachesStore(t *testing.T) {
	stack := newStudioStack(t)

	stack.controller.StartCreate()
	if err := stack.controller.UpdateField("type", "logo"); err != nil {
		t.Fatalf("unexpected field error: %v", err)
	}
	if err := stack.controller.UpdateField("name", "Broken logo"); err != nil {
		t.Fatalf("unexpected field error: %v", err)
	}
	if err := stack.controller.UpdateField("content", "not-a-url"); err != nil {
		t.Fatalf("unexpected field error: %v", err)
	}

	err := stack.controller.Submit(context.Background())
	var validationErr overlay.ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != overlay.FieldContent {
		t.Fatalf("expected content validation error, got %v", err)
	}
	if stack.controller.State() != session.StateDraftingWithError {
		t.Fatalf("expected drafting_with_error, got %s", stack.controller.State())
	}

	if err := stack.registry.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	if overlays := stack.registry.All(); len(overlays) != 0 {
		t.Fatalf("expected nothing persisted, got %+v", overlays)
	}
}

func TestStoreOutageSurfacesAndRecovers(t *testing.T) {
	stack := newStudioStack(t)
	created := stack.createOverlay(t, "Fragile", "hello")
	createdID, err := overlay.NewID(created.ID)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}

	// Render before the outage to capture the baseline frame.
	frame := stack.surface.RenderFrame(context.Background())
	if len(frame.Layers) != 1 || frame.Layers[0].Text != "hello" {
		t.Fatalf("unexpected baseline frame: %+v", frame.Layers)
	}

	stack.server.Close()

	done, err := stack.surface.DragEnd(context.Background(), createdID, overlay.Position{X: 400, Y: 300})
	if err != nil {
		t.Fatalf("unexpected drag error: %v", err)
	}
	select {
	case persistErr := <-done:
		var storeErr *storeclient.StoreError
		if !errors.As(persistErr, &storeErr) || storeErr.Kind != storeclient.KindUnavailable {
			t.Fatalf("expected unavailable store error, got %v", persistErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for failed persist")
	}

	// Rollback restored the last confirmed geometry.
	rolledBack, ok := stack.registry.Get(createdID)
	if !ok {
		t.Fatalf("overlay missing after rollback")
	}
	if rolledBack.PositionX != created.PositionX || rolledBack.PositionY != created.PositionY {
		t.Fatalf("expected rollback to %d,%d, got %d,%d",
			created.PositionX, created.PositionY, rolledBack.PositionX, rolledBack.PositionY)
	}

	// The composition keeps rendering from local state during the outage.
	frame = stack.surface.RenderFrame(context.Background())
	if len(frame.Layers) != 1 {
		t.Fatalf("expected overlay still rendered during outage, got %+v", frame.Layers)
	}
}
