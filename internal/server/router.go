package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/luminastream/studio/backend/internal/overlay"
	"github.com/luminastream/studio/backend/internal/store"
	"go.uber.org/zap"
)

const operatorSubjectContextKey = "studio_operator_subject"

const feedHeartbeatInterval = 25 * time.Second

var (
	errMissingStoreService  = errors.New("store service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates operator session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer. SessionTokens and StudioKey are
// optional; when either is absent the API runs without authentication.
type Dependencies struct {
	StoreService  *store.Service
	SessionTokens SessionTokenManager
	StudioKey     string
	Dispatcher    *ChangeDispatcher
	Metrics       *Metrics
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router for the overlay persistence API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.StoreService == nil {
		return nil, errMissingStoreService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		storeService: deps.StoreService,
		tokens:       deps.SessionTokens,
		studioKey:    deps.StudioKey,
		dispatcher:   deps.Dispatcher,
		metrics:      deps.Metrics,
		logger:       logger,
	}

	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", deps.Metrics.Handler())
	}

	router.GET("/api/health", handler.handleHealth)
	router.GET("/api/overlays", handler.handleListOverlays)
	router.GET("/api/overlays/feed", handler.handleOverlayFeed)
	router.GET("/api/streams", handler.handleListStreams)

	mutating := router.Group("/")
	if handler.authEnabled() {
		router.POST("/auth/session", handler.handleCreateSession)
		mutating.Use(handler.authorizeRequest)
	}
	mutating.POST("/api/overlays", handler.handleCreateOverlay)
	mutating.PUT("/api/overlays/:id", handler.handleUpdateOverlay)
	mutating.DELETE("/api/overlays/:id", handler.handleDeleteOverlay)
	mutating.POST("/api/streams", handler.handleCreateStream)

	return router, nil
}

type httpHandler struct {
	storeService *store.Service
	tokens       SessionTokenManager
	studioKey    string
	dispatcher   *ChangeDispatcher
	metrics      *Metrics
	logger       *zap.Logger
}

func (h *httpHandler) authEnabled() bool {
	return h.tokens != nil && h.studioKey != ""
}

type overlayPayload struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Type             string           `json:"type"`
	Content          string           `json:"content"`
	Color            string           `json:"color,omitempty"`
	Position         overlay.Position `json:"position"`
	Size             overlay.Size     `json:"size"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	UpdatedAtSeconds int64            `json:"updated_at_s"`
}

func toOverlayPayload(record overlay.Overlay) overlayPayload {
	return overlayPayload{
		ID:               record.ID,
		Name:             record.Name,
		Type:             string(record.Kind),
		Content:          record.Content,
		Color:            record.Color,
		Position:         overlay.Position{X: record.PositionX, Y: record.PositionY},
		Size:             overlay.Size{Width: record.Width, Height: record.Height},
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

type draftPayload struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	Color    string            `json:"color"`
	Position *overlay.Position `json:"position"`
	Size     *overlay.Size     `json:"size"`
}

type patchPayload struct {
	Name     *string           `json:"name"`
	Type     *string           `json:"type"`
	Content  *string           `json:"content"`
	Color    *string           `json:"color"`
	Position *overlay.Position `json:"position"`
	Size     *overlay.Size     `json:"size"`
}

type sessionRequestPayload struct {
	StudioKey string `json:"studio_key"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if err := h.storeService.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "database": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.StudioKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(request.StudioKey), []byte(h.studioKey)) != 1 {
		h.logger.Warn("studio key rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), "operator")
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleListOverlays(c *gin.Context) {
	overlays, err := h.storeService.ListOverlays(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list overlays", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	payloads := make([]overlayPayload, 0, len(overlays))
	for _, record := range overlays {
		payloads = append(payloads, toOverlayPayload(record))
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleCreateOverlay(c *gin.Context) {
	var request draftPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	draft := overlay.Draft{
		Name:    request.Name,
		Kind:    overlay.Kind(strings.ToLower(strings.TrimSpace(request.Type))),
		Content: request.Content,
		Color:   request.Color,
	}
	if request.Position != nil {
		draft.Position = *request.Position
	}
	if request.Size != nil {
		draft.Size = *request.Size
	}

	created, err := h.storeService.CreateOverlay(c.Request.Context(), draft)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	h.publish(ChangeEventCreated, created)
	c.JSON(http.StatusCreated, toOverlayPayload(created))
}

func (h *httpHandler) handleUpdateOverlay(c *gin.Context) {
	overlayID, err := overlay.NewID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var request patchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := store.OverlayPatch{
		Name:     request.Name,
		Content:  request.Content,
		Color:    request.Color,
		Position: request.Position,
		Size:     request.Size,
	}
	if request.Type != nil {
		kind, err := overlay.ParseKind(*request.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": overlay.FieldKind, "reason": overlay.ReasonUnsupported})
			return
		}
		patch.Kind = &kind
	}

	updated, err := h.storeService.UpdateOverlay(c.Request.Context(), overlayID, patch)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	h.publish(ChangeEventUpdated, updated)
	c.JSON(http.StatusOK, toOverlayPayload(updated))
}

func (h *httpHandler) handleDeleteOverlay(c *gin.Context) {
	overlayID, err := overlay.NewID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.storeService.DeleteOverlay(c.Request.Context(), overlayID); err != nil {
		h.respondStoreError(c, err)
		return
	}

	if h.dispatcher != nil {
		h.dispatcher.Publish(ChangeEvent{
			EventType: ChangeEventDeleted,
			OverlayID: overlayID.String(),
			Timestamp: time.Now().UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": "overlay deleted"})
}

type streamRequestPayload struct {
	Name    string `json:"name"`
	RTSPURL string `json:"rtsp_url"`
}

func (h *httpHandler) handleListStreams(c *gin.Context) {
	streams, err := h.storeService.ListStreams(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list streams", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, streams)
}

func (h *httpHandler) handleCreateStream(c *gin.Context) {
	var request streamRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.storeService.CreateStream(c.Request.Context(), request.Name, request.RTSPURL)
	if err != nil {
		if errors.Is(err, store.ErrMissingRTSPURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rtsp_url_required"})
			return
		}
		h.logger.Error("failed to create stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleOverlayFeed(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events, cleanup := dispatcherOrEmpty(h.dispatcher).Subscribe(c.Request.Context())
	defer cleanup()

	if h.metrics != nil {
		h.metrics.feedSubscribers.Inc()
		defer h.metrics.feedSubscribers.Dec()
	}

	heartbeat := time.NewTicker(feedHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			body := gin.H{"id": event.OverlayID, "timestamp": event.Timestamp.Unix()}
			if event.Overlay != nil {
				body["overlay"] = toOverlayPayload(*event.Overlay)
			}
			c.SSEvent(event.EventType, body)
			return true
		case <-heartbeat.C:
			c.SSEvent(changeEventHeartbeat, time.Now().UTC().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func dispatcherOrEmpty(dispatcher *ChangeDispatcher) *ChangeDispatcher {
	if dispatcher != nil {
		return dispatcher
	}
	return NewChangeDispatcher()
}

func (h *httpHandler) publish(eventType string, record overlay.Overlay) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Publish(ChangeEvent{
		EventType: eventType,
		OverlayID: record.ID,
		Overlay:   &record,
		Timestamp: time.Now().UTC(),
	})
}

func (h *httpHandler) respondStoreError(c *gin.Context, err error) {
	var validationErr overlay.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
		return
	}
	if errors.Is(err, overlay.ErrInvalidKind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "immutable_type"})
		return
	}
	if errors.Is(err, store.ErrOverlayNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.logger.Error("store operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorSubjectContextKey, subject)
	c.Next()
}
