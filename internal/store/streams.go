package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

const (
	opListStreams  = "store.list_streams"
	opCreateStream = "store.create_stream"

	reasonMissingRTSPURL = "missing_rtsp_url"

	defaultStreamName = "Live Stream"
)

// ErrMissingRTSPURL indicates a stream registration without a source URL.
var ErrMissingRTSPURL = errors.New("store: rtsp url is required")

// Stream references a registered video source. Streams supply the playback
// surface its media reference and never participate in overlay data flow.
type Stream struct {
	ID               string `gorm:"column:stream_id;primaryKey;size:190;not null" json:"id"`
	Name             string `gorm:"column:name;size:190;not null" json:"name"`
	RTSPURL          string `gorm:"column:rtsp_url;type:text;not null" json:"rtsp_url"`
	IsActive         bool   `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Stream) TableName() string {
	return "streams"
}

// ListStreams returns every registered stream, newest first.
func (s *Service) ListStreams(ctx context.Context) ([]Stream, error) {
	var streams []Stream
	if err := s.db.WithContext(ctx).
		Order("created_at_s DESC, stream_id ASC").
		Find(&streams).Error; err != nil {
		s.logError(opListStreams, reasonQueryFailed, err)
		return nil, newServiceError(opListStreams, reasonQueryFailed, err)
	}
	return streams, nil
}

// CreateStream registers a video source. The name falls back to a default
// label when omitted; the RTSP URL is mandatory.
func (s *Service) CreateStream(ctx context.Context, name, rtspURL string) (Stream, error) {
	trimmedURL := strings.TrimSpace(rtspURL)
	if trimmedURL == "" {
		return Stream{}, newServiceError(opCreateStream, reasonMissingRTSPURL, ErrMissingRTSPURL)
	}

	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		trimmedName = defaultStreamName
	}

	streamID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateStream, reasonIDGeneration, err)
		return Stream{}, newServiceError(opCreateStream, reasonIDGeneration, err)
	}

	record := Stream{
		ID:               streamID,
		Name:             trimmedName,
		RTSPURL:          trimmedURL,
		IsActive:         true,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateStream, reasonInsertFailed, err, zap.String("stream_id", streamID))
		return Stream{}, newServiceError(opCreateStream, reasonInsertFailed, err)
	}

	return record, nil
}
