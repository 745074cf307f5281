package server

import (
	"context"
	"sync"
	"time"

	"github.com/luminastream/studio/backend/internal/overlay"
)

const (
	// ChangeEventCreated announces a newly persisted overlay.
	ChangeEventCreated = "overlay-created"
	// ChangeEventUpdated announces an overlay field or geometry update.
	ChangeEventUpdated = "overlay-updated"
	// ChangeEventDeleted announces an overlay removal.
	ChangeEventDeleted = "overlay-deleted"

	changeEventHeartbeat = "heartbeat"
)

// ChangeEvent describes a persisted overlay mutation delivered to feed
// subscribers.
type ChangeEvent struct {
	EventType string
	OverlayID string
	Overlay   *overlay.Overlay
	Timestamp time.Time
}

// ChangeDispatcher fans persisted overlay mutations out to feed subscribers.
// Slow subscribers drop events rather than block the publishing request.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan ChangeEvent
}

// NewChangeDispatcher constructs a dispatcher with a bounded per-subscriber buffer.
func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a feed consumer until the context is cancelled.
func (d *ChangeDispatcher) Subscribe(ctx context.Context) (<-chan ChangeEvent, func()) {
	subscriber := &changeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeEvent, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every current subscriber without blocking.
func (d *ChangeDispatcher) Publish(event ChangeEvent) {
	if event.EventType == "" || event.OverlayID == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*changeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *ChangeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *ChangeDispatcher) registerSubscriber(subscriber *changeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *ChangeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
