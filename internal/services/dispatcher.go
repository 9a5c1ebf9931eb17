package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/models"
)

// Dispatcher hands booking events to the notification pipeline. Enqueue never
// blocks the caller and never fails the operation that produced the event.
type Dispatcher interface {
	Enqueue(ctx context.Context, eventType string, payload map[string]interface{})
}

// QueueDispatcher buffers events in memory and writes them to the outbox
// from a fixed pool of workers. When the queue is full or stopped the event
// is written by the caller instead, so only a failed outbox write loses it.
type QueueDispatcher struct {
	events  EventStore
	queue   chan *models.NotificationEvent
	workers int
	logger  *logrus.Logger
	wg      sync.WaitGroup
	once    sync.Once
	closed  chan struct{}
	mu      sync.RWMutex
}

// NewQueueDispatcher creates a dispatcher. Call Start before enqueueing.
func NewQueueDispatcher(events EventStore, workers, size int, logger *logrus.Logger) *QueueDispatcher {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &QueueDispatcher{
		events:  events,
		queue:   make(chan *models.NotificationEvent, size),
		workers: workers,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

// Start launches the workers
func (d *QueueDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.WithField("workers", d.workers).Info("Notification dispatcher started")
}

// Enqueue implements Dispatcher
func (d *QueueDispatcher) Enqueue(_ context.Context, eventType string, payload map[string]interface{}) {
	event := &models.NotificationEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   models.JSONMap(payload),
		CreatedAt: time.Now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	select {
	case <-d.closed:
		d.logger.WithField("event_type", eventType).Warn("Dispatcher stopped, writing notification event directly")
		d.write(event)
		return
	default:
	}

	select {
	case d.queue <- event:
	default:
		d.logger.WithFields(logrus.Fields{
			"event_type": eventType,
			"event_id":   event.ID,
		}).Warn("Notification queue full, writing event directly")
		d.write(event)
	}
}

// Stop stops accepting events and waits for queued ones to be written or ctx to end
func (d *QueueDispatcher) Stop(ctx context.Context) {
	d.once.Do(func() {
		d.mu.Lock()
		close(d.closed)
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("Notification dispatcher drained")
	case <-ctx.Done():
		d.logger.WithField("pending", len(d.queue)).Warn("Notification dispatcher stopped before draining")
	}
}

func (d *QueueDispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		d.write(event)
	}
}

func (d *QueueDispatcher) write(event *models.NotificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.events.Insert(ctx, event); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"event_id":   event.ID,
		}).Error("Failed to write notification event")
	}
}
