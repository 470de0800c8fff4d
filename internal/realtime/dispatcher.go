// Package realtime fans stored-row inserts out to live subscribers.
package realtime

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"github.com/MarcoPoloResearchLab/lobby/internal/metrics"
	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber backlog before events are dropped.
const DefaultBufferSize = 64

// Config tunes a Dispatcher.
type Config struct {
	BufferSize int
	Logger     *zap.Logger
}

// Dispatcher routes insert events by table to subscribers.
// Subscribers that fall behind lose events rather than stall publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
}

type subscriber struct {
	id     int64
	filter map[string]string
	stream chan backend.InsertEvent
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Stream registers a subscriber for specs and returns its event stream and a cleanup func.
// The subscriber is removed when ctx ends or cleanup runs, whichever comes first.
func (d *Dispatcher) Stream(ctx context.Context, specs []backend.FeedSpec) (<-chan backend.InsertEvent, func()) {
	filter := make(map[string]string, len(specs))
	for _, spec := range specs {
		if spec.Table == "" {
			continue
		}
		filter[spec.Table] = spec.ParticipantID
	}
	if len(filter) == 0 {
		stream := make(chan backend.InsertEvent)
		close(stream)
		return stream, func() {}
	}

	sub := &subscriber{
		id:     d.nextSequence(),
		filter: filter,
		stream: make(chan backend.InsertEvent, d.bufferSize),
	}
	d.register(sub)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(sub) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers event to every subscriber of its table.
// Direct messages reach only subscribers whose participant is the sender or the recipient.
func (d *Dispatcher) Publish(event backend.InsertEvent) {
	if event.Table == "" || event.Message.ID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.Table]
	targets := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		if matches(sub.filter[event.Table], event.Message) {
			targets = append(targets, sub)
		}
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
			metrics.RealtimeEventsDropped.WithLabelValues(event.Table).Inc()
			d.logger.Warn("realtime subscriber lagging, event dropped",
				zap.Int64("subscriber_id", sub.id),
				zap.String("table", event.Table),
				zap.String("message_id", event.Message.ID))
		}
	}
}

// Subscribe implements backend.Feed by pumping a stream into onInsert on its own goroutine.
func (d *Dispatcher) Subscribe(_ context.Context, specs []backend.FeedSpec, onInsert func(backend.InsertEvent)) (backend.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	stream, cleanup := d.Stream(ctx, specs)
	sub := &subscription{cancel: cancel, cleanup: cleanup}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					return
				}
				onInsert(event)
			}
		}
	}()
	return sub, nil
}

// Subscribers reports the live subscriber count across tables.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[int64]struct{})
	for _, subscribers := range d.subscribers {
		for id := range subscribers {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

func matches(participantID string, message backend.Message) bool {
	if participantID == "" {
		return true
	}
	return message.SenderID == participantID || message.RecipientID == participantID
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for table := range sub.filter {
		if _, ok := d.subscribers[table]; !ok {
			d.subscribers[table] = make(map[int64]*subscriber)
		}
		d.subscribers[table][sub.id] = sub
	}
	metrics.RealtimeSubscribers.Inc()
}

func (d *Dispatcher) unregister(sub *subscriber) {
	d.mu.Lock()
	for table := range sub.filter {
		subscribers := d.subscribers[table]
		if subscribers == nil {
			continue
		}
		delete(subscribers, sub.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, table)
		}
	}
	d.mu.Unlock()
	metrics.RealtimeSubscribers.Dec()
}

type subscription struct {
	cancel  context.CancelFunc
	cleanup func()
}

func (s *subscription) Unsubscribe() error {
	s.cleanup()
	s.cancel()
	return nil
}
