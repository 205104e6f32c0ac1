package events

import (
	"context"
	"sync"
)

const defaultPartitionBuffer = 256

// partitionKey addresses one queue on the bus
type partitionKey struct {
	eventType EventType
	priority  Priority
}

// Bus is an in-memory, priority-partitioned pub/sub transport. Each
// (event type, priority) pair owns a buffered channel; publishing
// never blocks and consumers drain their partitions at their own
// pace. Events are not durable - a crash loses whatever is in
// flight, and position reconciliation against the broker is the
// recovery path.
type Bus struct {
	mu         sync.RWMutex
	partitions map[partitionKey]chan Event
	bufferSize int
	dropped    map[partitionKey]int64

	// OnDrop, when set before the bus is in use, is invoked for every
	// event lost to a full partition
	OnDrop func(EventType, Priority)
}

// NewBus creates a bus with the default per-partition buffer
func NewBus() *Bus {
	return NewBusWithBuffer(defaultPartitionBuffer)
}

// NewBusWithBuffer creates a bus with a custom per-partition buffer size
func NewBusWithBuffer(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultPartitionBuffer
	}
	return &Bus{
		partitions: make(map[partitionKey]chan Event),
		bufferSize: bufferSize,
		dropped:    make(map[partitionKey]int64),
	}
}

func (b *Bus) partition(eventType EventType, priority Priority) chan Event {
	key := partitionKey{eventType: eventType, priority: priority}

	b.mu.RLock()
	ch, exists := b.partitions[key]
	b.mu.RUnlock()
	if exists {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check after acquiring write lock
	if ch, exists := b.partitions[key]; exists {
		return ch
	}

	ch = make(chan Event, b.bufferSize)
	b.partitions[key] = ch
	return ch
}

// Publish enqueues an event without blocking. Returns false when the
// partition buffer is full and the event was dropped.
func (b *Bus) Publish(event Event) bool {
	if event.Priority == "" {
		event.Priority = PriorityNormal
	}

	ch := b.partition(event.Type, event.Priority)

	select {
	case ch <- event:
		return true
	default:
		b.mu.Lock()
		b.dropped[partitionKey{eventType: event.Type, priority: event.Priority}]++
		b.mu.Unlock()
		if b.OnDrop != nil {
			b.OnDrop(event.Type, event.Priority)
		}
		return false
	}
}

// Consume blocks until an event is available on the requested
// partition or the context is cancelled
func (b *Bus) Consume(ctx context.Context, eventType EventType, priority Priority) (Event, error) {
	ch := b.partition(eventType, priority)

	select {
	case event := <-ch:
		return event, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// TryConsume pulls an event if one is immediately available
func (b *Bus) TryConsume(eventType EventType, priority Priority) (Event, bool) {
	ch := b.partition(eventType, priority)

	select {
	case event := <-ch:
		return event, true
	default:
		return Event{}, false
	}
}

// ConsumeAnyPriority pulls the next available event for an event
// type, checking partitions from CRITICAL down to NORMAL
func (b *Bus) ConsumeAnyPriority(eventType EventType) (Event, bool) {
	for _, priority := range Priorities {
		if event, ok := b.TryConsume(eventType, priority); ok {
			return event, true
		}
	}
	return Event{}, false
}

// QueueStats reports the depth of each active partition
type QueueStats struct {
	Depths  map[EventType]map[Priority]int
	Dropped map[EventType]map[Priority]int64
}

// Stats returns a snapshot of partition depths and drop counts
func (b *Bus) Stats() QueueStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := QueueStats{
		Depths:  make(map[EventType]map[Priority]int),
		Dropped: make(map[EventType]map[Priority]int64),
	}

	for key, ch := range b.partitions {
		if stats.Depths[key.eventType] == nil {
			stats.Depths[key.eventType] = make(map[Priority]int)
		}
		stats.Depths[key.eventType][key.priority] = len(ch)
	}

	for key, count := range b.dropped {
		if stats.Dropped[key.eventType] == nil {
			stats.Dropped[key.eventType] = make(map[Priority]int64)
		}
		stats.Dropped[key.eventType][key.priority] = count
	}

	return stats
}

// Purge discards all queued events on one partition and returns the
// number removed
func (b *Bus) Purge(eventType EventType, priority Priority) int {
	ch := b.partition(eventType, priority)

	purged := 0
	for {
		select {
		case <-ch:
			purged++
		default:
			return purged
		}
	}
}
