package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftphandler/ftp-handler/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog EventType = "log"

	// Connection state
	EventConnected      EventType = "connected"       // Session authenticated and probing started
	EventDisconnected   EventType = "disconnected"    // Orderly disconnect requested by the caller
	EventConnectionLost EventType = "connection_lost" // Probe or fatal error detected a dead connection

	// Directory listing refreshed (navigation, mutation or transfer completion)
	EventListing EventType = "listing"

	// Transfer slot transitions
	EventTransferStarted   EventType = "transfer_started"   // Start or resume accepted, slot Running
	EventTransferProgress  EventType = "transfer_progress"  // Percent changed on the Running slot
	EventTransferPaused    EventType = "transfer_paused"    // Slot Paused, record retained
	EventTransferCompleted EventType = "transfer_completed" // Slot Completed
	EventTransferFailed    EventType = "transfer_failed"    // Slot Failed, Error set
	EventTransferDiscarded EventType = "transfer_discarded" // Paused record dropped, slot Idle
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Error   error
}

// ConnectionEvent reports a change of the session's connected flag.
type ConnectionEvent struct {
	BaseEvent
	Host      string
	Connected bool
	Reason    string // why the connection went away; empty on connect
}

// ListingEvent is published after the current directory was listed.
type ListingEvent struct {
	BaseEvent
	Path    string
	Entries int
}

// TransferEvent represents a transfer slot transition or progress update
type TransferEvent struct {
	BaseEvent
	Direction  string  // "upload" or "download"
	Token      string  // Encoded transfer token, empty once the slot settled
	LocalPath  string  // Local side of the transfer
	RemotePath string  // Remote side of the transfer
	Progress   float64 // 0 to 100
	Error      error   // Error if failed
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for a
// subscriber whose buffer is full are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level:     level,
		Message:   message,
		Error:     err,
	})
}

// PublishConnection publishes a ConnectionEvent of the given type.
func (eb *EventBus) PublishConnection(eventType EventType, host string, connected bool, reason string) {
	eb.Publish(&ConnectionEvent{
		BaseEvent: BaseEvent{EventType: eventType, Time: time.Now()},
		Host:      host,
		Connected: connected,
		Reason:    reason,
	})
}

// PublishListing publishes a ListingEvent.
func (eb *EventBus) PublishListing(path string, entries int) {
	eb.Publish(&ListingEvent{
		BaseEvent: BaseEvent{EventType: EventListing, Time: time.Now()},
		Path:      path,
		Entries:   entries,
	})
}

// Unsubscribe removes a subscription channel from a specific event type and
// closes it, so a goroutine ranging over the channel terminates.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			close(subCh)
			return
		}
	}
}

// UnsubscribeAll removes a subscription channel wherever it is registered and
// closes it.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	var found chan Event
	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				found = subCh
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			found = subCh
			break
		}
	}

	if found != nil {
		close(found)
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// ResetDroppedEventCount resets the dropped event counter to zero
func (eb *EventBus) ResetDroppedEventCount() int64 {
	return eb.droppedEvents.Swap(0)
}
