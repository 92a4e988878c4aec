package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProgressEvent represents one in-process progress notification from
// a lifecycle operation. These are transient and never persisted;
// they exist so the CLI can render live progress for concurrent
// operations.
type ProgressEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// Extension is the extension this event concerns, if applicable.
	Extension string `json:"extension,omitempty"`

	// Operation is the lifecycle operation, if applicable.
	Operation string `json:"operation,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// ProgressEvent type constants.
const (
	ProgressOperationStarted   = "operation.started"
	ProgressOperationCompleted = "operation.completed"
	ProgressOperationFailed    = "operation.failed"
	ProgressVerifyPassed       = "verify.passed"
	ProgressVerifyFailed       = "verify.failed"
	ProgressLedgerCompacted    = "ledger.compacted"
	ProgressPolicyViolation    = "policy.violation"
)

// ProgressEvent level constants.
const (
	ProgressLevelInfo    = "info"
	ProgressLevelWarning = "warning"
	ProgressLevelError   = "error"
)

// ProgressSubscriber is a function that handles progress events.
type ProgressSubscriber func(event ProgressEvent)

// ProgressFilter determines if an event should be delivered.
type ProgressFilter func(event ProgressEvent) bool

// ProgressPublisher manages progress event delivery and subscriptions.
type ProgressPublisher struct {
	config      ProgressConfig
	buffer      chan ProgressEvent
	subscribers []progressSubscriberEntry
	filters     []ProgressFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type progressSubscriberEntry struct {
	subscriber ProgressSubscriber
	filter     ProgressFilter
}

// NewProgressPublisher creates a new publisher with the given configuration.
func NewProgressPublisher(cfg ProgressConfig) (*ProgressPublisher, error) {
	if !cfg.Enabled {
		return &ProgressPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	pp := &ProgressPublisher{
		config:      cfg,
		buffer:      make(chan ProgressEvent, cfg.BufferSize),
		subscribers: make([]progressSubscriberEntry, 0),
		filters:     make([]ProgressFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		pp.wg.Add(1)
		go pp.processEvents()
	}

	return pp, nil
}

// Publish delivers an event to all subscribers.
func (pp *ProgressPublisher) Publish(event ProgressEvent) error {
	if !pp.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	pp.mu.RLock()
	for _, filter := range pp.filters {
		if !filter(event) {
			pp.mu.RUnlock()
			return nil
		}
	}
	pp.mu.RUnlock()

	if pp.config.EnableAsync {
		select {
		case pp.buffer <- event:
			return nil
		case <-pp.ctx.Done():
			return fmt.Errorf("progress publisher stopped")
		default:
			return fmt.Errorf("progress buffer full, event dropped")
		}
	}

	pp.deliverEvent(event)
	return nil
}

// PublishOperationStarted publishes an operation started event.
func (pp *ProgressPublisher) PublishOperationStarted(extension, operation, version string) error {
	return pp.Publish(ProgressEvent{
		Type:      ProgressOperationStarted,
		Source:    "lifecycle",
		Extension: extension,
		Operation: operation,
		Message:   fmt.Sprintf("%s of %s@%s started", operation, extension, version),
		Level:     ProgressLevelInfo,
		Data: map[string]interface{}{
			"version": version,
		},
	})
}

// PublishOperationCompleted publishes an operation completed event.
func (pp *ProgressPublisher) PublishOperationCompleted(extension, operation string, duration time.Duration) error {
	return pp.Publish(ProgressEvent{
		Type:      ProgressOperationCompleted,
		Source:    "lifecycle",
		Extension: extension,
		Operation: operation,
		Message:   fmt.Sprintf("%s of %s completed in %s", operation, extension, duration.Round(time.Second)),
		Level:     ProgressLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishOperationFailed publishes an operation failed event.
func (pp *ProgressPublisher) PublishOperationFailed(extension, operation, reason string) error {
	return pp.Publish(ProgressEvent{
		Type:      ProgressOperationFailed,
		Source:    "lifecycle",
		Extension: extension,
		Operation: operation,
		Message:   fmt.Sprintf("%s of %s failed: %s", operation, extension, reason),
		Level:     ProgressLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishVerifyResult publishes a verification outcome event.
func (pp *ProgressPublisher) PublishVerifyResult(extension string, passed bool, detail string) error {
	eventType := ProgressVerifyPassed
	level := ProgressLevelInfo
	message := fmt.Sprintf("Verification of %s passed", extension)
	if !passed {
		eventType = ProgressVerifyFailed
		level = ProgressLevelWarning
		message = fmt.Sprintf("Verification of %s failed: %s", extension, detail)
	}
	return pp.Publish(ProgressEvent{
		Type:      eventType,
		Source:    "verifier",
		Extension: extension,
		Message:   message,
		Level:     level,
	})
}

// PublishLedgerCompacted publishes a compaction event.
func (pp *ProgressPublisher) PublishLedgerCompacted(removed int) error {
	return pp.Publish(ProgressEvent{
		Type:    ProgressLedgerCompacted,
		Source:  "ledger",
		Message: fmt.Sprintf("Ledger compacted, %d events removed", removed),
		Level:   ProgressLevelInfo,
		Data: map[string]interface{}{
			"removed": removed,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (pp *ProgressPublisher) PublishPolicyViolation(extension, policyName, reason string) error {
	return pp.Publish(ProgressEvent{
		Type:      ProgressPolicyViolation,
		Source:    "policy",
		Extension: extension,
		Message:   fmt.Sprintf("Policy violation for %s: %s - %s", extension, policyName, reason),
		Level:     ProgressLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (pp *ProgressPublisher) Subscribe(subscriber ProgressSubscriber, filter ProgressFilter) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	pp.subscribers = append(pp.subscribers, progressSubscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (pp *ProgressPublisher) AddFilter(filter ProgressFilter) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	pp.filters = append(pp.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (pp *ProgressPublisher) processEvents() {
	defer pp.wg.Done()

	for {
		select {
		case event := <-pp.buffer:
			pp.deliverEvent(event)
		case <-pp.ctx.Done():
			// Drain remaining events before shutting down
			for {
				select {
				case event := <-pp.buffer:
					pp.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (pp *ProgressPublisher) deliverEvent(event ProgressEvent) {
	pp.mu.RLock()
	defer pp.mu.RUnlock()

	for _, entry := range pp.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the publisher.
func (pp *ProgressPublisher) Shutdown(ctx context.Context) error {
	if !pp.config.Enabled {
		return nil
	}

	pp.cancel()

	done := make(chan struct{})
	go func() {
		pp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) ProgressFilter {
	levels := map[string]int{
		ProgressLevelInfo:    0,
		ProgressLevelWarning: 1,
		ProgressLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event ProgressEvent) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) ProgressFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event ProgressEvent) bool {
		return typeSet[event.Type]
	}
}

// FilterByExtension creates a filter that only allows events for a specific extension.
func FilterByExtension(name string) ProgressFilter {
	return func(event ProgressEvent) bool {
		return event.Extension == name
	}
}
