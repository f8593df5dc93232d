package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one audit record. Changes carries field-level before/after data
// for mutations; reads leave it nil.
type Event struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	Action      string                 `json:"action"`
	Entity      string                 `json:"entity"`
	EntityID    string                 `json:"entityId"`
	WorkspaceID string                 `json:"workspaceId,omitempty"`
	Changes     map[string]interface{} `json:"changes,omitempty"`
	OccurredAt  time.Time              `json:"occurredAt"`
}

// Well-known actions. Handlers emit these; anything else is free-form.
const (
	ActionSecretRead     = "secret.read"
	ActionSecretWrite    = "secret.write"
	ActionSecretDelete   = "secret.delete"
	ActionSecretRollback = "secret.rollback"
	ActionSecretClone    = "secret.clone"
	ActionSecretRotate   = "secret.rotate"
	ActionJITRequested   = "jit.requested"
	ActionJITApproved    = "jit.approved"
	ActionJITRejected    = "jit.rejected"
	ActionJITRevoked     = "jit.revoked"
	ActionRoleAssigned   = "role.assigned"
	ActionRoleRemoved    = "role.removed"
	ActionBranchCreated  = "branch.created"
	ActionBranchDeleted  = "branch.deleted"
)

// Sink receives delivered events. Implementations must be safe for use from
// a single worker goroutine.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// LogSink writes events to the process log. The fallback sink when nothing
// else is configured.
type LogSink struct{}

func (LogSink) Write(_ context.Context, e Event) error {
	log.Printf("audit: %s user=%s %s/%s workspace=%s", e.Action, e.UserID, e.Entity, e.EntityID, e.WorkspaceID)
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Write(ctx context.Context, e Event) error { return f(ctx, e) }

const (
	defaultBufferSize = 256
	deliveryRetries   = 3
	retryBackoff      = 250 * time.Millisecond
	deliveryTimeout   = 5 * time.Second
)

// Emitter delivers events to a sink asynchronously. Emit never blocks the
// calling operation and never returns an error: auditing is best-effort and
// must not fail the work it records.
type Emitter struct {
	sink   Sink
	events chan Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewEmitter(sink Sink) *Emitter {
	if sink == nil {
		sink = LogSink{}
	}
	e := &Emitter{
		sink:   sink,
		events: make(chan Event, defaultBufferSize),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Emit queues an event for delivery. When the buffer is full the event is
// dropped with a log line rather than stalling the caller.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		log.Printf("audit: emitter closed, dropped %s for %s/%s", ev.Action, ev.Entity, ev.EntityID)
		return
	}
	select {
	case e.events <- ev:
	default:
		log.Printf("audit: buffer full, dropped %s for %s/%s", ev.Action, ev.Entity, ev.EntityID)
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for ev := range e.events {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev Event) {
	var err error
	for attempt := 0; attempt < deliveryRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err = e.sink.Write(ctx, ev)
		cancel()
		if err == nil {
			return
		}
	}
	log.Printf("audit: dropping %s for %s/%s after %d attempts: %v", ev.Action, ev.Entity, ev.EntityID, deliveryRetries, err)
}

// Close stops accepting events and waits for the queue to drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()
	e.wg.Wait()
}
