// Package event is the in-process notification bus. The coordinator and the
// provisioning executor publish lifecycle events; the journal, the websocket
// hub, and tests subscribe. Sends never block: a slow subscriber drops
// events rather than stalling the session loop.
package event

import (
	"sync"
	"time"
)

// Type enumerates session lifecycle events.
type Type string

const (
	PhaseStart         Type = "phase_start"
	PhaseComplete      Type = "phase_complete"
	SymbolAdded        Type = "symbol_added"
	SymbolFailed       Type = "symbol_failed"
	SymbolUpgraded     Type = "symbol_upgraded"
	LagDetected        Type = "lag_detected"
	LagCleared         Type = "lag_cleared"
	SessionActivated   Type = "session_activated"
	SessionDeactivated Type = "session_deactivated"
	SessionRolled      Type = "session_rolled"
	SessionEnd         Type = "session_end"
)

// Event is one lifecycle notification. Symbol and Detail are optional.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Bus fans events out to subscribers over buffered channels.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe creates a subscription with the given channel buffer.
func (b *Bus) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextID
	b.nextID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers evt to every subscriber with a non-blocking send. A full
// subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// Emit is shorthand for Publish with the common fields.
func (b *Bus) Emit(t Type, symbol, detail string) {
	b.Publish(Event{Type: t, Symbol: symbol, Detail: detail})
}

// Close closes every subscriber channel. The bus must not be published to
// afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
