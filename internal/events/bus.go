// Package events is the in-process pub/sub bus for economy events.
// Every ledger mutation and verification verdict publishes here, so
// observers (the websocket stream, metrics, an external orchestrator)
// can follow task lifecycles without polling the ledger.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Well-known event types.
const (
	TypeMinted            = "economy.token.minted"
	TypeTransferred       = "economy.token.transferred"
	TypeEscrowHeld        = "economy.escrow.held"
	TypeEscrowReleased    = "economy.escrow.released"
	TypeEscrowRefunded    = "economy.escrow.refunded"
	TypeStaked            = "economy.stake.locked"
	TypeUnstaked          = "economy.stake.returned"
	TypeSlashed           = "economy.stake.slashed"
	TypeChainCorrupted    = "economy.ledger.corrupted"
	TypeReviewed          = "economy.verification.reviewed"
	TypeAlignmentResolved = "economy.verification.alignment_resolved"
	TypeRewardDistributed = "economy.reward.distributed"
)

// Emitter is the interface engines publish through. The in-memory Bus
// satisfies it; tests may pass a nil-safe no-op.
type Emitter interface {
	Emit(eventType, subject string, data map[string]any)
}

// Event is the envelope for all economy events.
type Event struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Subject string         `json:"subject,omitempty"`
	Data    map[string]any `json:"data"`
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bus is an in-process pub/sub bus. Slow subscribers are skipped
// rather than blocking a ledger operation.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
	allSubs     []chan *Event
	bufferSize  int
	nextID      uint64
}

// NewBus creates an event bus with a per-subscriber buffer of 100.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving events of the given types, or
// all events when no types are passed.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		b.subscribers[et] = without(subs, ch)
	}
	b.allSubs = without(b.allSubs, ch)
	close(ch)
}

func without(subs []chan *Event, ch chan *Event) []chan *Event {
	filtered := subs[:0:0]
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Emit creates and publishes an event.
func (b *Bus) Emit(eventType, subject string, data map[string]any) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	b.Publish(&Event{
		Type:    eventType,
		ID:      fmt.Sprintf("evt-%d", id),
		Time:    time.Now().UTC(),
		Subject: subject,
		Data:    data,
	})
}

// Publish delivers an event to all matching subscribers. Full channels
// are skipped.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}

// Nop is an Emitter that drops everything. Engines accept it where a
// caller has no interest in events.
type Nop struct{}

func (Nop) Emit(string, string, map[string]any) {}
