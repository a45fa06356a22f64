// Package telemetry implements the autopilot's in-process event bus: a
// ring buffer of recent events, a per-type counter set, and synchronous
// fanout to subscribers in registration order. Delivery is synchronous
// and lock-protected so subscribers observe events in registration order.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const ringCapacity = 1000

// Event is one telemetry occurrence emitted by the orchestrator (tick
// lifecycle markers, per-phase decisions) or any other component.
type Event struct {
	Type      string
	Timestamp time.Time
	TickID    string
	JobID     string
	Data      interface{}
}

// Subscriber receives every event emitted after it registers, in the
// order Bus.Emit is called.
type Subscriber func(Event)

// Bus is the autopilot's single in-process event bus. The zero value is
// not usable; construct with NewBus.
type Bus struct {
	mu          sync.Mutex
	ring        []Event
	counts      map[string]int
	subscribers []Subscriber
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{counts: make(map[string]int)}
}

// Subscribe registers fn to receive every subsequently emitted event.
// Delivery to subscribers happens synchronously, in registration order,
// inside the Emit call.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Emit appends event to the ring buffer (evicting the oldest entry once
// capacity is reached), increments its type's counter, and delivers it
// to every subscriber in registration order.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	b.ring = append(b.ring, event)
	if len(b.ring) > ringCapacity {
		b.ring = b.ring[len(b.ring)-ringCapacity:]
	}
	b.counts[event.Type]++
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

// Recent returns the last n events (fewer if the buffer holds less),
// oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// Counts returns a snapshot of the per-type event counters.
func (b *Bus) Counts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

// Exposition renders the counters in a minimal Prometheus text exposition
// format: one autopilot_event_total{type="..."} counter per event type,
// sorted by type for deterministic output.
func (b *Bus) Exposition() string {
	counts := b.Counts()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	var sb strings.Builder
	sb.WriteString("# HELP autopilot_event_total Count of telemetry events emitted by type.\n")
	sb.WriteString("# TYPE autopilot_event_total counter\n")
	for _, t := range types {
		fmt.Fprintf(&sb, "autopilot_event_total{type=%q} %d\n", t, counts[t])
	}
	return sb.String()
}
