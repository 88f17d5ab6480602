package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PingEvent is delivered by Ping sweeps. Stream handlers translate it into a
// keepalive comment rather than a named SSE event.
const PingEvent = "ping"

// Buffered events per subscriber. A subscriber that falls this far behind is
// treated as dead and dropped on the next delivery attempt.
const subscriberBuffer = 16

var (
	subscriberCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sparklenote_hub_subscribers",
		Help: "Currently registered event stream subscribers.",
	})
	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sparklenote_hub_events_published_total",
		Help: "Events fanned out to roll subscribers.",
	}, []string{"event"})
	droppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sparklenote_hub_subscribers_dropped_total",
		Help: "Subscribers removed after a failed delivery.",
	})
)

type Event struct {
	Name string
	Data []byte
}

// Subscriber is one live event stream for one roll. It is handed out by
// Subscribe and owned by the hub until Unsubscribe or delivery failure.
type Subscriber struct {
	rollID string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *Subscriber) RollID() string { return s.rollID }

// Events yields the subscriber's event stream. The channel is never closed;
// receivers must also select on Done.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Done is closed when the hub has discarded this subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans out paper lifecycle events to the live subscribers of each roll.
// The per-roll sets are the only shared mutable state: all map access happens
// under mu, and publishes iterate a snapshot so concurrent subscribes and
// unsubscribes never disturb an in-flight fan-out.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(rollID string) *Subscriber {
	sub := &Subscriber{
		rollID: rollID,
		events: make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	room, ok := h.rooms[rollID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[rollID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()
	subscriberCount.Inc()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	removed := h.removeLocked(sub)
	h.mu.Unlock()
	if removed {
		subscriberCount.Dec()
	}
}

// Publish delivers the event to every subscriber currently registered for the
// roll. Each delivery is a single non-blocking attempt; a subscriber whose
// buffer is full or that is already gone is removed before Publish returns.
// Failures are never retried and never reach the caller.
func (h *Hub) Publish(rollID, event string, data []byte) {
	h.mu.RLock()
	room := h.rooms[rollID]
	subs := make([]*Subscriber, 0, len(room))
	for sub := range room {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	publishedEvents.WithLabelValues(event).Inc()

	var failed []*Subscriber
	for _, sub := range subs {
		if !deliver(sub, Event{Name: event, Data: data}) {
			failed = append(failed, sub)
		}
	}
	h.drop(failed)
}

// Ping attempts a keepalive delivery to every subscriber of every roll,
// pruning the ones that no longer drain their stream. Rolls with no traffic
// would otherwise keep dead subscribers until the next Publish.
func (h *Hub) Ping() {
	h.mu.RLock()
	var subs []*Subscriber
	for _, room := range h.rooms {
		for sub := range room {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	var failed []*Subscriber
	for _, sub := range subs {
		if !deliver(sub, Event{Name: PingEvent}) {
			failed = append(failed, sub)
		}
	}
	h.drop(failed)
}

// DropRoom discards the whole subscriber set of a roll. Used when the roll
// itself is deleted.
func (h *Hub) DropRoom(rollID string) {
	h.mu.Lock()
	room := h.rooms[rollID]
	delete(h.rooms, rollID)
	h.mu.Unlock()
	for sub := range room {
		sub.close()
		subscriberCount.Dec()
	}
}

// RoomSize reports the current number of subscribers for a roll.
func (h *Hub) RoomSize(rollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[rollID])
}

func deliver(sub *Subscriber, event Event) bool {
	select {
	case <-sub.done:
		return false
	default:
	}
	select {
	case sub.events <- event:
		return true
	default:
		return false
	}
}

func (h *Hub) drop(subs []*Subscriber) {
	if len(subs) == 0 {
		return
	}
	h.mu.Lock()
	var removed int
	for _, sub := range subs {
		if h.removeLocked(sub) {
			removed++
		}
	}
	h.mu.Unlock()
	subscriberCount.Sub(float64(removed))
	droppedSubscribers.Add(float64(removed))
}

// removeLocked deletes the subscriber from its roll set and signals it.
// Returns false if another path already removed it. Callers hold mu.
func (h *Hub) removeLocked(sub *Subscriber) bool {
	room, ok := h.rooms[sub.rollID]
	if !ok {
		return false
	}
	if _, ok := room[sub]; !ok {
		return false
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.rollID)
	}
	sub.close()
	return true
}
