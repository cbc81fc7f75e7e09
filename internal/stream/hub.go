package stream

import (
	"sync"
	"sync/atomic"

	"github.com/exchange-market-board/internal/metrics"
)

// TopicPnl is the shared topic carrying position and P&L traffic; every
// other topic is an instrument name.
const TopicPnl = "pnl"

const defaultBuffer = 512

// Subscriber receives one topic's payloads. Reads drain C until it is
// closed by Unsubscribe.
type Subscriber struct {
	C      <-chan []byte
	ch     chan []byte
	lagged atomic.Int64
}

// Lagged returns and clears the number of messages dropped for this
// subscriber since the last call.
func (s *Subscriber) Lagged() int64 {
	return s.lagged.Swap(0)
}

// Hub fans payloads out to SSE subscribers, one topic per instrument plus
// the shared pnl topic. Publishing never blocks the feed pump: a
// subscriber whose buffer is full has the payload dropped and its lag
// count raised so the stream handler can tell it how much it missed.
type Hub struct {
	mu      sync.Mutex
	topics  map[string]map[int]*Subscriber
	nextID  int
	buffer  int
	metrics *metrics.Metrics
}

func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		topics:  make(map[string]map[int]*Subscriber),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe registers a subscriber on topic and returns its id for
// Unsubscribe.
func (h *Hub) Subscribe(topic string) (int, *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub := &Subscriber{ch: make(chan []byte, h.buffer)}
	sub.C = sub.ch

	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[int]*Subscriber)
		h.topics[topic] = subs
	}
	subs[id] = sub
	h.metrics.SSEConnected()
	return id, sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(topic string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	sub := subs[id]
	if sub == nil {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	close(sub.ch)
	h.metrics.SSEDisconnected()
}

// Publish delivers payload to every subscriber of topic. Subscribers that
// cannot keep up lose this payload instead of stalling the publisher.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			sub.lagged.Add(1)
			h.metrics.SSEDropped(1)
		}
	}
}

// Subscribers reports how many subscribers topic currently has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
