package ws

import (
	"sync"

	"go.uber.org/zap"

	"poputka/internal/logging"
	"poputka/internal/models"
)

const subscriberBuffer = 64

type subscriber struct {
	userID string
	ch     chan models.StreamFrame
}

// Hub fans newly persisted messages out to everyone watching the thread.
type Hub struct {
	// thread key -> subscription id -> subscriber
	threads map[string]map[uint64]subscriber
	nextID  uint64
	log     *zap.Logger

	mu sync.RWMutex
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		threads: make(map[string]map[uint64]subscriber),
		log:     logging.OrNop(logger).With(zap.String("component", "hub")),
	}
}

// Join subscribes userID to the thread with partnerID. The returned channel
// is closed by Leave.
func (h *Hub) Join(userID, partnerID string) (uint64, chan models.StreamFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := models.ThreadKey(userID, partnerID)
	subs, ok := h.threads[key]
	if !ok {
		subs = make(map[uint64]subscriber)
		h.threads[key] = subs
	}

	h.nextID++
	ch := make(chan models.StreamFrame, subscriberBuffer)
	subs[h.nextID] = subscriber{userID: userID, ch: ch}
	return h.nextID, ch
}

func (h *Hub) Leave(userID, partnerID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := models.ThreadKey(userID, partnerID)
	subs, ok := h.threads[key]
	if !ok {
		return
	}
	if sub, ok := subs[id]; ok {
		close(sub.ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(h.threads, key)
	}
}

// Publish delivers msg to every subscriber of its thread. A subscriber whose
// buffer is full is evicted: its channel is closed, the connection ends and
// the client reconnects to a fresh backlog.
func (h *Hub) Publish(msg models.WireMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := models.ThreadKey(msg.SenderID.String(), msg.ReceiverID.String())
	subs := h.threads[key]
	frame := models.StreamFrame{Messages: []models.WireMessage{msg}}
	for id, sub := range subs {
		select {
		case sub.ch <- frame:
		default:
			h.log.Warn("subscriber is full, evicting",
				zap.String("thread", key),
				zap.String("user_id", sub.userID),
				zap.Uint64("subscription", id))
			close(sub.ch)
			delete(subs, id)
		}
	}
	if subs != nil && len(subs) == 0 {
		delete(h.threads, key)
	}
}

// Subscribers returns the number of live subscriptions on the thread.
func (h *Hub) Subscribers(userID, partnerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads[models.ThreadKey(userID, partnerID)])
}
