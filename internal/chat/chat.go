package chat

import (
	"sort"
	"sync"
	"time"

	"poputka/internal/content"
	"poputka/internal/models"
)

// DefaultMatchWindow bounds how far apart the local send time of a pending
// message and the server timestamp of its persisted copy may be.
const DefaultMatchWindow = 2 * time.Minute

type record struct {
	msg models.Message
	seq uint64 // insertion order, breaks timestamp ties
}

// Store is the ordered, deduplicated message list of the active thread.
// It is safe for concurrent use.
type Store struct {
	records     []record
	MatchWindow time.Duration

	nextSeq uint64
	mux     sync.RWMutex
}

type Config struct {
	MatchWindow time.Duration
}

func New(config Config) *Store {
	if config.MatchWindow <= 0 {
		config.MatchWindow = DefaultMatchWindow
	}
	return &Store{MatchWindow: config.MatchWindow}
}

// Replace drops everything and loads msgs as the new contents.
func (s *Store) Replace(msgs []models.Message) {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.records = s.records[:0]
	for _, m := range msgs {
		s.records = append(s.records, s.newRecord(m))
	}
	s.sort()
}

func (s *Store) Clear() {
	s.Replace(nil)
}

// Merge unions server messages into the store:
// - an entry with the same server id is updated in place
// - otherwise a pending entry with the same content and participants sent
//   within MatchWindow is superseded (the oldest such entry wins)
// - otherwise the message is appended
// The store is re-sorted by timestamp afterwards. Merge reports whether
// anything changed; merging the same batch twice is a no-op.
func (s *Store) Merge(msgs []models.Message) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	changed := false
	for _, m := range msgs {
		if m.ID.IsZero() || m.ID.IsProvisional() {
			continue
		}
		m.State = models.DeliveryConfirmed

		if i := s.indexOf(m.ID); i >= 0 {
			if !sameMessage(s.records[i].msg, m) {
				s.records[i].msg = m
				changed = true
			}
			continue
		}

		if i := s.matchPending(m); i >= 0 {
			s.records[i].msg = m
			changed = true
			continue
		}

		s.records = append(s.records, s.newRecord(m))
		changed = true
	}

	if changed {
		s.sort()
	}
	return changed
}

// AppendOptimistic adds a pending message at the tail. The message must carry
// a provisional id. If the local clock is behind the newest entry, the
// timestamp is raised to it so the tail stays in order.
func (s *Store) AppendOptimistic(m models.Message) models.Message {
	s.mux.Lock()
	defer s.mux.Unlock()

	m.State = models.DeliveryPending
	if n := len(s.records); n > 0 {
		if last := s.records[n-1].msg.Timestamp; m.Timestamp.Before(last) {
			m.Timestamp = last
		}
	}
	s.records = append(s.records, s.newRecord(m))
	return m
}

// Confirm turns the provisional entry into the persisted message identified by
// serverID. If a poll already delivered serverID, the provisional entry is a
// duplicate and is dropped. Unknown provisional ids are ignored.
func (s *Store) Confirm(provisionalID, serverID models.ID, ts time.Time) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	i := s.indexOf(provisionalID)
	if i < 0 || !provisionalID.IsProvisional() {
		return false
	}

	if s.indexOf(serverID) >= 0 {
		s.remove(i)
		return true
	}

	rec := &s.records[i]
	rec.msg.ID = serverID
	rec.msg.State = models.DeliveryConfirmed
	if !ts.IsZero() {
		rec.msg.Timestamp = ts
	}
	if !s.ordered(i) {
		s.sort()
	}
	return true
}

// Discard removes a provisional entry. It is a no-op for ids that are unknown,
// already discarded or already confirmed.
func (s *Store) Discard(provisionalID models.ID) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	if !provisionalID.IsProvisional() {
		return false
	}
	i := s.indexOf(provisionalID)
	if i < 0 {
		return false
	}
	s.remove(i)
	return true
}

// Snapshot returns a copy of the messages in render order.
func (s *Store) Snapshot() []models.Message {
	s.mux.RLock()
	defer s.mux.RUnlock()

	result := make([]models.Message, len(s.records))
	for i, r := range s.records {
		result[i] = r.msg
	}
	return result
}

func (s *Store) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.records)
}

func (s *Store) newRecord(m models.Message) record {
	s.nextSeq++
	return record{msg: m, seq: s.nextSeq}
}

func (s *Store) indexOf(id models.ID) int {
	for i := range s.records {
		if s.records[i].msg.ID == id {
			return i
		}
	}
	return -1
}

// matchPending finds the pending entry m is the persisted copy of. The server
// stores normalized content, so bodies are compared in that form.
func (s *Store) matchPending(m models.Message) int {
	best := -1
	var body *string
	for i := range s.records {
		r := s.records[i]
		if r.msg.State != models.DeliveryPending || !r.msg.ID.IsProvisional() {
			continue
		}
		if r.msg.SenderID != m.SenderID || r.msg.ReceiverID != m.ReceiverID {
			continue
		}
		if body == nil {
			normalized := content.Normalize(m.Content)
			body = &normalized
		}
		if content.Normalize(r.msg.Content) != *body {
			continue
		}
		if absDuration(r.msg.Timestamp.Sub(m.Timestamp)) > s.MatchWindow {
			continue
		}
		if best == -1 || r.seq < s.records[best].seq {
			best = i
		}
	}
	return best
}

func (s *Store) remove(i int) {
	s.records = append(s.records[:i], s.records[i+1:]...)
}

func (s *Store) ordered(i int) bool {
	ts := s.records[i].msg.Timestamp
	if i > 0 && ts.Before(s.records[i-1].msg.Timestamp) {
		return false
	}
	if i < len(s.records)-1 && s.records[i+1].msg.Timestamp.Before(ts) {
		return false
	}
	return true
}

func (s *Store) sort() {
	sort.SliceStable(s.records, func(i, j int) bool {
		a, b := s.records[i], s.records[j]
		if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
			return a.msg.Timestamp.Before(b.msg.Timestamp)
		}
		return a.seq < b.seq
	})
}

func sameMessage(a, b models.Message) bool {
	return a.ID == b.ID &&
		a.Content == b.Content &&
		a.SenderID == b.SenderID &&
		a.ReceiverID == b.ReceiverID &&
		a.State == b.State &&
		a.Timestamp.Equal(b.Timestamp)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
