package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"poputka/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func serverMsg(id int, offset time.Duration, content string) models.Message {
	return models.Message{
		ID:         models.ServerID(fmt.Sprint(id)),
		Content:    content,
		SenderID:   "42",
		ReceiverID: "7",
		Timestamp:  base.Add(offset),
		State:      models.DeliveryConfirmed,
	}
}

func pendingMsg(id string, offset time.Duration, content string) models.Message {
	return models.Message{
		ID:         models.ProvisionalID(id),
		Content:    content,
		SenderID:   "7",
		ReceiverID: "42",
		Timestamp:  base.Add(offset),
	}
}

func ids(msgs []models.Message) []string {
	result := make([]string, len(msgs))
	for i, m := range msgs {
		result[i] = m.ID.String()
	}
	return result
}

func assertOrdered(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("message %s at %d is older than its predecessor", msgs[i].ID, i)
		}
	}
}

func TestNew(t *testing.T) {
	s := New(Config{})
	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.MatchWindow != DefaultMatchWindow {
		t.Errorf("expected default match window, got %v", s.MatchWindow)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
}

func TestStore_MergeIdempotent(t *testing.T) {
	batch := []models.Message{
		serverMsg(2, 2*time.Second, "b"),
		serverMsg(1, time.Second, "a"),
		serverMsg(3, 3*time.Second, "c"),
	}

	s := New(Config{})
	if !s.Merge(batch) {
		t.Fatal("first merge must report a change")
	}
	once := s.Snapshot()

	if s.Merge(batch) {
		t.Error("second merge of the same batch must not report a change")
	}
	if diff := cmp.Diff(once, s.Snapshot()); diff != "" {
		t.Errorf("store changed after repeated merge (-once +twice):\n%s", diff)
	}
}

func TestStore_MergeOrderIndependent(t *testing.T) {
	a := []models.Message{serverMsg(1, time.Second, "a"), serverMsg(4, 4*time.Second, "d")}
	b := []models.Message{serverMsg(2, 2*time.Second, "b"), serverMsg(3, 3*time.Second, "c")}

	ab := New(Config{})
	ab.Merge(a)
	ab.Merge(b)

	ba := New(Config{})
	ba.Merge(b)
	ba.Merge(a)

	if diff := cmp.Diff(ab.Snapshot(), ba.Snapshot()); diff != "" {
		t.Errorf("merge order changed the result (-ab +ba):\n%s", diff)
	}
	assertOrdered(t, ab.Snapshot())
}

func TestStore_TwoPolls(t *testing.T) {
	s := New(Config{})
	s.Merge([]models.Message{serverMsg(1, time.Second, "a"), serverMsg(2, 2*time.Second, "b")})
	s.Merge([]models.Message{serverMsg(1, time.Second, "a"), serverMsg(2, 2*time.Second, "b"), serverMsg(3, 3*time.Second, "c")})

	got := s.Snapshot()
	if diff := cmp.Diff([]string{"1", "2", "3"}, ids(got)); diff != "" {
		t.Errorf("unexpected ids (-want +got):\n%s", diff)
	}
	assertOrdered(t, got)
}

func TestStore_MergeUpdatesByServerID(t *testing.T) {
	s := New(Config{})
	s.Merge([]models.Message{serverMsg(1, time.Second, "draft")})
	s.Merge([]models.Message{serverMsg(1, time.Second, "edited")})

	got := s.Snapshot()
	if len(got) != 1 || got[0].Content != "edited" {
		t.Errorf("expected a single updated message, got %+v", got)
	}
}

func TestStore_MergeTiesKeepInsertionOrder(t *testing.T) {
	s := New(Config{})
	s.Merge([]models.Message{serverMsg(9, time.Second, "first"), serverMsg(1, time.Second, "second")})

	if diff := cmp.Diff([]string{"9", "1"}, ids(s.Snapshot())); diff != "" {
		t.Errorf("ties must keep insertion order (-want +got):\n%s", diff)
	}
}

func TestStore_OptimisticRoundTrip(t *testing.T) {
	s := New(Config{})
	s.Merge([]models.Message{serverMsg(1, time.Second, "hi")})

	msg := s.AppendOptimistic(pendingMsg("p1", 5*time.Second, "hello"))
	if msg.State != models.DeliveryPending {
		t.Fatalf("expected pending state, got %s", msg.State)
	}

	if !s.Confirm(msg.ID, models.ServerID("2"), base.Add(6*time.Second)) {
		t.Fatal("Confirm did not find the provisional message")
	}

	got := s.Snapshot()
	if diff := cmp.Diff([]string{"1", "2"}, ids(got)); diff != "" {
		t.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}
	if got[1].State != models.DeliveryConfirmed || got[1].Content != "hello" {
		t.Errorf("confirmed message lost its content or state: %+v", got[1])
	}

	// The next poll carries the same message; it must not duplicate.
	s.Merge([]models.Message{serverMsg(1, time.Second, "hi"), {
		ID: models.ServerID("2"), Content: "hello", SenderID: "7", ReceiverID: "42", Timestamp: base.Add(6 * time.Second),
	}})
	if s.Len() != 2 {
		t.Errorf("expected 2 messages after poll, got %d", s.Len())
	}
}

func TestStore_ConfirmKeepsPosition(t *testing.T) {
	s := New(Config{})
	p1 := s.AppendOptimistic(pendingMsg("p1", time.Second, "one"))
	s.AppendOptimistic(pendingMsg("p2", 2*time.Second, "two"))

	s.Confirm(p1.ID, models.ServerID("10"), base.Add(1500*time.Millisecond))

	if diff := cmp.Diff([]string{"10", "tmp:p2"}, ids(s.Snapshot())); diff != "" {
		t.Errorf("confirm moved the message (-want +got):\n%s", diff)
	}
}

func TestStore_ConfirmResortsWhenOrderBreaks(t *testing.T) {
	s := New(Config{})
	p1 := s.AppendOptimistic(pendingMsg("p1", time.Second, "one"))
	s.AppendOptimistic(pendingMsg("p2", 2*time.Second, "two"))

	s.Confirm(p1.ID, models.ServerID("10"), base.Add(3*time.Second))

	got := s.Snapshot()
	if diff := cmp.Diff([]string{"tmp:p2", "10"}, ids(got)); diff != "" {
		t.Errorf("expected re-sort (-want +got):\n%s", diff)
	}
	assertOrdered(t, got)
}

func TestStore_MergeSupersedesPending(t *testing.T) {
	s := New(Config{})
	p := s.AppendOptimistic(pendingMsg("p1", time.Second, "on my way"))

	// The poll returns the persisted copy before the send response arrives.
	s.Merge([]models.Message{{
		ID: models.ServerID("5"), Content: "on my way", SenderID: "7", ReceiverID: "42", Timestamp: base.Add(2 * time.Second),
	}})

	got := s.Snapshot()
	if len(got) != 1 || got[0].ID != models.ServerID("5") {
		t.Fatalf("expected the pending message to be superseded, got %+v", got)
	}

	// The late confirmation must not add a second copy.
	if s.Confirm(p.ID, models.ServerID("5"), base.Add(2*time.Second)) {
		t.Error("provisional id was superseded, Confirm must be a no-op")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 message, got %d", s.Len())
	}
}

func TestStore_MergeSupersedesPendingWithNormalizedContent(t *testing.T) {
	tests := []struct {
		name    string
		typed   string
		persist string
	}{
		{"trailing space", "Hello ", "Hello"},
		{"surrounding whitespace", "\n  at the gate\t", "at the gate"},
		{"markup", "I'm <b>here</b>", "I'm here"},
		{"entity", "Tom &amp; Jerry", "Tom & Jerry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{})
			s.AppendOptimistic(pendingMsg("p1", time.Second, tt.typed))

			s.Merge([]models.Message{{
				ID: models.ServerID("5"), Content: tt.persist, SenderID: "7", ReceiverID: "42", Timestamp: base.Add(2 * time.Second),
			}})

			got := s.Snapshot()
			if len(got) != 1 {
				t.Fatalf("expected one message, got %+v", got)
			}
			if got[0].ID != models.ServerID("5") || got[0].Content != tt.persist {
				t.Errorf("expected the persisted copy, got %+v", got[0])
			}
		})
	}
}

func TestStore_MergeDoesNotMatchDifferentContent(t *testing.T) {
	s := New(Config{})
	s.AppendOptimistic(pendingMsg("p1", time.Second, "Hello"))
	s.Merge([]models.Message{{
		ID: models.ServerID("5"), Content: "Hello!", SenderID: "7", ReceiverID: "42", Timestamp: base.Add(time.Second),
	}})

	if s.Len() != 2 {
		t.Errorf("different content must not supersede the pending message, got %d messages", s.Len())
	}
}

func TestStore_ConfirmDropsDuplicateOfPolledMessage(t *testing.T) {
	s := New(Config{})
	p1 := s.AppendOptimistic(pendingMsg("p1", time.Second, "ok"))
	p2 := s.AppendOptimistic(pendingMsg("p2", time.Second, "ok"))

	// The poll delivers message 11 which is really p2; the oldest pending (p1) takes it.
	s.Merge([]models.Message{{
		ID: models.ServerID("11"), Content: "ok", SenderID: "7", ReceiverID: "42", Timestamp: base.Add(time.Second),
	}})

	s.Confirm(p2.ID, models.ServerID("11"), base.Add(time.Second))
	s.Confirm(p1.ID, models.ServerID("10"), base.Add(time.Second))
	s.Merge([]models.Message{{
		ID: models.ServerID("10"), Content: "ok", SenderID: "7", ReceiverID: "42", Timestamp: base.Add(time.Second),
	}})

	got := ids(s.Snapshot())
	if len(got) != 2 {
		t.Fatalf("expected exactly two messages, got %v", got)
	}
	seen := map[string]bool{}
	for _, id := range got {
		seen[id] = true
	}
	if !seen["10"] || !seen["11"] {
		t.Errorf("expected ids 10 and 11, got %v", got)
	}
}

func TestStore_PendingOutsideWindowIsNotMatched(t *testing.T) {
	s := New(Config{MatchWindow: time.Second})
	s.AppendOptimistic(pendingMsg("p1", 0, "again"))
	s.Merge([]models.Message{{
		ID: models.ServerID("1"), Content: "again", SenderID: "7", ReceiverID: "42", Timestamp: base.Add(-time.Hour),
	}})

	if s.Len() != 2 {
		t.Errorf("an old identical message must not swallow the pending one, got %d messages", s.Len())
	}
}

func TestStore_DiscardRollback(t *testing.T) {
	s := New(Config{})
	msg := s.AppendOptimistic(pendingMsg("p1", time.Second, "Hello"))

	if !s.Discard(msg.ID) {
		t.Fatal("Discard did not find the message")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
	if s.Discard(msg.ID) {
		t.Error("second Discard must be a no-op")
	}
}

func TestStore_DiscardConfirmedIsNoop(t *testing.T) {
	s := New(Config{})
	msg := s.AppendOptimistic(pendingMsg("p1", time.Second, "Hello"))
	s.Confirm(msg.ID, models.ServerID("3"), base.Add(time.Second))

	if s.Discard(msg.ID) {
		t.Error("discarding a confirmed message must be a no-op")
	}
	if s.Discard(models.ServerID("3")) {
		t.Error("server ids cannot be discarded")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 message, got %d", s.Len())
	}
}

func TestStore_AppendOptimisticClampsTimestamp(t *testing.T) {
	s := New(Config{})
	s.Merge([]models.Message{serverMsg(1, time.Minute, "from the future")})

	msg := s.AppendOptimistic(pendingMsg("p1", 0, "skewed clock"))
	if !msg.Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("expected timestamp clamped to the tail, got %v", msg.Timestamp)
	}

	got := s.Snapshot()
	if got[len(got)-1].ID != msg.ID {
		t.Error("optimistic message must be at the tail")
	}
}

func TestStore_MergeKeepsPendingAndIgnoresProvisional(t *testing.T) {
	s := New(Config{})
	s.AppendOptimistic(pendingMsg("p1", 10*time.Second, "pending"))
	s.Merge([]models.Message{serverMsg(1, time.Second, "a"), pendingMsg("p9", time.Second, "bogus")})

	if diff := cmp.Diff([]string{"1", "tmp:p1"}, ids(s.Snapshot())); diff != "" {
		t.Errorf("unexpected ids (-want +got):\n%s", diff)
	}
}

func TestStore_Replace(t *testing.T) {
	s := New(Config{})
	s.Merge([]models.Message{serverMsg(1, time.Second, "a")})
	s.Replace([]models.Message{serverMsg(8, 2*time.Second, "y"), serverMsg(7, time.Second, "x")})

	if diff := cmp.Diff([]string{"7", "8"}, ids(s.Snapshot())); diff != "" {
		t.Errorf("unexpected ids (-want +got):\n%s", diff)
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("expected empty store after Clear, got %d", s.Len())
	}
}
