package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"poputka/internal/chat"
	"poputka/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func msg(id int) models.Message {
	return models.Message{
		ID:        models.ServerID(fmt.Sprint(id)),
		Content:   fmt.Sprintf("msg %d", id),
		SenderID:  "42",
		Timestamp: time.Date(2026, 3, 1, 12, 0, id, 0, time.UTC),
	}
}

func mergeSink(store *chat.Store) SinkFunc {
	return func(msgs []models.Message) error {
		store.Merge(msgs)
		return nil
	}
}

func TestScheduler_MergesEachTick(t *testing.T) {
	store := chat.New(chat.Config{})
	s := New(Config{Sink: mergeSink(store)})

	var calls atomic.Int32
	s.Start(func(ctx context.Context) ([]models.Message, error) {
		if calls.Add(1) == 1 {
			return []models.Message{msg(1), msg(2)}, nil
		}
		return []models.Message{msg(1), msg(2), msg(3)}, nil
	}, 10*time.Millisecond)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()

	snap := store.Snapshot()
	require.Len(t, snap, 3)
	for i, m := range snap {
		require.Equal(t, models.ServerID(fmt.Sprint(i+1)), m.ID)
	}
}

func TestScheduler_ErrorsDoNotStopPolling(t *testing.T) {
	store := chat.New(chat.Config{})
	s := New(Config{Sink: mergeSink(store)})

	var calls atomic.Int32
	s.Start(func(ctx context.Context) ([]models.Message, error) {
		if calls.Add(1) <= 2 {
			return nil, models.NetworkError(errors.New("timeout"))
		}
		return []models.Message{msg(1)}, nil
	}, 10*time.Millisecond)

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, s.Running())
	s.Stop()
	s.Wait()
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := New(Config{Sink: func([]models.Message) error { return nil }})
	s.Stop()

	s.Start(func(ctx context.Context) ([]models.Message, error) { return nil, nil }, time.Hour)
	require.True(t, s.Running())

	s.Stop()
	s.Stop()
	require.False(t, s.Running())
	s.Wait()
}

func TestScheduler_ResultAfterStopIsDropped(t *testing.T) {
	store := chat.New(chat.Config{})
	s := New(Config{Sink: mergeSink(store)})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.Start(func(ctx context.Context) ([]models.Message, error) {
		once.Do(func() { close(started) })
		<-release
		return []models.Message{msg(1)}, nil
	}, 10*time.Millisecond)

	<-started
	s.Stop()
	close(release)
	s.Wait()

	require.Zero(t, store.Len(), "a fetch that completes after Stop must not reach the store")
}

func TestScheduler_StaleSinkResult(t *testing.T) {
	var applied atomic.Int32
	s := New(Config{Sink: func(msgs []models.Message) error {
		applied.Add(1)
		return models.ErrStaleResult
	}})

	s.Start(func(ctx context.Context) ([]models.Message, error) {
		return []models.Message{msg(1)}, nil
	}, 10*time.Millisecond)

	require.Eventually(t, func() bool { return applied.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()
}

func TestScheduler_RestartReplacesFetch(t *testing.T) {
	store := chat.New(chat.Config{})
	s := New(Config{Sink: mergeSink(store)})

	s.Start(func(ctx context.Context) ([]models.Message, error) {
		return []models.Message{msg(1)}, nil
	}, time.Hour)
	s.Start(func(ctx context.Context) ([]models.Message, error) {
		return []models.Message{msg(2)}, nil
	}, 10*time.Millisecond)

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()
	require.Equal(t, models.ServerID("2"), store.Snapshot()[0].ID)
}
