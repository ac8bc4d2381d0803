package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"poputka/internal/logging"
	"poputka/internal/models"
)

const DefaultInterval = 5 * time.Second

// FetchFunc pulls the authoritative history of the polled thread.
type FetchFunc func(ctx context.Context) ([]models.Message, error)

// SinkFunc receives each successful fetch. Returning models.ErrStaleResult
// marks the result as belonging to a thread that is no longer shown.
type SinkFunc func(msgs []models.Message) error

type Config struct {
	Sink   SinkFunc
	Logger *zap.Logger
}

// Scheduler periodically runs a fetch and feeds its result to the sink.
// A tick does not wait for the previous fetch; results are applied in
// arrival order and the sink is expected to merge idempotently.
type Scheduler struct {
	sink SinkFunc
	log  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopEnd chan struct{}
	fetches sync.WaitGroup
}

func New(config Config) *Scheduler {
	return &Scheduler{
		sink: config.Sink,
		log:  logging.OrNop(config.Logger).With(zap.String("component", "poll")),
	}
}

// Start begins polling every interval; the first fetch happens one interval
// from now. Starting a running scheduler restarts it with the new fetch.
func (s *Scheduler) Start(fetch FetchFunc, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopEnd = make(chan struct{})

	go s.loop(ctx, fetch, interval, s.loopEnd)
}

// Stop cancels pending and future ticks and any fetch in flight. Results that
// arrive afterwards are dropped. Stop is idempotent and does not wait for
// in-flight fetches; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, loopEnd := s.cancel, s.loopEnd
	s.cancel, s.loopEnd = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-loopEnd
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Wait blocks until all fetches started so far have returned.
func (s *Scheduler) Wait() {
	s.fetches.Wait()
}

func (s *Scheduler) loop(ctx context.Context, fetch FetchFunc, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fetches.Go(func() {
				s.tick(ctx, fetch)
			})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, fetch FetchFunc) {
	msgs, err := fetch(ctx)
	if ctx.Err() != nil {
		s.log.Debug("dropping poll result after stop")
		return
	}
	if err != nil {
		s.log.Warn("poll failed, waiting for next tick", zap.Error(err))
		return
	}

	if err := s.sink(msgs); err != nil {
		if errors.Is(err, models.ErrStaleResult) {
			s.log.Debug("dropping stale poll result")
			return
		}
		s.log.Warn("failed to apply poll result", zap.Error(err))
	}
}
