package engine

import (
	"context"

	"go.uber.org/zap"

	"poputka/internal/config"
	"poputka/internal/models"
	"poputka/internal/poll"
	"poputka/internal/ws"
)

// Feed delivers new messages of one thread until stopped.
type Feed interface {
	Stop()
}

// Subscriber opens push feeds. apply must see every frame, including the
// history sent on (re)connect.
type Subscriber interface {
	Subscribe(userID, partnerID string, apply func([]models.Message) error) Feed
}

type streamSubscriber struct {
	stream *ws.Stream
}

// FromStream adapts a websocket stream client to Subscriber.
func FromStream(stream *ws.Stream) Subscriber {
	return streamSubscriber{stream: stream}
}

func (s streamSubscriber) Subscribe(userID, partnerID string, apply func([]models.Message) error) Feed {
	return s.stream.Subscribe(userID, partnerID, apply)
}

type pollFeed struct {
	scheduler *poll.Scheduler
}

// Stop returns once every fetch the feed started has returned.
func (f pollFeed) Stop() {
	f.scheduler.Stop()
	f.scheduler.Wait()
}

// sink is where every feed of the selection identified by epoch delivers.
// Deliveries after the selection changed return models.ErrStaleResult.
func (e *Engine) sink(epoch uint64, partnerID string) poll.SinkFunc {
	return func(msgs []models.Message) error {
		return e.apply(epoch, partnerID, msgs)
	}
}

// startFeed must be called with e.mu held.
func (e *Engine) startFeed(epoch uint64, partnerID string) Feed {
	sink := e.sink(epoch, partnerID)

	if e.transport == config.TransportStream {
		return e.subscriber.Subscribe(e.userID, partnerID, sink)
	}

	scheduler := poll.New(poll.Config{
		Sink:   sink,
		Logger: e.base.With(zap.String("partner_id", partnerID)),
	})
	scheduler.Start(func(ctx context.Context) ([]models.Message, error) {
		return e.backend.History(ctx, e.userID, partnerID)
	}, e.interval)

	return pollFeed{scheduler: scheduler}
}
