package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"poputka/internal/logging"
	"poputka/internal/models"
)

const DefaultRetryInterval = 5 * time.Second

type StreamConfig struct {
	BaseURL       *url.URL
	Token         string
	Dialer        *websocket.Dialer
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Stream subscribes to thread streams of the chat server. It is the push
// counterpart of polling: every frame is handed to the same merge path.
type Stream struct {
	base   *url.URL
	token  string
	dialer *websocket.Dialer
	retry  time.Duration
	log    *zap.Logger
}

func NewStream(config StreamConfig) *Stream {
	base := *config.BaseURL
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	return &Stream{
		base:   &base,
		token:  config.Token,
		dialer: config.Dialer,
		retry:  config.RetryInterval,
		log:    logging.OrNop(config.Logger).With(zap.String("component", "stream")),
	}
}

// Subscription is a live thread stream. It reconnects on its own until
// stopped.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Subscribe opens the thread between userID and partnerID. apply receives
// the history frame on every (re)connect and each new message afterwards.
func (s *Stream) Subscribe(userID, partnerID string, apply func([]models.Message) error) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	u := s.base.JoinPath("/api/chats/stream")
	u.RawQuery = url.Values{"userId": {userID}, "partnerId": {partnerID}}.Encode()

	header := http.Header{}
	if s.token != "" {
		header.Set("token", s.token)
	}

	log := s.log.With(zap.String("partner_id", partnerID))
	go func() {
		defer close(sub.done)
		for {
			err := s.run(ctx, sub, u.String(), header, apply)
			if ctx.Err() != nil {
				return
			}
			log.Warn("stream interrupted, reconnecting", zap.Error(err), zap.Duration("retry_in", s.retry))

			select {
			case <-time.After(s.retry):
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub
}

func (s *Stream) run(ctx context.Context, sub *Subscription, target string, header http.Header, apply func([]models.Message) error) error {
	conn, _, err := s.dialer.DialContext(ctx, target, header)
	if err != nil {
		return models.NetworkError(err)
	}
	if !sub.attach(ctx, conn) {
		_ = conn.Close()
		return ctx.Err()
	}
	defer sub.detach()

	for {
		var frame models.StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return models.NetworkError(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := apply(models.MessagesFromWire(frame.Messages)); err != nil {
			s.log.Debug("stream frame not applied", zap.Error(err))
		}
	}
}

// Stop closes the stream and waits for its reader to exit. No frame is
// applied once Stop returns. Stop is idempotent.
func (sub *Subscription) Stop() {
	sub.cancel()
	sub.mu.Lock()
	if sub.conn != nil {
		_ = sub.conn.Close()
	}
	sub.mu.Unlock()
	<-sub.done
}

func (sub *Subscription) attach(ctx context.Context, conn *websocket.Conn) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	sub.conn = conn
	return true
}

func (sub *Subscription) detach() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.conn != nil {
		_ = sub.conn.Close()
		sub.conn = nil
	}
}
