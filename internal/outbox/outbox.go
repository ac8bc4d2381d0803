package outbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"poputka/internal/content"
	"poputka/internal/logging"
	"poputka/internal/models"
)

type State string

const (
	StateComposing State = "composing"
	StateSending   State = "sending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

type Submitter interface {
	Send(ctx context.Context, req models.SendRequest) (models.SendResponse, error)
}

// Store is the part of the message store the coordinator writes to.
type Store interface {
	AppendOptimistic(msg models.Message) models.Message
	Confirm(provisionalID, serverID models.ID, ts time.Time) bool
	Discard(provisionalID models.ID) bool
}

// Result describes how a send settled. It is reported once per send.
type Result struct {
	ProvisionalID models.ID
	ServerID      models.ID
	PartnerID     string
	Content       string
	State         State
	Err           error
}

type Config struct {
	SelfID    string
	Submitter Submitter
	Store     Store
	OnResult  func(Result)
	Logger    *zap.Logger

	Now   func() time.Time
	NewID func() string
}

// Coordinator applies outgoing messages to the store before the server
// acknowledges them and reconciles the store with the outcome.
type Coordinator struct {
	selfID   string
	submit   Submitter
	store    Store
	onResult func(Result)
	log      *zap.Logger
	now      func() time.Time
	newID    func() string

	wg sync.WaitGroup
}

func New(config Config) *Coordinator {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	return &Coordinator{
		selfID:   config.SelfID,
		submit:   config.Submitter,
		store:    config.Store,
		onResult: config.OnResult,
		log:      logging.OrNop(config.Logger).With(zap.String("component", "outbox")),
		now:      config.Now,
		newID:    config.NewID,
	}
}

// Send validates the message, appends it to the store as pending and submits
// it in the background. The returned message is the pending copy. Validation
// errors are returned before the store or the network is touched.
func (c *Coordinator) Send(ctx context.Context, body, partnerID string) (models.Message, error) {
	if strings.TrimSpace(partnerID) == "" {
		return models.Message{}, models.ErrNoActiveThread
	}
	if err := content.Validate(body); err != nil {
		return models.Message{}, err
	}

	msg := c.store.AppendOptimistic(models.Message{
		ID:         models.ProvisionalID(c.newID()),
		Content:    body,
		SenderID:   c.selfID,
		ReceiverID: partnerID,
		Timestamp:  c.now(),
		State:      models.DeliveryPending,
	})

	c.wg.Go(func() {
		c.deliver(ctx, msg)
	})

	return msg, nil
}

// Wait blocks until every send started so far has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) deliver(ctx context.Context, msg models.Message) {
	log := c.log.With(zap.Stringer("provisional_id", msg.ID), zap.String("partner_id", msg.ReceiverID))
	log.Debug("sending message", zap.String("state", string(StateSending)))

	result := Result{
		ProvisionalID: msg.ID,
		PartnerID:     msg.ReceiverID,
		Content:       msg.Content,
	}

	resp, err := c.submit.Send(ctx, models.SendRequest{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
	})
	if err == nil && resp.ID == "" {
		err = &models.ServerError{StatusCode: 200, Body: "response carries no message id"}
	}

	if err != nil {
		c.store.Discard(msg.ID)
		result.State = StateFailed
		result.Err = err
		log.Warn("send failed, message rolled back", zap.Error(err))
	} else {
		result.ServerID = models.ServerID(resp.ID.String())
		c.store.Confirm(msg.ID, result.ServerID, resp.Timestamp)
		result.State = StateConfirmed
		log.Debug("message confirmed", zap.Stringer("server_id", result.ServerID))
	}

	if c.onResult != nil {
		c.onResult(result)
	}
}
