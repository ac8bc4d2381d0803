package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"poputka/internal/chat"
	"poputka/internal/config"
	"poputka/internal/directory"
	"poputka/internal/logging"
	"poputka/internal/models"
	"poputka/internal/outbox"
)

type State string

const (
	StateIdle           State = "idle"
	StateThreadSelected State = "thread-selected"
	StatePolling        State = "polling"
)

// Backend is the chat server as seen by the engine.
type Backend interface {
	directory.PartnerSource
	outbox.Submitter
	History(ctx context.Context, userID, partnerID string) ([]models.Message, error)
}

type Config struct {
	UserID                string
	Role                  models.Role
	PollInterval          time.Duration
	AutoSelectFirstThread bool
	Transport             config.Transport

	Backend  Backend
	Profiles directory.ProfileSource // optional
	Stream   Subscriber              // required for the stream transport

	// OnEvent is called from background goroutines and must not block.
	OnEvent func(Event)
	Logger  *zap.Logger
}

// Engine keeps the message store of one selected thread in sync with the
// server. It serves both roles; the role only changes which id is "self" and
// how partners are labelled.
type Engine struct {
	userID     string
	interval   time.Duration
	autoSelect bool
	transport  config.Transport
	backend    Backend
	subscriber Subscriber
	onEvent    func(Event)
	base       *zap.Logger
	log        *zap.Logger

	store *chat.Store
	dir   *directory.Directory

	ctx      context.Context
	cancel   context.CancelFunc
	disposed atomic.Bool

	mu       sync.Mutex
	state    State
	selected string
	// epoch changes on every selection. Work started for an older epoch is
	// stale and must not touch the store.
	epoch  uint64
	feed   Feed
	outbox *outbox.Coordinator

	// retired feeds and coordinators still settling
	background sync.WaitGroup
}

func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = config.TransportPoll
	}
	if cfg.Transport == config.TransportStream && cfg.Stream == nil {
		return nil, errors.New("stream transport requires a subscriber")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}

	base := logging.OrNop(cfg.Logger).With(
		zap.String("user_id", cfg.UserID),
		zap.String("role", string(cfg.Role)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		userID:     cfg.UserID,
		interval:   cfg.PollInterval,
		autoSelect: cfg.AutoSelectFirstThread,
		transport:  cfg.Transport,
		backend:    cfg.Backend,
		subscriber: cfg.Stream,
		onEvent:    cfg.OnEvent,
		base:       base,
		log:        base.With(zap.String("component", "engine")),
		store:      chat.New(chat.Config{}),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
	}
	e.dir = directory.New(ctx, directory.Config{
		Role:     cfg.Role,
		Source:   cfg.Backend,
		Profiles: cfg.Profiles,
		Logger:   base,
	})

	return e, nil
}

// LoadPartners refreshes the partner list. On failure the previous list is
// kept and returned with the error. With auto-select enabled the first
// partner is selected when no thread is selected yet.
func (e *Engine) LoadPartners(ctx context.Context) ([]models.Partner, error) {
	if e.disposed.Load() {
		return nil, models.ErrDisposed
	}

	partners, err := e.dir.Load(ctx, e.userID)
	if err != nil {
		e.emit(Event{Kind: EventPartnersFailed, Err: err})
		return partners, err
	}
	e.emit(Event{Kind: EventPartnersUpdated})

	if e.autoSelect && len(partners) > 0 && e.Selected() == "" {
		if err := e.SelectThread(ctx, partners[0].ID); err != nil {
			e.log.Warn("auto-select failed", zap.String("partner_id", partners[0].ID), zap.Error(err))
		}
	}

	return partners, nil
}

// SelectThread makes partnerID the active thread: the previous feed is
// retired, the store is cleared, history is loaded and a new feed starts.
// A hung request of the previous thread never delays the switch.
// Selecting the active thread again does nothing.
//
// A history failure is returned but the thread stays selected and the feed
// still starts, so the next tick can recover.
func (e *Engine) SelectThread(ctx context.Context, partnerID string) error {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return fmt.Errorf("%w: partner id is empty", models.ErrValidation)
	}

	e.mu.Lock()
	if e.disposed.Load() {
		e.mu.Unlock()
		return models.ErrDisposed
	}
	if e.selected == partnerID {
		e.mu.Unlock()
		return nil
	}

	e.epoch++
	epoch := e.epoch
	// The retired feed and coordinator can only write through the old epoch,
	// so they settle in the background. Dispose joins them.
	if prev := e.feed; prev != nil {
		e.background.Go(prev.Stop)
	}
	if prev := e.outbox; prev != nil {
		e.background.Go(prev.Wait)
	}

	e.feed = nil
	e.selected = partnerID
	e.state = StateThreadSelected
	e.store.Clear()
	e.outbox = e.newOutbox(epoch)
	e.mu.Unlock()

	log := e.log.With(zap.String("partner_id", partnerID), zap.Uint64("epoch", epoch))
	log.Debug("thread selected")

	e.emit(Event{Kind: EventThreadUpdated, PartnerID: partnerID})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	history, histErr := e.backend.History(ctx, e.userID, partnerID)
	if histErr != nil {
		histErr = fmt.Errorf("load history: %w", histErr)
	} else if err := e.apply(epoch, partnerID, history); err != nil {
		log.Debug("dropping stale history")
		return nil
	}

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		log.Debug("selection superseded during history load")
		return nil
	}
	e.feed = e.startFeed(epoch, partnerID)
	e.state = StatePolling
	e.mu.Unlock()

	if histErr != nil {
		log.Warn("failed to load history", zap.Error(histErr))
		e.emit(Event{Kind: EventHistoryFailed, PartnerID: partnerID, Err: histErr})
		return histErr
	}
	return nil
}

// Send hands content to the coordinator of the selected thread. The returned
// message is the pending copy already visible in Snapshot.
func (e *Engine) Send(content string) (models.Message, error) {
	e.mu.Lock()
	if e.disposed.Load() {
		e.mu.Unlock()
		return models.Message{}, models.ErrDisposed
	}
	partnerID, ob := e.selected, e.outbox
	e.mu.Unlock()

	if partnerID == "" || ob == nil {
		return models.Message{}, models.ErrNoActiveThread
	}
	return ob.Send(e.ctx, content, partnerID)
}

// Dispose stops the feed, cancels everything in flight and waits for it to
// settle. No events are emitted afterwards. Dispose is idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed.Swap(true) {
		e.mu.Unlock()
		return
	}
	e.epoch++
	feed, ob := e.feed, e.outbox
	e.feed, e.outbox = nil, nil
	e.selected = ""
	e.state = StateIdle
	e.store.Clear()
	e.mu.Unlock()

	e.cancel()
	if feed != nil {
		feed.Stop()
	}
	if ob != nil {
		ob.Wait()
	}
	e.background.Wait()

	e.log.Debug("engine disposed")
}

// Snapshot returns the messages of the selected thread in display order.
func (e *Engine) Snapshot() []models.Message {
	return e.store.Snapshot()
}

func (e *Engine) Partners() []models.Partner {
	return e.dir.Partners()
}

func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) UserID() string {
	return e.userID
}

// apply merges msgs into the store if epoch is still current.
func (e *Engine) apply(epoch uint64, partnerID string, msgs []models.Message) error {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return models.ErrStaleResult
	}
	changed := e.store.Merge(msgs)
	e.mu.Unlock()

	if changed {
		e.emit(Event{Kind: EventThreadUpdated, PartnerID: partnerID})
	}
	return nil
}

func (e *Engine) newOutbox(epoch uint64) *outbox.Coordinator {
	return outbox.New(outbox.Config{
		SelfID:    e.userID,
		Submitter: e.backend,
		Store:     &boundStore{engine: e, epoch: epoch},
		OnResult:  e.onSendResult,
		Logger:    e.base,
	})
}

func (e *Engine) onSendResult(res outbox.Result) {
	if res.State != outbox.StateFailed {
		return
	}
	e.emit(Event{
		Kind:      EventSendFailed,
		PartnerID: res.PartnerID,
		Content:   res.Content,
		Err:       res.Err,
	})
}

func (e *Engine) emit(ev Event) {
	if e.onEvent == nil || e.disposed.Load() {
		return
	}
	e.onEvent(ev)
}

// boundStore is the store as seen by the coordinator of one selection.
// Writes after the selection changed are dropped.
type boundStore struct {
	engine *Engine
	epoch  uint64
}

func (b *boundStore) AppendOptimistic(msg models.Message) models.Message {
	e := b.engine
	e.mu.Lock()
	if e.epoch != b.epoch {
		e.mu.Unlock()
		msg.State = models.DeliveryPending
		return msg
	}
	msg = e.store.AppendOptimistic(msg)
	e.mu.Unlock()

	e.emit(Event{Kind: EventThreadUpdated, PartnerID: msg.ReceiverID})
	return msg
}

func (b *boundStore) Confirm(provisionalID, serverID models.ID, ts time.Time) bool {
	return b.update(func(s *chat.Store) bool {
		return s.Confirm(provisionalID, serverID, ts)
	})
}

func (b *boundStore) Discard(provisionalID models.ID) bool {
	return b.update(func(s *chat.Store) bool {
		return s.Discard(provisionalID)
	})
}

func (b *boundStore) update(fn func(*chat.Store) bool) bool {
	e := b.engine
	e.mu.Lock()
	if e.epoch != b.epoch {
		e.mu.Unlock()
		return false
	}
	changed := fn(e.store)
	partnerID := e.selected
	e.mu.Unlock()

	if changed {
		e.emit(Event{Kind: EventThreadUpdated, PartnerID: partnerID})
	}
	return changed
}
