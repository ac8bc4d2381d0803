package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"poputka/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(userID, partnerID string) (uint64, chan models.StreamFrame)
	Leave(userID, partnerID string, id uint64)
}

// Connection streams one thread to one websocket client.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	partnerID  string
	subID      uint64
	fromServer chan models.StreamFrame
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID string,
	partnerID string,
) *Connection {
	id, ch := hub.Join(userID, partnerID)
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		partnerID:  partnerID,
		subID:      id,
		fromServer: ch,
		errorCh:    make(chan error, 2),
	}
}

// ErrEvicted ends a connection the hub dropped for falling behind.
var ErrEvicted = errors.New("subscriber fell behind")

// BacklogFunc loads the thread history sent ahead of live frames.
type BacklogFunc func() ([]models.WireMessage, error)

// Handle writes the backlog, then every frame the hub publishes, until the
// client goes away or ctx is done. The connection is already subscribed when
// the backlog is loaded, so nothing stored in between is lost; a message may
// arrive twice instead.
func (c *Connection) Handle(ctx context.Context, backlog BacklogFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.errorCh)
		c.hub.Leave(c.userID, c.partnerID, c.subID)
	}()

	if err := c.writeBacklog(backlog); err != nil {
		cancel()
		_ = c.ws.Close()
		return err
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.drainClient()
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) writeBacklog(backlog BacklogFunc) error {
	msgs, err := backlog()
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}
	if msgs == nil {
		msgs = []models.WireMessage{}
	}
	return c.ws.WriteJSON(models.StreamFrame{Messages: msgs})
}

// drainClient reads until the client disconnects. Subscribers do not send
// anything meaningful; reading keeps close frames flowing.
func (c *Connection) drainClient() error {
	for {
		var ignored map[string]any
		if err := c.ws.ReadJSON(&ignored); err != nil {
			return err
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame, ok := <-c.fromServer:
			if !ok {
				return ErrEvicted
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
