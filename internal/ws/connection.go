package ws

import (
	"chatterbox/internal/models"
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrUnknownUser = errors.New("unknown user")

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Join(userID string) (int, chan models.ServerEvent)
	Leave(userID string, connID int)
}

// Connection pumps hub events for one user to one socket. Clients do not
// send anything meaningful; reading only detects the socket going away.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	userID     string
	connID     int
	backlog    []models.Message
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	userID string,
) (*Connection, error) {
	connID, ch := hub.Join(userID)
	if ch == nil {
		return nil, ErrUnknownUser
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		connID:     connID,
		fromServer: ch,
		errorCh:    make(chan error, 2),
	}, nil
}

// SetBacklog queues messages to be written before any live event.
// Must be called before Handle.
func (c *Connection) SetBacklog(messages []models.Message) {
	c.backlog = messages
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(c.errorCh)
		c.hub.Leave(c.userID, c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
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
		select {
		case err = <-c.errorCh:
		default:
		}
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg json.RawMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for i := range c.backlog {
		event := models.ServerEvent{
			Type:    models.ServerEventNewMessage,
			Message: &c.backlog[i],
		}
		if err := c.ws.WriteJSON(event); err != nil {
			return err
		}
	}
	c.backlog = nil

	for {
		select {
		case event, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(event); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
