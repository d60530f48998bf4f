package client

import (
	"chatterbox/internal/models"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Realtime receives server events over a websocket and fans newMessage
// events out to registered handlers. Run keeps the connection alive,
// reconnecting with exponential backoff; after a reconnect the server is
// asked to replay messages newer than the last one received.
type Realtime struct {
	url        string
	userID     string
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration

	mu                sync.Mutex
	handlers          map[int]func(models.Message)
	reconnectHandlers map[int]func()
	next              int
	lastSeen          time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRealtime builds a transport for the server at baseURL (http or https).
func NewRealtime(baseURL, userID string) *Realtime {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	return &Realtime{
		url:               u + "/api/ws",
		userID:            userID,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minBackoff:        defaultMinBackoff,
		maxBackoff:        defaultMaxBackoff,
		handlers:          make(map[int]func(models.Message)),
		reconnectHandlers: make(map[int]func()),
		ready:             make(chan struct{}),
	}
}

// SetBackoff overrides the reconnect delay bounds.
func (r *Realtime) SetBackoff(minDelay, maxDelay time.Duration) {
	r.minBackoff, r.maxBackoff = minDelay, maxDelay
}

// Ready is closed once the first connection is established.
func (r *Realtime) Ready() <-chan struct{} {
	return r.ready
}

func (r *Realtime) OnMessage(handler func(models.Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	r.handlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

func (r *Realtime) OnReconnect(handler func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	r.reconnectHandlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.reconnectHandlers, id)
	}
}

// Run blocks until ctx is cancelled.
func (r *Realtime) Run(ctx context.Context) error {
	connected := false
	attempt := 0
	for {
		conn, err := r.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := r.backoff(attempt)
			slog.Warn("realtime dial failed", "error", err, "retry_in", delay)
			attempt++
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		if connected {
			r.fireReconnect()
		}
		connected = true
		r.readyOnce.Do(func() { close(r.ready) })

		err = r.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("realtime connection lost", "error", err)
	}
}

func (r *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}

	r.mu.Lock()
	since := r.lastSeen
	r.mu.Unlock()
	if !since.IsZero() {
		q := u.Query()
		q.Set("since", strconv.FormatInt(since.UnixNano(), 10))
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set(UserHeader, r.userID)

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		var evt models.ServerEvent
		if err := conn.ReadJSON(&evt); err != nil {
			return err
		}
		if evt.Type != models.ServerEventNewMessage || evt.Message == nil {
			slog.Debug("ignoring realtime event", "type", evt.Type)
			continue
		}
		r.dispatch(*evt.Message)
	}
}

func (r *Realtime) dispatch(msg models.Message) {
	r.mu.Lock()
	if msg.CreatedAt.After(r.lastSeen) {
		r.lastSeen = msg.CreatedAt
	}
	handlers := make([]func(models.Message), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (r *Realtime) fireReconnect() {
	r.mu.Lock()
	handlers := make([]func(), 0, len(r.reconnectHandlers))
	for _, h := range r.reconnectHandlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

func (r *Realtime) backoff(attempt int) time.Duration {
	d := r.minBackoff
	for i := 0; i < attempt && d < r.maxBackoff; i++ {
		d *= 2
	}
	return min(d, r.maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
