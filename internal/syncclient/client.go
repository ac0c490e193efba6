// Package syncclient connects the local database to the sync backend.
//
// While connected, an uploader sends the captured upload queue in batches
// over a websocket and deletes each batch once the backend acknowledges it:
//
//	client → {"type":"upload","batch":[{"id":1,"table":"categories",...}]}
//	server → {"type":"ack","ids":[1]}
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nazar-pal/breadly-sub000/internal/clock"
	"github.com/nazar-pal/breadly-sub000/internal/store"
)

// UserHeader carries the user the connection syncs for.
const UserHeader = "X-Breadly-User"

const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = time.Second
	ackTimeoutFlushes    = 10
	closeTimeout         = 2 * time.Second
)

// ErrNoBackend is returned by Connect when no backend URL is configured.
var ErrNoBackend = errors.New("no sync backend configured")

// Queue is the local side of the upload queue.
type Queue interface {
	PendingUploads(ctx context.Context) (int, error)
	NextUploads(ctx context.Context, limit int) ([]store.Upload, error)
	AckUploads(ctx context.Context, ids []int64) error
	ClearSyncedData(ctx context.Context) error
}

type message struct {
	Type  string         `json:"type"`
	Batch []store.Upload `json:"batch,omitempty"`
	IDs   []int64        `json:"ids,omitempty"`
}

// Client owns at most one backend connection.
type Client struct {
	url           string
	queue         Queue
	dialer        *websocket.Dialer
	clock         clock.Clock
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	// connectMu serialises Connect and Reconnect across the dial.
	connectMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	userID  string
	desired string
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	closing bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the clock driving the uploader.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithBatchSize sets how many queued changes go out per message.
func WithBatchSize(n int) Option {
	return func(c *Client) { c.batchSize = n }
}

// WithFlushInterval sets how often the uploader looks at the queue.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Client) { c.flushInterval = d }
}

// New returns a disconnected client for the websocket endpoint url.
func New(url string, queue Queue, opts ...Option) *Client {
	c := &Client{
		url:   url,
		queue: queue,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		},
		clock:         clock.System{},
		logger:        slog.Default(),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the connection for userID and starts uploading. An open
// connection for the same user is kept; one for another user is replaced.
// A failed dial is retried by Reconnect until Disconnect is called.
func (c *Client) Connect(ctx context.Context, userID string) error {
	if c.url == "" {
		return ErrNoBackend
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connect(ctx, userID)
}

func (c *Client) connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.conn != nil && c.userID == userID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.Disconnect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.desired = userID
	c.mu.Unlock()

	header := http.Header{}
	header.Set(UserHeader, userID)
	conn, res, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("connect sync backend: %w", err)
	}
	res.Body.Close()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	acks := make(chan struct{}, 1)

	c.mu.Lock()
	if c.desired != userID {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		cancel()
		conn.Close()
		c.logger.Debug("dropping superseded sync connection", "user_id", userID)
		return nil
	}
	c.conn = conn
	c.userID = userID
	c.cancel = cancel
	c.closing = false
	c.loops.Add(2)
	c.mu.Unlock()

	go c.readLoop(loopCtx, cancel, conn, acks)
	go c.uploadLoop(loopCtx, conn, acks)

	c.logger.Info("sync backend connected", "user_id", userID)
	return nil
}

// Disconnect closes the connection. Disconnecting while disconnected
// succeeds.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.desired = ""
	conn, cancel, userID := c.conn, c.cancel, c.userID
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.cancel = nil
	c.userID = ""
	c.closing = true
	c.mu.Unlock()

	cancel()
	deadline := time.Now().Add(closeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()
	c.loops.Wait()

	c.logger.Info("sync backend disconnected", "user_id", userID)
	if err != nil {
		return fmt.Errorf("close sync connection: %w", err)
	}
	return nil
}

// DisconnectAndClear disconnects and deletes every synced row, synced
// reference row and queued change from the local database.
func (c *Client) DisconnectAndClear(ctx context.Context) error {
	if err := c.Disconnect(ctx); err != nil {
		c.logger.Warn("disconnect before clear failed", "error", err)
	}
	if err := c.queue.ClearSyncedData(ctx); err != nil {
		return fmt.Errorf("clear synced data: %w", err)
	}
	return nil
}

// PendingCount returns the number of changes not yet acknowledged.
func (c *Client) PendingCount(ctx context.Context) (int, error) {
	return c.queue.PendingUploads(ctx)
}

// Reconnect reopens a connection that was lost without Disconnect being
// called. It does nothing when connected or when no connection is wanted.
func (c *Client) Reconnect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	desired, connected := c.desired, c.conn != nil
	c.mu.Unlock()

	if desired == "" || connected {
		return nil
	}
	return c.connect(ctx, desired)
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, acks chan<- struct{}) {
	defer c.loops.Done()
	defer cancel()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closing := c.closing || c.conn != conn
			c.mu.Unlock()
			if !closing {
				c.logger.Warn("sync connection lost", "error", err)
				c.mu.Lock()
				c.conn = nil
				c.userID = ""
				c.mu.Unlock()
				conn.Close()
			}
			return
		}

		if msg.Type != "ack" {
			c.logger.Debug("ignoring sync message", "type", msg.Type)
			continue
		}
		if err := c.queue.AckUploads(ctx, msg.IDs); err != nil {
			c.logger.Warn("ack uploads failed", "error", err)
			continue
		}
		select {
		case acks <- struct{}{}:
		default:
		}
	}
}

func (c *Client) uploadLoop(ctx context.Context, conn *websocket.Conn, acks <-chan struct{}) {
	defer c.loops.Done()

	inflight := 0
	for {
		if inflight > 0 {
			inflight++
			if inflight > ackTimeoutFlushes {
				c.logger.Warn("upload batch not acknowledged, resending")
				inflight = 0
			}
		}

		if inflight == 0 {
			batch, err := c.queue.NextUploads(ctx, c.batchSize)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				c.logger.Warn("read upload queue failed", "error", err)
			case len(batch) > 0:
				if err := conn.WriteJSON(message{Type: "upload", Batch: batch}); err != nil {
					if ctx.Err() == nil {
						c.logger.Warn("send upload batch failed", "error", err)
					}
					return
				}
				c.logger.Debug("sent upload batch", "size", len(batch))
				inflight = 1
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-acks:
			inflight = 0
		case <-c.clock.After(c.flushInterval):
		}
	}
}
