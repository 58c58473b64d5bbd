// Package signal is the WebSocket client of the signaling channel.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/sfuclient/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	URL            string
	RequestTimeout time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	ReadLimit      int64
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// Client implements core.Signaler over one WebSocket connection.
type Client struct {
	conn *websocket.Conn
	opts Options
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	nextID  atomic.Uint64
	pmu     sync.Mutex
	pending map[uint64]chan envelope

	hmu      sync.RWMutex
	handlers map[string]core.EventHandler
	events   chan envelope
}

var _ core.Signaler = (*Client)(nil)

// Dial connects to the signaling server and starts the pumps. They stop
// when ctx is done or the connection fails; Close releases everything.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	log.Info().Str("module", "signal").Str("url", opts.URL).Msg("connected")
	return newClient(ctx, ws, opts), nil
}

func newClient(ctx context.Context, ws *websocket.Conn, opts Options) *Client {
	c := &Client{
		conn:     ws,
		opts:     opts,
		send:     make(chan core.Frame, opts.SendBuffer),
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan envelope),
		handlers: make(map[string]core.EventHandler),
		events:   make(chan envelope, 64),
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c.done
		cancel()
	}()
	go c.writePump(ctx)
	go c.readPump(ctx)
	go c.dispatch(ctx)
	return c
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// TrySend queues a frame for the write pump without blocking.
func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrSignalClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
	log.Info().Str("module", "signal").Msg("connection closed")
}

func (c *Client) On(event string, fn core.EventHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = fn
}

func (c *Client) Request(ctx context.Context, method string, payload any, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", method, err)
	}
	id := c.nextID.Add(1)
	frame, err := json.Marshal(envelope{Type: method, ID: id, Data: data})
	if err != nil {
		return fmt.Errorf("%s: encode: %w", method, err)
	}

	if _, ok := ctx.Deadline(); !ok && c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	ch := make(chan envelope, 1)
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer c.forget(id)

	if err := c.TrySend(frame); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	log.Debug().Str("module", "signal").Str("method", method).Uint64("id", id).Msg("request sent")

	var ack envelope
	select {
	case ack = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%s: %w", method, core.ErrSignalClosed)
	}
	return decodeAck(method, ack.Data, reply)
}

func (c *Client) forget(id uint64) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	delete(c.pending, id)
}

func (c *Client) resolve(ack envelope) bool {
	c.pmu.Lock()
	ch, ok := c.pending[ack.ID]
	delete(c.pending, ack.ID)
	c.pmu.Unlock()
	if ok {
		ch <- ack
	}
	return ok
}

// decodeAck turns acknowledgement data into reply. An object with a
// non-empty error field is a *core.ServerError.
func decodeAck(method string, data json.RawMessage, reply any) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var e ackError
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("%s: %w: %v", method, core.ErrMalformedResponse, err)
		}
		if e.Error != "" {
			return &core.ServerError{Method: method, Reason: e.Error}
		}
	}
	if reply == nil {
		return nil
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%s: %w: empty acknowledgement", method, core.ErrMalformedResponse)
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("%s: %w: %v", method, core.ErrMalformedResponse, err)
	}
	return nil
}
