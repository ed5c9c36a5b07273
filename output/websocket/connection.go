package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/fanout"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/types"
)

// Queries serves the request/response commands.
type Queries interface {
	LatestReading(ctx context.Context, tag string) (*types.Reading, error)
	ListThresholds(ctx context.Context) ([]types.ThresholdLimit, error)
}

// Connection states
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosed
)

// Connection is one live client. It is a fanout.Subscriber; every outbound
// frame goes through a single writer goroutine so frames reach the client in
// enqueue order.
type Connection struct {
	id      string
	conn    *websocket.Conn
	hub     *fanout.Hub
	queries Queries
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	closeOnce sync.Once
	onClose   func(*Connection)
}

func newConnection(
	ctx context.Context,
	id string,
	conn *websocket.Conn,
	s *Server,
) *Connection {
	cctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		id:      id,
		conn:    conn,
		hub:     s.hub,
		queries: s.queries,
		cfg:     s.cfg,
		logger:  s.logger.With("connection_id", id),
		metrics: s.metrics,
		send:    make(chan []byte, s.cfg.SendQueue),
		done:    make(chan struct{}),
		limiter: s.queryLimiter,
		ctx:     cctx,
		cancel:  cancel,
		onClose: s.removeClient,
	}
	c.state.Store(stateConnecting)
	return c
}

// ID implements fanout.Subscriber.
func (c *Connection) ID() string { return c.id }

// IsOpen reports whether the connection accepts frames.
func (c *Connection) IsOpen() bool { return c.state.Load() == stateOpen }

// Deliver implements fanout.Subscriber. It enqueues the event for the writer
// and gives up when ctx is done.
func (c *Connection) Deliver(ctx context.Context, ev fanout.Event) error {
	if c.state.Load() == stateClosed {
		return errors.ErrConnectionClosed
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return errors.ErrDeliveryTimeout
	}
}

// Close implements fanout.Subscriber. It leaves every group, stops the
// goroutines and closes the socket. Only the first call has an effect.
func (c *Connection) Close(reason error) {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		close(c.done)
		c.cancel()

		left := c.hub.RemoveAll(c.id)
		if c.onClose != nil {
			c.onClose(c)
		}

		code := websocket.CloseNormalClosure
		text := ""
		if reason != nil && !errors.Is(reason, errors.ErrShuttingDown) {
			code = websocket.CloseGoingAway
			text = "closing"
		}
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()

		c.logger.Debug("Live connection closed", "groups_left", len(left), "reason", reason)
	})
}

// join adds the connection to group unless it has already closed.
func (c *Connection) join(group string) {
	c.hub.Subscribe(c, group)
	// Close may have run RemoveAll before Subscribe landed.
	if c.state.Load() == stateClosed {
		c.hub.RemoveAll(c.id)
	}
}

// reply enqueues a response frame. A client that cannot drain its queue within
// the write timeout is disconnected.
func (c *Connection) reply(data []byte) {
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case c.send <- data:
	case <-c.done:
	case <-timer.C:
		c.logger.Warn("Send queue full, dropping live connection")
		c.metrics.RecordDeliveryFailure("timeout")
		go c.Close(errors.ErrDeliveryTimeout)
	}
}

func (c *Connection) replyError(message string) {
	c.reply(mustMarshal(messageFrame{Type: frameError, Message: message}))
}

// writeLoop owns all writes to the socket.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Write failed", "error", err)
				go c.Close(errors.Wrap(err, "websocket", "writeLoop", "write frame"))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout),
			); err != nil {
				c.logger.Debug("Ping failed", "error", err)
				go c.Close(errors.Wrap(err, "websocket", "writeLoop", "ping"))
				return
			}
		}
	}
}

// readLoop handles inbound commands until the client goes away.
func (c *Connection) readLoop() {
	defer c.Close(nil)

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Unexpected close", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.handleFrame(data)
	}
}

func (c *Connection) handleFrame(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Command handler panicked", "panic", r)
			c.replyError("internal error")
		}
	}()

	cmd, err := ParseCommand(data)
	if err != nil {
		c.replyError("Invalid JSON format")
		return
	}

	switch cmd.Kind {
	case CommandSubscribeSensor:
		if cmd.Tag == "" {
			return
		}
		c.join(fanout.SensorGroup(cmd.Tag))
		c.reply(mustMarshal(tagFrame{Type: frameSubscribed, Tag: cmd.Tag}))
	case CommandUnsubscribeSensor:
		if cmd.Tag == "" {
			return
		}
		c.hub.Unsubscribe(c.id, fanout.SensorGroup(cmd.Tag))
		c.reply(mustMarshal(tagFrame{Type: frameUnsubscribed, Tag: cmd.Tag}))
	case CommandGetLatestData:
		if cmd.Tag == "" || !c.allowQuery() {
			return
		}
		c.reply(mustMarshal(readingFrame{Type: frameLatestData, Tag: cmd.Tag, Data: readingData(c.latest(cmd.Tag))}))
	case CommandGetThresholds:
		if !c.allowQuery() {
			return
		}
		c.reply(mustMarshal(thresholdsFrame{Type: frameThresholds, Data: thresholdData(c.thresholds())}))
	default:
		c.logger.Debug("Ignoring unknown command", "type", cmd.Type)
	}
}

// allowQuery takes a token from the shared query limiter. A refused query
// gets an error reply and is not run.
func (c *Connection) allowQuery() bool {
	if c.limiter == nil || c.limiter.Allow() {
		return true
	}
	c.logger.Debug("Query rate limited")
	c.replyError("Rate limit exceeded")
	return false
}

// latest returns nil when the tag has no readings or the lookup fails.
func (c *Connection) latest(tag string) *types.Reading {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.QueryTimeout)
	defer cancel()

	r, err := c.queries.LatestReading(ctx, tag)
	if err != nil {
		c.logger.Warn("Latest reading lookup failed", "tag", tag, "error", err)
		c.metrics.RecordStorageError("latest_reading")
		return nil
	}
	return r
}

// thresholds returns an empty list when the lookup fails.
func (c *Connection) thresholds() []types.ThresholdLimit {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.QueryTimeout)
	defer cancel()

	limits, err := c.queries.ListThresholds(ctx)
	if err != nil {
		c.logger.Warn("Threshold listing failed", "error", err)
		c.metrics.RecordStorageError("list_thresholds")
		return nil
	}
	return limits
}
