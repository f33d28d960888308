// README: Transport channel; one redis pub/sub connection per authenticated
// session, resubscribed automatically with fixed backoff.
package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tripsync/internal/types"
)

// Credentials authenticate one client session with the broker.
type Credentials struct {
	UserID types.ID
	Token  string
	Role   types.Role
}

// Message is one raw inbound broker message before normalization.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives every inbound message for the subscribed topics.
type Handler func(msg Message)

// StatusFunc observes connection state changes. Used by the view layer for a
// non-blocking banner; a disconnect never clears session state.
type StatusFunc func(connected bool)

type conn interface {
	Messages() <-chan Message
	Close() error
}

type dialFunc func(ctx context.Context, topics []string) (conn, error)

// Channel subscribes to the role-appropriate topics and pumps messages to a
// handler. Connection loss triggers retry with a fixed backoff; there is no
// replay buffer, so events published while disconnected are missed and
// catch-up relies on the next REST poll.
type Channel struct {
	dial    dialFunc
	clk     clock.Clock
	log     *zap.Logger
	backoff time.Duration

	handler Handler
	status  StatusFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Option configures a Channel.
type Option func(*Channel)

func WithClock(clk clock.Clock) Option {
	return func(c *Channel) { c.clk = clk }
}

func WithBackoff(d time.Duration) Option {
	return func(c *Channel) { c.backoff = d }
}

func WithStatusFunc(fn StatusFunc) Option {
	return func(c *Channel) { c.status = fn }
}

// NewChannel builds a channel over the given redis client. The client itself
// carries the bearer credential; topics derive from the credential's user and
// role at Connect time.
func NewChannel(rdb *redis.Client, log *zap.Logger, opts ...Option) *Channel {
	c := newChannel(func(ctx context.Context, topics []string) (conn, error) {
		sub := rdb.Subscribe(ctx, topics...)
		// force the SUBSCRIBE round trip so dial errors surface here
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return nil, err
		}
		return &redisConn{sub: sub}, nil
	}, log, opts...)
	return c
}

func newChannel(dial dialFunc, log *zap.Logger, opts ...Option) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{
		dial:    dial,
		clk:     clock.New(),
		log:     log,
		backoff: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the inbound handler. Must be called before Connect.
func (c *Channel) OnMessage(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect subscribes to the topics for the credential's role and starts the
// receive pump. It returns once the initial subscription is established; the
// pump then keeps the subscription alive until Disconnect or ctx cancellation.
func (c *Channel) Connect(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("channel already connected")
	}
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return errors.New("no message handler registered")
	}

	topics := TopicsFor(creds.Role, creds.UserID)
	first, err := c.dial(ctx, topics)
	if err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.started = true
	c.mu.Unlock()

	c.setConnected(true)
	go c.pump(pumpCtx, first, topics, handler, done)
	return nil
}

// Disconnect stops the pump and closes the subscription.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.started = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Channel) pump(ctx context.Context, cur conn, topics []string, handler Handler, done chan struct{}) {
	defer close(done)
	for {
		c.drain(ctx, cur, handler)
		_ = cur.Close()
		if ctx.Err() != nil {
			return
		}

		// connection lost: hold phase progression, retry with fixed backoff
		c.setConnected(false)
		c.log.Warn("push channel lost, reconnecting", zap.Duration("backoff", c.backoff))

		next, err := c.redial(ctx, topics)
		if err != nil {
			return
		}
		cur = next
		c.setConnected(true)
		c.log.Info("push channel restored")
	}
}

// drain pumps messages until the connection dies or ctx is cancelled.
func (c *Channel) drain(ctx context.Context, cur conn, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-cur.Messages():
			if !ok {
				return
			}
			handler(msg)
		}
	}
}

// redial retries the subscription until it succeeds or ctx is cancelled.
func (c *Channel) redial(ctx context.Context, topics []string) (conn, error) {
	for {
		timer := c.clk.Timer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		next, err := c.dial(ctx, topics)
		if err == nil {
			return next, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("push channel redial failed", zap.Error(err))
	}
}

func (c *Channel) setConnected(connected bool) {
	if c.status != nil {
		c.status(connected)
	}
}

type redisConn struct {
	sub  *redis.PubSub
	once sync.Once
	out  chan Message
}

func (r *redisConn) Messages() <-chan Message {
	r.once.Do(func() {
		r.out = make(chan Message)
		go func() {
			defer close(r.out)
			for m := range r.sub.Channel() {
				r.out <- Message{Topic: m.Channel, Payload: []byte(m.Payload)}
			}
		}()
	})
	return r.out
}

func (r *redisConn) Close() error {
	return r.sub.Close()
}
