package wsconn

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Closing      State = "closing"
	Closed       State = "closed"
	Unknown      State = "unknown"
)

var (
	errConnectTimeout = errors.New("connection timeout")
	errConnectFailed  = errors.New("connection failed")
	errNotOpen        = errors.New("websocket is not open")
)

type Config struct {
	Url               string
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
	GrowFactor        float64
	MaxRetries        int
}

func DefaultConfig(url string) Config {
	return Config{
		Url:               url,
		ConnectTimeout:    5 * time.Second,
		WriteTimeout:      5 * time.Second,
		MinReconnectDelay: 1000 * time.Millisecond,
		MaxReconnectDelay: 4000 * time.Millisecond,
		GrowFactor:        1.3,
		MaxRetries:        3,
	}
}

// delay returns the wait before connection attempt number retry.
// Attempt 0 is the initial connect and is not delayed.
func (c *Config) delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := float64(c.MinReconnectDelay) * math.Pow(c.GrowFactor, float64(retry-1))
	if d > float64(c.MaxReconnectDelay) {
		return c.MaxReconnectDelay
	}
	return time.Duration(d)
}

type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{CompressionMode: websocket.CompressionDisabled})
	return c, err
}

// Conn is one logical reconnecting connection. It dials in the background,
// redials with backoff after an unexpected disconnect and gives up after
// MaxRetries consecutive failures, staying Closed from then on.
type Conn struct {
	config *Config
	log    log.Logger
	dial   dialFunc
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	changed chan struct{}
	ws      *websocket.Conn
	retry   int
	closing bool

	wmu sync.Mutex
}

func newConn(config *Config, logger log.Logger, dial dialFunc) *Conn {
	o := &Conn{config: config, log: logger, dial: dial}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.done = make(chan struct{})
	o.state = Connecting
	o.changed = make(chan struct{})
	o.retry = -1
	return o
}

func (c *Conn) start() {
	go c.run()
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return Unknown
	}
	return c.state
}

func (c *Conn) set_state(s State) {
	c.mu.Lock()
	c.set_state_locked(s)
	c.mu.Unlock()
}

func (c *Conn) set_state_locked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Conn) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) run() {
	defer close(c.done)
	for {
		if !c.next_attempt() {
			return
		}
		c.set_state(Connecting)
		dctx, cancel := context.WithTimeout(c.ctx, c.config.ConnectTimeout)
		ws, err := c.dial(dctx, c.config.Url)
		cancel()
		if err != nil {
			if c.stopped() {
				return
			}
			c.log.Error().Err(err).Int("retry", c.retry).Str("url", c.config.Url).Msg("websocket error")
			c.set_state(Closed)
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		c.ws = ws
		c.retry = 0
		c.set_state_locked(Connected)
		c.mu.Unlock()
		c.log.Info().Str("url", c.config.Url).Msg("websocket connected successfully")

		err = c.read_loop(ws)

		c.mu.Lock()
		c.ws = nil
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		c.log.Info().Err(err).Int("code", int(websocket.CloseStatus(err))).Msg("websocket closed")
		c.set_state(Closed)
	}
}

// next_attempt accounts for one more connection attempt and waits out its
// backoff delay. It returns false once retries are exhausted or on close.
func (c *Conn) next_attempt() bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}
	if c.retry >= c.config.MaxRetries {
		c.mu.Unlock()
		c.log.Warn().Int("max_retries", c.config.MaxRetries).Msg("max retries reached, giving up")
		return false
	}
	c.retry++
	d := c.config.delay(c.retry)
	c.mu.Unlock()
	if d == 0 {
		return true
	}
	c.log.Debug().Int("retry", c.retry).Dur("delay", d).Msg("waiting before reconnect")
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// read_loop drains incoming frames; nothing sent by the server is consumed.
func (c *Conn) read_loop(ws *websocket.Conn) error {
	for {
		_, _, err := ws.Read(c.ctx)
		if err != nil {
			return err
		}
	}
}

// wait_open blocks while the connection is Connecting. Any transition out of
// Connecting other than to Connected is reported as a failure.
func (c *Conn) wait_open(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		c.mu.Lock()
		st := c.state
		ch := c.changed
		c.mu.Unlock()
		switch st {
		case Connected:
			return nil
		case Connecting:
		default:
			return errConnectFailed
		}
		select {
		case <-ch:
		case <-t.C:
			return errConnectTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	ws := c.ws
	st := c.state
	c.mu.Unlock()
	if st != Connected || ws == nil {
		return errNotOpen
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, payload)
}

// close stops reconnection and tears the connection down. Safe to call more than once.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closing = true
	ws := c.ws
	c.set_state_locked(Closing)
	c.mu.Unlock()

	if ws != nil {
		err := ws.Close(websocket.StatusNormalClosure, "closed by client")
		if err != nil {
			c.log.Debug().Err(err).Msg("error while closing websocket")
		}
	}
	c.cancel()
	<-c.done
	c.set_state(Closed)
	c.log.Info().Str("url", c.config.Url).Msg("websocket closed by client")
}
