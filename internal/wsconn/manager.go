package wsconn

import (
	"context"
	"sync"

	"github.com/phuslu/log"
)

// Manager owns at most one live Conn to a fixed endpoint. The Conn is created
// lazily by Send and discarded by Close, so the next Send starts over.
type Manager struct {
	mu     sync.Mutex
	config Config
	log    log.Logger
	dial   dialFunc
	c      *Conn
}

func NewManager(config Config) *Manager {
	m := &Manager{config: config}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "wsconn").Value()
	m.dial = defaultDial
	return m
}

func (m *Manager) SetLogger(logger log.Logger) {
	m.log = logger
}

func (m *Manager) conn() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		m.c = newConn(&m.config, m.log, m.dial)
		m.c.start()
	}
	return m.c
}

// Send writes payload as one text frame. It reports false instead of failing
// when the connection cannot be opened within ConnectTimeout or is not open.
func (m *Manager) Send(ctx context.Context, payload []byte) bool {
	if ctx.Err() != nil {
		return false
	}
	c := m.conn()
	if c.State() == Connecting {
		if err := c.wait_open(ctx, m.config.ConnectTimeout); err != nil {
			m.log.Error().Err(err).Str("state", string(c.State())).Msg("failed to send location data")
			return false
		}
	}
	if err := c.write(ctx, payload); err != nil {
		m.log.Error().Err(err).Str("state", string(c.State())).Msg("failed to send location data")
		return false
	}
	m.log.Debug().RawJSON("payload", payload).Msg("location data sent successfully")
	return true
}

func (m *Manager) Status() State {
	m.mu.Lock()
	c := m.c
	m.mu.Unlock()
	if c == nil {
		return Disconnected
	}
	return c.State()
}

func (m *Manager) Close() {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c != nil {
		c.close()
	}
}
