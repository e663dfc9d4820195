// Package device implements the positioning capability on top of a GPS
// device that connects over TCP and streams length framed JSON messages.
// Only one device is attached at a time; a new login replaces the older
// connection.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/gpsreporter/internal/position"
	"nuha.dev/gpsreporter/internal/report"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	CONNECTION_REPLACED string = "connection_replaced"
)

type Config struct {
	ListenAddr string
	MaxAge     time.Duration
}

type Provider struct {
	mu          sync.Mutex
	log         log.Logger
	config      *Config
	listener    net.Listener
	cid_counter uint64
	current     *Conn
	login       *LoginMessage
	now         func() time.Time
	lastMsg
}

type lastMsg struct {
	loc         LocationMessage
	loc_time    time.Time
	has_fix     bool
	status      StatusMessage
	status_time time.Time
}

func NewProvider(config *Config) *Provider {
	p := &Provider{config: config}
	p.log = log.DefaultLogger
	p.log.Context = log.NewContext(nil).Str("module", "gps-device").Value()
	p.now = time.Now
	return p
}

func (p *Provider) SetLogger(logger log.Logger) {
	p.log = logger
}

// Listen binds the device listener. Serve must be called to accept devices.
func (p *Provider) Listen() error {
	ln, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.listener = &proxyproto.Listener{Listener: ln}
	p.mu.Unlock()
	p.log.Info().Msgf("gps device listener on %s", ln.Addr())
	return nil
}

func (p *Provider) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Provider) Serve() {
	p.mu.Lock()
	ln := p.listener
	p.mu.Unlock()
	if ln == nil {
		p.log.Error().Msg("serve called before listen")
		return
	}
	for {
		_c, err := ln.Accept()
		if err != nil {
			p.log.Info().Err(err).Msg("device listener stopped")
			return
		}
		p.mu.Lock()
		p.cid_counter = p.cid_counter + 1
		cid := p.cid_counter
		p.mu.Unlock()
		// the proxy header is read lazily, keep it off the accept loop
		go func() {
			_ = _c.SetReadDeadline(time.Now().Add(2 * time.Second))
			c := NewConn(_c, cid)
			p.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
			p.handle(c)
		}()
	}
}

func (p *Provider) Close() error {
	p.mu.Lock()
	ln := p.listener
	p.listener = nil
	cur := p.current
	p.current = nil
	p.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// RequestPermission grants foreground use while the listener is up and
// background use while a device is attached.
func (p *Provider) RequestPermission(ctx context.Context) (position.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return position.Permission{Foreground: p.listener != nil, Background: p.current != nil}, nil
}

func (p *Provider) CurrentPosition(ctx context.Context) (report.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has_fix {
		return report.Position{}, position.ErrNoFix
	}
	if p.config.MaxAge > 0 {
		if age := p.now().Sub(p.loc_time); age > p.config.MaxAge {
			return report.Position{}, fmt.Errorf("%w: %s", position.ErrStaleFix, age)
		}
	}
	return report.Position{Latitude: p.loc.Latitude, Longitude: p.loc.Longitude}, nil
}

func (p *Provider) handle(c *Conn) {
	msg := FrameMessage{Buffer: make([]byte, 1000)}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	err := ReadMessage(c, &msg)
	if err != nil {
		p.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error reading login message")
		c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})
	if msg.Protocol != LOGIN {
		p.log.Error().Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msgf("message type is not login, type : %x", msg.Protocol)
		c.Close()
		return
	}
	login := LoginMessage{}
	err = json.Unmarshal(msg.Payload, &login)
	if err != nil {
		p.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error parsing login message")
		c.Close()
		return
	}
	p.log.Info().Str("event", LOGIN_MESSAGE).EmbedObject(c).Str("sn_type", login.SnType).Str("serial", login.Serial).Msg("")

	p.mu.Lock()
	older := p.current
	p.current = c
	p.login = &login
	p.mu.Unlock()
	if older != nil {
		p.log.Info().Str("event", CONNECTION_REPLACED).EmbedObject(older).Msg("replacing older connection")
		older.Close()
	}

	p.run(c, &msg)

	p.mu.Lock()
	if p.current == c {
		p.current = nil
	}
	p.mu.Unlock()
}

func (p *Provider) run(c *Conn, msg *FrameMessage) {
	for {
		err := ReadMessage(c, msg)
		if err != nil {
			p.log.Error().Err(err).EmbedObject(c).Msg("error while reading message")
			c.Close()
			return
		}
		tread := p.now()
		switch msg.Protocol {
		case LOCATION_UPDATE:
			var loc LocationMessage
			err = json.Unmarshal(msg.Payload, &loc)
			if err != nil {
				p.log.Error().Err(err).EmbedObject(c).Msg("error parsing location data")
				continue
			}
			p.log.Debug().Float64("latitude", loc.Latitude).Float64("longitude", loc.Longitude).Bool("fix", loc.Fix).Msg("location update")
			p.mu.Lock()
			if loc.Fix {
				p.loc = loc
				p.loc_time = tread
				p.has_fix = true
			} else {
				p.has_fix = false
			}
			p.mu.Unlock()
		case STATUS:
			var status StatusMessage
			err = json.Unmarshal(msg.Payload, &status)
			if err != nil {
				p.log.Error().Err(err).EmbedObject(c).Msg("error parsing status data")
				continue
			}
			p.mu.Lock()
			p.status = status
			p.status_time = tread
			if !status.GpsStatus {
				p.has_fix = false
			}
			p.mu.Unlock()
		case GPS_ERROR:
			p.log.Warn().EmbedObject(c).Msg("device reported gps error")
			p.mu.Lock()
			p.has_fix = false
			p.mu.Unlock()
		}
	}
}
