package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/event"
	"nuha.dev/gpsreporter/internal/position"
	"nuha.dev/gpsreporter/internal/report"
	"nuha.dev/gpsreporter/internal/wsconn"
)

// Connection is the part of wsconn.Manager the session depends on.
type Connection interface {
	Send(ctx context.Context, payload []byte) bool
	Status() wsconn.State
	Close()
}

type Config struct {
	ReportInterval time.Duration
	StatusInterval time.Duration
}

func DefaultConfig() Config {
	return Config{ReportInterval: 30 * time.Second, StatusInterval: 5 * time.Second}
}

// Stats is the read model handed to observers. It is always a copy.
type Stats struct {
	SessionId        string           `json:"sessionId,omitempty"`
	VehicleId        string           `json:"vehicleId,omitempty"`
	DriverId         string           `json:"driverId,omitempty"`
	IsTracking       bool             `json:"isTracking"`
	LastApiCall      *time.Time       `json:"lastApiCall"`
	LastLocation     *report.Position `json:"lastLocation"`
	ApiCallCount     uint64           `json:"apiCallCount"`
	ConnectionStatus wsconn.State     `json:"connectionStatus"`
}

type Session struct {
	op       sync.Mutex // Start, Stop and Reconnect
	mu       sync.Mutex // stats, identity, generation
	cycle_mu sync.Mutex // held for the duration of one report cycle

	config Config
	conn   Connection
	pos    position.Provider
	events event.Emitter
	log    log.Logger
	now    func() time.Time

	stats      Stats
	vehicle_id string
	driver_id  string
	// gen changes on every start and stop; a cycle only applies its
	// result when the generation it was started with is still current.
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(conn Connection, pos position.Provider, config Config) *Session {
	s := &Session{conn: conn, pos: pos, config: config}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "tracking").Value()
	s.now = time.Now
	s.stats.ConnectionStatus = wsconn.Disconnected
	return s
}

func (s *Session) SetLogger(logger log.Logger) {
	s.log = logger
}

// SetEmitter attaches an event sink. Must be called before Start.
func (s *Session) SetEmitter(e event.Emitter) {
	s.events = e
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) ConnectionStatus() wsconn.State {
	return s.conn.Status()
}

func (s *Session) IsTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.IsTracking
}

// Start requests location permission, performs one report cycle and then
// schedules further cycles every ReportInterval. It returns false when the
// identity is incomplete, a session is already running or permission is denied.
func (s *Session) Start(ctx context.Context, vehicle_id, driver_id string) bool {
	s.op.Lock()
	defer s.op.Unlock()

	if vehicle_id == "" || driver_id == "" {
		s.log.Error().Str("vehicle_id", vehicle_id).Str("driver_id", driver_id).Msg("vehicle id and driver id are required")
		return false
	}
	if s.IsTracking() {
		s.log.Warn().Msg("tracking already started")
		return false
	}
	if !s.request_permission(ctx) {
		return false
	}

	s.log.Info().Str("vehicle_id", vehicle_id).Str("driver_id", driver_id).Msg("starting location tracking")
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.vehicle_id = vehicle_id
	s.driver_id = driver_id
	s.stats.SessionId = uuid.NewString()
	s.stats.VehicleId = vehicle_id
	s.stats.DriverId = driver_id
	s.mu.Unlock()

	s.cycle_mu.Lock()
	s.cycle(ctx, gen)
	s.cycle_mu.Unlock()

	lctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.stats.IsTracking = true
	s.stats.ConnectionStatus = s.conn.Status()
	stats := s.stats
	s.mu.Unlock()

	s.wg.Add(2)
	go s.report_loop(lctx, gen)
	go s.status_loop(lctx, gen)
	s.emit(event.SessionStarted, stats)
	return true
}

func (s *Session) request_permission(ctx context.Context) bool {
	perm, err := s.pos.RequestPermission(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("error requesting location permissions")
		return false
	}
	if !perm.Foreground {
		s.log.Info().Msg("foreground location permission denied")
		return false
	}
	if !perm.Background {
		s.log.Info().Msg("background location permission denied, continuing with foreground only")
	}
	return true
}

// Stop cancels both schedules, closes the connection and returns to idle.
// No scheduled cycle starts after Stop returns. Calling it while idle is a no-op
// apart from closing the connection.
func (s *Session) Stop() {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	was_tracking := s.stats.IsTracking
	s.gen++
	s.stats.IsTracking = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.conn.Close()

	s.mu.Lock()
	s.stats.ConnectionStatus = wsconn.Disconnected
	stats := s.stats
	s.mu.Unlock()

	if was_tracking {
		s.log.Info().Uint64("api_call_count", stats.ApiCallCount).Msg("stopped location tracking and closed connection")
		s.emit(event.SessionStopped, stats)
	}
}

// Reconnect drops the current connection; the next report cycle opens a new one.
func (s *Session) Reconnect() {
	s.op.Lock()
	defer s.op.Unlock()
	s.log.Info().Msg("closing connection, next report will reconnect")
	s.conn.Close()
}

func (s *Session) report_loop(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.cycle_mu.TryLock() {
				s.log.Warn().Msg("previous report cycle still running, skipping this one")
				s.emit(event.ReportSkipped, "busy")
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.cycle_mu.Unlock()
				s.cycle(ctx, gen)
			}()
		}
	}
}

func (s *Session) status_loop(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.conn.Status()
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			changed := s.stats.ConnectionStatus != st
			s.stats.ConnectionStatus = st
			s.mu.Unlock()
			if changed {
				s.emit(event.ConnectionStatus, st)
			}
		}
	}
}

// cycle is one acquire position then send iteration. The caller holds cycle_mu.
func (s *Session) cycle(ctx context.Context, gen uint64) {
	s.mu.Lock()
	vehicle_id, driver_id := s.vehicle_id, s.driver_id
	s.mu.Unlock()

	p, err := s.pos.CurrentPosition(ctx)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get current location")
		s.emit(event.ReportSkipped, err.Error())
		return
	}

	t := s.now()
	r := report.New(vehicle_id, driver_id, p, t)
	payload, err := r.Marshal()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode location data")
		return
	}
	s.log.Debug().Str("connection_status", string(s.conn.Status())).Msg("sending location data")
	ok := s.conn.Send(ctx, payload)
	status := s.conn.Status()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug().Msg("session ended during report cycle, discarding result")
		return
	}
	s.stats.LastLocation = &p
	if ok {
		s.stats.LastApiCall = &t
		s.stats.ApiCallCount++
	}
	s.stats.ConnectionStatus = status
	s.mu.Unlock()

	if ok {
		s.emit(event.ReportSent, r)
	} else {
		s.log.Warn().Str("connection_status", string(status)).Msg("failed to send location data")
		s.emit(event.ReportFailed, r)
	}
}

func (s *Session) emit(topic string, data interface{}) {
	if s.events == nil {
		return
	}
	err := s.events.Emit(context.Background(), topic, data)
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("error emitting event")
	}
}
