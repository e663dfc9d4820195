// Package sink is a reference ingest endpoint for location reports. It
// accepts the reporter's websocket, validates every text frame and hands
// accepted reports to a store. Nothing is ever written back to the client.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nuha.dev/gpsreporter/internal/report"
	"nuha.dev/gpsreporter/internal/store"
	"nuha.dev/gpsreporter/internal/util"
)

type Config struct {
	ListenAddr string
	Path       string
}

// LastReader serves the last known position of a vehicle.
type LastReader interface {
	Last(ctx context.Context, vehicle_id string) (*store.Record, error)
}

type Stats struct {
	Connections int64  `json:"connections"`
	Accepted    uint64 `json:"accepted"`
	Rejected    uint64 `json:"rejected"`
}

type Server struct {
	server   *http.Server
	r        chi.Router
	logger   zerolog.Logger
	config   Config
	st       store.Store
	last     LastReader
	validate *validator.Validate
	now      func() time.Time

	connections int64
	accepted    uint64
	rejected    uint64
}

func NewServer(config Config, st store.Store, last LastReader) *Server {
	s := &Server{config: config, st: st, last: last}
	s.logger = log.With().Str("module", "sink").Logger()
	s.validate = validator.New()
	s.now = time.Now
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(config.Path, s.serve_ws)
	r.Get("/stats", s.serve_stats)
	if last != nil {
		r.Get("/vehicles/{vehicleId}/last", s.serve_last)
	}
	s.r = r
	s.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Str("path", s.config.Path).Msg("sink listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections: atomic.LoadInt64(&s.connections),
		Accepted:    atomic.LoadUint64(&s.accepted),
		Rejected:    atomic.LoadUint64(&s.rejected),
	}
}

func (s *Server) serve_ws(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.logger.Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	logger := s.logger.With().Str("conn_id", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	atomic.AddInt64(&s.connections, 1)
	defer atomic.AddInt64(&s.connections, -1)
	logger.Info().Msg("reporter connected")

	for {
		typ, msg, err := c.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Info().Msg("reporter disconnected")
			} else {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		if typ != websocket.MessageText {
			atomic.AddUint64(&s.rejected, 1)
			logger.Warn().Msg("binary frame dropped")
			continue
		}
		rep, err := s.decode(msg)
		if err != nil {
			atomic.AddUint64(&s.rejected, 1)
			logger.Warn().Err(err).Bytes("payload", msg).Msg("invalid report dropped")
			continue
		}
		atomic.AddUint64(&s.accepted, 1)
		logger.Debug().Str("vehicle_id", rep.VehicleId).Float64("lat", rep.Latitude).Float64("lon", rep.Longitude).Msg("report accepted")
		s.st.Put(rep, s.now().UTC())
	}
}

func (s *Server) decode(msg []byte) (*report.LocationReport, error) {
	rep := &report.LocationReport{}
	err := json.Unmarshal(msg, rep)
	if err != nil {
		return nil, err
	}
	err = s.validate.Struct(rep)
	if err != nil {
		return nil, err
	}
	_, err = rep.Time()
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Server) serve_last(w http.ResponseWriter, r *http.Request) {
	vid := chi.URLParam(r, "vehicleId")
	rec, err := s.last.Last(r.Context(), vid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		s.logger.Err(err).Str("vehicle_id", vid).Msg("error reading last position")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	util.JsonWrite(w, http.StatusOK, rec)
}

func (s *Server) serve_stats(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, http.StatusOK, s.Stats())
}
