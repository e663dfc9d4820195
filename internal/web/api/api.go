// Package api is the HTTP control surface used by the UI layer to drive a
// tracking session, read its stats and manage the stored identity.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsreporter/internal/event"
	"nuha.dev/gpsreporter/internal/idstore"
	"nuha.dev/gpsreporter/internal/tracking"
	"nuha.dev/gpsreporter/internal/util"
	"nuha.dev/gpsreporter/internal/wsconn"
)

const (
	errPermissionDenied = "location permission denied"
	errAlreadyTracking  = "tracking already started"
	errIdRequired       = "vehicle id and driver id are required"
)

type Session interface {
	Start(ctx context.Context, vehicle_id, driver_id string) bool
	Stop()
	Reconnect()
	Stats() tracking.Stats
	ConnectionStatus() wsconn.State
	IsTracking() bool
}

type IdStore interface {
	Save(vehicle_id, driver_id string) error
	Get() (idstore.Ids, bool)
	Clear() error
}

type EventSource interface {
	Recent() []event.Record
}

// Settings is the read only view of the effective configuration.
type Settings struct {
	Endpoint            string  `json:"endpoint"`
	ReportIntervalMs    int64   `json:"reportIntervalMs"`
	StatusIntervalMs    int64   `json:"statusIntervalMs"`
	ConnectTimeoutMs    int64   `json:"connectTimeoutMs"`
	MinReconnectDelayMs int64   `json:"minReconnectDelayMs"`
	MaxReconnectDelayMs int64   `json:"maxReconnectDelayMs"`
	ReconnectGrowFactor float64 `json:"reconnectGrowFactor"`
	MaxRetries          int     `json:"maxRetries"`
	PositionSource      string  `json:"positionSource"`
}

type ApiConfig struct {
	ListenAddr string
	Settings   Settings
}

type Response struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type IdsRequest struct {
	VehicleId string `json:"vehicleId" validate:"required"`
	DriverId  string `json:"driverId" validate:"required"`
	// Save also persists the ids when starting.
	Save bool `json:"save"`
}

type Api struct {
	r        chi.Router
	s        *http.Server
	config   *ApiConfig
	log      zerolog.Logger
	validate *validator.Validate
	session  Session
	ids      IdStore
	events   EventSource
}

func NewApi(session Session, ids IdStore, events EventSource, config *ApiConfig) *Api {
	api := &Api{config: config, session: session, ids: ids, events: events}
	api.log = log.With().Str("module", "api").Logger()
	api.validate = validator.New()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	r.Route("/tracking", func(r chi.Router) {
		r.Post("/start", api.start)
		r.Post("/stop", api.stop)
		r.Post("/reconnect", api.reconnect)
		r.Post("/reset", api.reset)
		r.Get("/status", api.status)
		r.Get("/events", api.recent_events)
	})
	r.Get("/ids", api.get_ids)
	r.Put("/ids", api.put_ids)
	r.Delete("/ids", api.delete_ids)
	r.Get("/settings", api.settings)

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) SetLogger(logger zerolog.Logger) {
	api.log = logger
}

func (api *Api) Handler() http.Handler {
	return api.r
}

func (api *Api) Run() error {
	api.log.Info().Str("addr", api.config.ListenAddr).Msg("api listening")
	err := api.s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (api *Api) Shutdown(ctx context.Context) error {
	return api.s.Shutdown(ctx)
}

// decode_ids reads an IdsRequest. An empty body yields ok == false and no error.
func (api *Api) decode_ids(r *http.Request) (req IdsRequest, ok bool, err error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return req, false, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, false, nil
	}
	err = json.Unmarshal(body, &req)
	if err != nil {
		return req, false, err
	}
	req.VehicleId = strings.TrimSpace(req.VehicleId)
	req.DriverId = strings.TrimSpace(req.DriverId)
	err = api.validate.Struct(req)
	if err != nil {
		return req, false, err
	}
	return req, true, nil
}

func (api *Api) start(w http.ResponseWriter, r *http.Request) {
	req, ok, err := api.decode_ids(r)
	if err != nil {
		api.log.Debug().Err(err).Msg("invalid start request")
		util.JsonWrite(w, http.StatusBadRequest, Response{Error: errIdRequired})
		return
	}
	if !ok {
		ids, found := api.ids.Get()
		if !found {
			util.JsonWrite(w, http.StatusBadRequest, Response{Error: errIdRequired})
			return
		}
		req.VehicleId, req.DriverId = ids.VehicleId, ids.DriverId
	} else if req.Save {
		if err := api.ids.Save(req.VehicleId, req.DriverId); err != nil {
			api.log.Err(err).Msg("error saving ids")
			util.JsonWrite(w, http.StatusInternalServerError, Response{Error: err.Error()})
			return
		}
	}
	if api.session.IsTracking() {
		util.JsonWrite(w, http.StatusConflict, Response{Error: errAlreadyTracking})
		return
	}
	if !api.session.Start(r.Context(), req.VehicleId, req.DriverId) {
		// a concurrent start won between the check and the call
		if api.session.IsTracking() {
			util.JsonWrite(w, http.StatusConflict, Response{Error: errAlreadyTracking})
			return
		}
		api.log.Info().Str("vehicle_id", req.VehicleId).Msg("tracking not started")
		util.JsonWrite(w, http.StatusForbidden, Response{Error: errPermissionDenied})
		return
	}
	util.JsonWrite(w, http.StatusOK, Response{Ok: true})
}

func (api *Api) stop(w http.ResponseWriter, r *http.Request) {
	api.session.Stop()
	util.JsonWrite(w, http.StatusOK, Response{Ok: true})
}

func (api *Api) reconnect(w http.ResponseWriter, r *http.Request) {
	api.session.Reconnect()
	util.JsonWrite(w, http.StatusOK, Response{Ok: true})
}

// reset stops tracking and forgets the stored ids.
func (api *Api) reset(w http.ResponseWriter, r *http.Request) {
	api.session.Stop()
	err := api.ids.Clear()
	if err != nil {
		api.log.Err(err).Msg("error clearing ids")
		util.JsonWrite(w, http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	util.JsonWrite(w, http.StatusOK, Response{Ok: true})
}

// status reports the session stats with the connection state read at
// request time rather than the one sampled by the last status poll.
func (api *Api) status(w http.ResponseWriter, r *http.Request) {
	stats := api.session.Stats()
	stats.ConnectionStatus = api.session.ConnectionStatus()
	util.JsonWrite(w, http.StatusOK, stats)
}

func (api *Api) recent_events(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, http.StatusOK, api.events.Recent())
}

func (api *Api) get_ids(w http.ResponseWriter, r *http.Request) {
	ids, ok := api.ids.Get()
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	util.JsonWrite(w, http.StatusOK, ids)
}

func (api *Api) put_ids(w http.ResponseWriter, r *http.Request) {
	req, ok, err := api.decode_ids(r)
	if err != nil || !ok {
		util.JsonWrite(w, http.StatusBadRequest, Response{Error: errIdRequired})
		return
	}
	err = api.ids.Save(req.VehicleId, req.DriverId)
	if err != nil {
		api.log.Err(err).Msg("error saving ids")
		util.JsonWrite(w, http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	util.JsonWrite(w, http.StatusOK, Response{Ok: true})
}

func (api *Api) delete_ids(w http.ResponseWriter, r *http.Request) {
	err := api.ids.Clear()
	if err != nil {
		api.log.Err(err).Msg("error clearing ids")
		util.JsonWrite(w, http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	util.JsonWrite(w, http.StatusOK, Response{Ok: true})
}

func (api *Api) settings(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, http.StatusOK, api.config.Settings)
}
