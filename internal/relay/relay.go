// Package relay republishes accepted reports on a NATS subject.
package relay

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/report"
	"nuha.dev/gpsreporter/internal/store"
)

type Publisher interface {
	Publish(subj string, data []byte) error
}

type Relay struct {
	pub     Publisher
	nc      *nats.Conn
	subject string
	log     log.Logger
}

// Connect dials the NATS server. Reconnects are handled by the client.
func Connect(url string, subject string) (*Relay, error) {
	r := New(nil, subject)
	nc, err := nats.Connect(url,
		nats.Name("gpsreporter-sink"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			r.log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			r.log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}))
	if err != nil {
		return nil, err
	}
	r.nc = nc
	r.pub = nc
	return r, nil
}

func New(pub Publisher, subject string) *Relay {
	r := &Relay{pub: pub, subject: subject}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	return r
}

func (r *Relay) SetLogger(logger log.Logger) {
	r.log = logger
}

// Subject is the per vehicle subject, e.g. vehicle.location.VH-001
func (r *Relay) Subject(vehicle_id string) string {
	return r.subject + "." + vehicle_id
}

func (r *Relay) Put(rep *report.LocationReport, srvt time.Time) {
	d, err := json.Marshal(store.Record{LocationReport: *rep, ReceivedAt: srvt.UTC()})
	if err != nil {
		r.log.Error().Err(err).Msg("error encoding record")
		return
	}
	err = r.pub.Publish(r.Subject(rep.VehicleId), d)
	if err != nil {
		r.log.Error().Err(err).Str("vehicle_id", rep.VehicleId).Msg("publish error")
	}
}

func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
