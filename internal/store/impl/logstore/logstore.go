package logstore

import (
	"time"

	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/report"
)

type LogStore struct {
	log log.Logger
}

func NewStore() *LogStore {
	l := &LogStore{}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "logstore").Value()
	return l
}

func (l *LogStore) SetLogger(logger log.Logger) {
	l.log = logger
}

func (l *LogStore) Put(r *report.LocationReport, srvt time.Time) {
	l.log.Info().Str("vehicle_id", r.VehicleId).Str("driver_id", r.DriverId).
		Float64("lat", r.Latitude).Float64("lon", r.Longitude).
		Str("timestamp", r.Timestamp).Time("server_time", srvt).Msg("location report")
}
