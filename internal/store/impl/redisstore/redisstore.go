// Package redisstore keeps the last accepted report of every vehicle.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
	"nuha.dev/gpsreporter/internal/report"
	"nuha.dev/gpsreporter/internal/store"
)

const writeTimeout = 2 * time.Second

type Store struct {
	rdb *redis.Client
	log log.Logger
}

func NewStore(rdb *redis.Client) *Store {
	st := &Store{rdb: rdb}
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "redisstore").Value()
	return st
}

func (st *Store) SetLogger(logger log.Logger) {
	st.log = logger
}

func lastKey(vehicle_id string) string {
	return "vehicle:" + vehicle_id + ":last"
}

func (st *Store) Put(r *report.LocationReport, srvt time.Time) {
	d, err := json.Marshal(store.Record{LocationReport: *r, ReceivedAt: srvt.UTC()})
	if err != nil {
		st.log.Error().Err(err).Msg("error encoding record")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err = st.rdb.Set(ctx, lastKey(r.VehicleId), d, 0).Err()
	if err != nil {
		st.log.Error().Err(err).Str("vehicle_id", r.VehicleId).Msg("error saving last position")
	}
}

// Last returns store.ErrNotFound for a vehicle that never reported.
func (st *Store) Last(ctx context.Context, vehicle_id string) (*store.Record, error) {
	d, err := st.rdb.Get(ctx, lastKey(vehicle_id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec := &store.Record{}
	err = json.Unmarshal(d, rec)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
