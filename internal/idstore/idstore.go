// Package idstore keeps the vehicle and driver identifiers between runs.
package idstore

import (
	"errors"
	"io/fs"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"github.com/spf13/viper"
)

const (
	keyVehicleId = "vehicle_id"
	keyDriverId  = "driver_id"
)

var ErrEmptyId = errors.New("vehicle id and driver id are required")

type Ids struct {
	VehicleId string `json:"vehicleId"`
	DriverId  string `json:"driverId"`
}

// Store persists Ids in a YAML file.
type Store struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
	log  log.Logger
}

// Open loads path if it exists. A missing file is an empty store.
func Open(path string) (*Store, error) {
	st := &Store{path: path}
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "idstore").Value()
	st.v = viper.New()
	st.v.SetConfigFile(path)
	st.v.SetConfigType("yaml")
	err := st.v.ReadInConfig()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return st, nil
}

func (st *Store) SetLogger(logger log.Logger) {
	st.log = logger
}

func (st *Store) Save(vehicle_id, driver_id string) error {
	vehicle_id = strings.TrimSpace(vehicle_id)
	driver_id = strings.TrimSpace(driver_id)
	if vehicle_id == "" || driver_id == "" {
		return ErrEmptyId
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.v.Set(keyVehicleId, vehicle_id)
	st.v.Set(keyDriverId, driver_id)
	err := st.v.WriteConfigAs(st.path)
	if err != nil {
		st.log.Error().Err(err).Str("path", st.path).Msg("error saving ids")
		return err
	}
	st.log.Info().Str("vehicle_id", vehicle_id).Str("driver_id", driver_id).Msg("ids saved")
	return nil
}

// Get returns the stored pair. ok is false unless both are present.
func (st *Store) Get() (Ids, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	ids := Ids{VehicleId: st.v.GetString(keyVehicleId), DriverId: st.v.GetString(keyDriverId)}
	if ids.VehicleId == "" || ids.DriverId == "" {
		return Ids{}, false
	}
	return ids, true
}

func (st *Store) Clear() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.v.Set(keyVehicleId, "")
	st.v.Set(keyDriverId, "")
	err := st.v.WriteConfigAs(st.path)
	if err != nil {
		st.log.Error().Err(err).Str("path", st.path).Msg("error clearing ids")
		return err
	}
	st.log.Info().Msg("ids cleared")
	return nil
}
