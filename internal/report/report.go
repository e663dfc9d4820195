package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// TimeLayout is ISO-8601 in UTC with millisecond precision, e.g. 2024-05-01T10:00:00.000Z
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrInvalidCoordinate = errors.New("invalid coordinate")

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Position) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return fmt.Errorf("%w: non finite position %f,%f", ErrInvalidCoordinate, p.Latitude, p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidCoordinate, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidCoordinate, p.Longitude)
	}
	return nil
}

// LocationReport is the payload written to the wire once per report cycle.
type LocationReport struct {
	VehicleId string  `json:"vehicleId" validate:"required"`
	DriverId  string  `json:"driverId" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp string  `json:"timestamp" validate:"required"`
}

func New(vehicle_id, driver_id string, p Position, t time.Time) LocationReport {
	return LocationReport{
		VehicleId: vehicle_id,
		DriverId:  driver_id,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: FormatTime(t),
	}
}

func (r LocationReport) Position() Position {
	return Position{Latitude: r.Latitude, Longitude: r.Longitude}
}

// Time parses the report timestamp. Any RFC3339 value is accepted.
func (r LocationReport) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

func (r LocationReport) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
