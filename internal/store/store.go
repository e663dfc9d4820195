package store

import (
	"errors"
	"time"

	"nuha.dev/gpsreporter/internal/report"
)

var ErrNotFound = errors.New("not found")

// Store receives every accepted report. Put must not block for long; slow
// backends buffer internally.
type Store interface {
	Put(r *report.LocationReport, srvt time.Time)
}

// Record is a report as kept by the stores, stamped with the server receive time.
type Record struct {
	report.LocationReport
	ReceivedAt time.Time `json:"receivedAt"`
}

// Multi fans a report out to several stores in order.
type Multi []Store

func (m Multi) Put(r *report.LocationReport, srvt time.Time) {
	for _, st := range m {
		st.Put(r, srvt)
	}
}
