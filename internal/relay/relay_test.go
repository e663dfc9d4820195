package relay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/report"
	"nuha.dev/gpsreporter/internal/store"
)

type fakePublisher struct {
	subj []string
	data [][]byte
	err  error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subj = append(f.subj, subj)
	f.data = append(f.data, data)
	return nil
}

func TestPut(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, "vehicle.location")
	r.SetLogger(log.Logger{Level: log.PanicLevel})
	rep := report.New("VH-001", "DR-7", report.Position{Latitude: 1, Longitude: 2}, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	srvt := time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC)
	r.Put(&rep, srvt)

	if len(pub.subj) != 1 || pub.subj[0] != "vehicle.location.VH-001" {
		t.Fatalf("unexpected subjects %v", pub.subj)
	}
	var rec store.Record
	if err := json.Unmarshal(pub.data[0], &rec); err != nil {
		t.Fatal(err)
	}
	if rec.LocationReport != rep || !rec.ReceivedAt.Equal(srvt) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestPutPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	r := New(pub, "vehicle.location")
	r.SetLogger(log.Logger{Level: log.PanicLevel})
	rep := report.New("VH-001", "DR-7", report.Position{}, time.Now())
	r.Put(&rep, time.Now())
	r.Close()
}
