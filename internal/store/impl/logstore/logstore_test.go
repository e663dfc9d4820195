package logstore

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/report"
)

func TestPut(t *testing.T) {
	var buf bytes.Buffer
	l := NewStore()
	l.SetLogger(log.Logger{Level: log.InfoLevel, Writer: &log.IOWriter{Writer: &buf}})

	r := report.New("VH-001", "DR-7", report.Position{Latitude: -6.2, Longitude: 106.8}, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	l.Put(&r, time.Now())

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("%v: %s", err, buf.String())
	}
	if line["vehicle_id"] != "VH-001" || line["driver_id"] != "DR-7" || line["lat"] != -6.2 || line["timestamp"] != "2024-05-01T10:00:00.000Z" {
		t.Fatalf("unexpected log line %v", line)
	}
}
