package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	c, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint != DefaultEndpoint {
		t.Errorf("endpoint %s", c.Endpoint)
	}
	conn := c.Connection()
	if conn.ConnectTimeout != 5*time.Second || conn.MinReconnectDelay != time.Second ||
		conn.MaxReconnectDelay != 4*time.Second || conn.GrowFactor != 1.3 || conn.MaxRetries != 3 {
		t.Errorf("unexpected connection config %+v", conn)
	}
	tr := c.Tracking()
	if tr.ReportInterval != 30*time.Second || tr.StatusInterval != 5*time.Second {
		t.Errorf("unexpected tracking config %+v", tr)
	}
	if c.Position.Source != "static" || c.Device().MaxAge != time.Minute {
		t.Errorf("unexpected position config %+v", c.Position)
	}
	if c.ResumeOnStart {
		t.Error("resume on start must be off by default")
	}
}

func TestResumeOnStart(t *testing.T) {
	t.Setenv("GPSREPORTER_RESUME_ON_START", "true")
	c, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !c.ResumeOnStart {
		t.Error("resume on start should be enabled from env")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GPSREPORTER_REPORT_INTERVAL", "10s")
	t.Setenv("GPSREPORTER_POSITION_SOURCE", "device")
	c, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.ReportInterval != 10*time.Second {
		t.Errorf("report interval %s", c.ReportInterval)
	}
	if c.Position.Source != "device" {
		t.Errorf("position source %s", c.Position.Source)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reporter.yaml")
	data := []byte("endpoint: ws://127.0.0.1:7000/ws/vehicle-location\nmax_retries: 5\nposition:\n  latitude: -6.2\n  longitude: 106.8\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint != "ws://127.0.0.1:7000/ws/vehicle-location" || c.MaxRetries != 5 {
		t.Errorf("unexpected %+v", c)
	}
	if c.Position.Latitude != -6.2 || c.Position.Longitude != 106.8 {
		t.Errorf("unexpected position %+v", c.Position)
	}
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"GPSREPORTER_POSITION_SOURCE":       "gps",
		"GPSREPORTER_POSITION_LATITUDE":     "91",
		"GPSREPORTER_RECONNECT_GROW_FACTOR": "0.5",
		"GPSREPORTER_LOG_LEVEL":             "loud",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := Load(nil); err == nil {
				t.Fatalf("%s=%s should be rejected", k, v)
			}
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("missing config file should fail")
	}
}

func TestSinkDefaults(t *testing.T) {
	c, err := LoadSink(nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.ListenAddr != ":7000" || c.Path != "/ws/vehicle-location" || c.Table != "locations" || c.NatsSubject != "vehicle.location" {
		t.Errorf("unexpected %+v", c)
	}
	if c.DbUrl != "" || c.RedisAddr != "" || c.NatsUrl != "" {
		t.Errorf("optional backends should be off by default %+v", c)
	}
}
