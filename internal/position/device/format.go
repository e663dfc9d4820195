package device

import (
	"time"
)

type LoginMessage struct {
	SnType     string `json:"sn_type"`
	Serial     string `json:"serial"`
	DeviceType string `json:"device_type"`
}

type LocationMessage struct {
	GpsTime     time.Time `json:"gps_time"`
	MachineTime time.Time `json:"machine_time"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    float32   `json:"altitude"`
	SatInview   int       `json:"sat_inview"`
	SatUsed     int       `json:"sat_used"`
	Fix         bool      `json:"fix"`
	FixMode     string    `json:"fix_mode"`
	Speed       float32   `json:"speed"`
}

type StatusMessage struct {
	GpsStatus     bool      `json:"gps_status"`
	LastLongitude float64   `json:"last_longitude,omitempty"`
	LastLatitude  float64   `json:"last_latitude,omitempty"`
	LastFix       time.Time `json:"last_fix,omitempty"`
}
