package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"net"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/position/device"
)

func main() {
	addr := flag.String("address", "127.0.0.1:6000", "reporter device listener")
	serial := flag.String("serial", "0123456789012345", "device serial number")
	lat := flag.Float64("lat", -6.2, "starting latitude")
	lon := flag.Float64("lon", 106.8, "starting longitude")
	interval := flag.Duration("interval", 5*time.Second, "location update interval")
	flag.Parse()

	c, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("address", *addr).Msg("error connecting")
	}
	defer c.Close()

	login, _ := json.Marshal(device.LoginMessage{SnType: "imei", Serial: *serial, DeviceType: "fakedevice"})
	err = device.WriteMessage(c, device.LOGIN, login)
	if err != nil {
		log.Fatal().Err(err).Msg("error writing login")
	}
	log.Info().Str("serial", *serial).Msg("login sent")

	status, _ := json.Marshal(device.StatusMessage{GpsStatus: true})
	err = device.WriteMessage(c, device.STATUS, status)
	if err != nil {
		log.Fatal().Err(err).Msg("error writing status")
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for t := range ticker.C {
		*lat += (rand.Float64() - 0.5) * 0.001
		*lon += (rand.Float64() - 0.5) * 0.001
		loc := device.LocationMessage{
			GpsTime:     t.UTC(),
			MachineTime: t.UTC(),
			Latitude:    *lat,
			Longitude:   *lon,
			SatInview:   9,
			SatUsed:     7,
			Fix:         true,
			FixMode:     "3D",
			Speed:       rand.Float32() * 60,
		}
		d, _ := json.Marshal(loc)
		err = device.WriteMessage(c, device.LOCATION_UPDATE, d)
		if err != nil {
			log.Fatal().Err(err).Msg("error writing location")
		}
		log.Debug().Float64("lat", *lat).Float64("lon", *lon).Msg("location sent")
	}
}
