// Package config loads reporter and sink settings from defaults, an
// optional YAML file and GPSREPORTER_* environment variables.
package config

import (
	"flag"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"nuha.dev/gpsreporter/internal/position/device"
	"nuha.dev/gpsreporter/internal/tracking"
	"nuha.dev/gpsreporter/internal/wsconn"
)

const EnvPrefix = "GPSREPORTER"

const DefaultEndpoint = "wss://telematics-provider-backend.onrender.com/ws/vehicle-location"

type PositionConfig struct {
	Source     string        `mapstructure:"source" validate:"oneof=static device"`
	Latitude   float64       `mapstructure:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64       `mapstructure:"longitude" validate:"gte=-180,lte=180"`
	DeviceAddr string        `mapstructure:"device_addr" validate:"required"`
	MaxAge     time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

type Config struct {
	Endpoint            string         `mapstructure:"endpoint" validate:"required,url"`
	ConnectTimeout      time.Duration  `mapstructure:"connect_timeout" validate:"gt=0"`
	WriteTimeout        time.Duration  `mapstructure:"write_timeout" validate:"gt=0"`
	MinReconnectDelay   time.Duration  `mapstructure:"min_reconnect_delay" validate:"gt=0"`
	MaxReconnectDelay   time.Duration  `mapstructure:"max_reconnect_delay" validate:"gtefield=MinReconnectDelay"`
	ReconnectGrowFactor float64        `mapstructure:"reconnect_grow_factor" validate:"gte=1"`
	MaxRetries          int            `mapstructure:"max_retries" validate:"gte=0"`
	ReportInterval      time.Duration  `mapstructure:"report_interval" validate:"gt=0"`
	StatusInterval      time.Duration  `mapstructure:"status_interval" validate:"gt=0"`
	ApiAddr             string         `mapstructure:"api_addr" validate:"required"`
	IdStore             string         `mapstructure:"id_store" validate:"required"`
	ResumeOnStart       bool           `mapstructure:"resume_on_start"`
	Position            PositionConfig `mapstructure:"position"`
	LogLevel            string         `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
}

type SinkConfig struct {
	ListenAddr  string `mapstructure:"listen_addr" validate:"required"`
	Path        string `mapstructure:"path" validate:"startswith=/"`
	DbUrl       string `mapstructure:"db_url"`
	Table       string `mapstructure:"table" validate:"required"`
	RedisAddr   string `mapstructure:"redis_addr"`
	NatsUrl     string `mapstructure:"nats_url"`
	NatsSubject string `mapstructure:"nats_subject" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
}

func reporter_defaults(v *viper.Viper) {
	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("connect_timeout", 5*time.Second)
	v.SetDefault("write_timeout", 5*time.Second)
	v.SetDefault("min_reconnect_delay", 1*time.Second)
	v.SetDefault("max_reconnect_delay", 4*time.Second)
	v.SetDefault("reconnect_grow_factor", 1.3)
	v.SetDefault("max_retries", 3)
	v.SetDefault("report_interval", 30*time.Second)
	v.SetDefault("status_interval", 5*time.Second)
	v.SetDefault("api_addr", ":3333")
	v.SetDefault("id_store", "ids.yaml")
	v.SetDefault("resume_on_start", false)
	v.SetDefault("position.source", "static")
	v.SetDefault("position.latitude", 0.0)
	v.SetDefault("position.longitude", 0.0)
	v.SetDefault("position.device_addr", ":6000")
	v.SetDefault("position.max_age", 60*time.Second)
	v.SetDefault("log_level", "info")
}

func sink_defaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":7000")
	v.SetDefault("path", "/ws/vehicle-location")
	v.SetDefault("db_url", "")
	v.SetDefault("table", "locations")
	v.SetDefault("redis_addr", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "vehicle.location")
	v.SetDefault("log_level", "info")
}

// Load parses args (without the program name) for -config and builds the
// reporter configuration.
func Load(args []string) (*Config, error) {
	c := &Config{}
	if err := load("reporter", args, reporter_defaults, c); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadSink(args []string) (*SinkConfig, error) {
	c := &SinkConfig{}
	if err := load("sink", args, sink_defaults, c); err != nil {
		return nil, err
	}
	return c, nil
}

func load(name string, args []string, defaults func(*viper.Viper), out interface{}) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	file := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if *file != "" {
		v.SetConfigFile(*file)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return err
	}
	return validator.New().Struct(out)
}

func (c *Config) Connection() wsconn.Config {
	return wsconn.Config{
		Url:               c.Endpoint,
		ConnectTimeout:    c.ConnectTimeout,
		WriteTimeout:      c.WriteTimeout,
		MinReconnectDelay: c.MinReconnectDelay,
		MaxReconnectDelay: c.MaxReconnectDelay,
		GrowFactor:        c.ReconnectGrowFactor,
		MaxRetries:        c.MaxRetries,
	}
}

func (c *Config) Tracking() tracking.Config {
	return tracking.Config{ReportInterval: c.ReportInterval, StatusInterval: c.StatusInterval}
}

func (c *Config) Device() *device.Config {
	return &device.Config{ListenAddr: c.Position.DeviceAddr, MaxAge: c.Position.MaxAge}
}
