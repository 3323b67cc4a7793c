// Package config loads the control plane's configuration, layering a YAML
// file under environment variables.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// RTCConfig carries the media-engine bootstrap settings.
type RTCConfig struct {
	UDPPortMin   uint16 `yaml:"udp_port_min"`
	UDPPortMax   uint16 `yaml:"udp_port_max"`
	ListenIP     string `yaml:"listen_ip"`
	AnnouncedIP  string `yaml:"announced_ip"`
	PreferUDP    bool   `yaml:"prefer_udp"`
	TCPEnabled   bool   `yaml:"tcp_enabled"`
	WorkerCount  int    `yaml:"worker_count"`
}

// RoomConfig carries room-lifecycle tunables.
type RoomConfig struct {
	EmptyTimeoutSeconds int `yaml:"empty_timeout_seconds"`
}

// SignalConfig carries the websocket signaling transport's tunables.
type SignalConfig struct {
	ReadLimitBytes    int64 `yaml:"read_limit_bytes"`
	WriteTimeoutMS    int   `yaml:"write_timeout_ms"`
	PingIntervalMS    int   `yaml:"ping_interval_ms"`
	PongWaitMS        int   `yaml:"pong_wait_ms"`
	HandshakeDeadline int   `yaml:"handshake_deadline_seconds"`
}

// LoggingConfig controls the logger package.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AdminConfig controls the operator-facing admin API.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

type Config struct {
	BindAddr       string        `yaml:"bind_addr"`
	PrometheusPort uint32        `yaml:"prometheus_port"`
	RTC            RTCConfig     `yaml:"rtc"`
	Room           RoomConfig    `yaml:"room"`
	Signal         SignalConfig  `yaml:"signal"`
	Logging        LoggingConfig `yaml:"logging"`
	Admin          AdminConfig   `yaml:"admin"`
}

// Default returns the control plane's default configuration.
func Default() *Config {
	return &Config{
		BindAddr:       ":7880",
		PrometheusPort: 7881,
		RTC: RTCConfig{
			UDPPortMin:  10000,
			UDPPortMax:  10100,
			ListenIP:    "0.0.0.0",
			AnnouncedIP: "",
			PreferUDP:   true,
			TCPEnabled:  true,
			WorkerCount: 1,
		},
		Room: RoomConfig{
			EmptyTimeoutSeconds: 0,
		},
		Signal: SignalConfig{
			ReadLimitBytes:    1024 * 1024,
			WriteTimeoutMS:    4000,
			PingIntervalMS:    20000,
			PongWaitMS:        45000,
			HandshakeDeadline: 10,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load reads a YAML file into a Default() config, then applies environment
// overrides. path may be empty, in which case only env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SFU_ANNOUNCED_IP"); v != "" {
		cfg.RTC.AnnouncedIP = v
	}
	if v := os.Getenv("SFU_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("SFU_ADMIN_TOKEN"); v != "" {
		cfg.Admin.BearerToken = v
	}
}

// Validate rejects configurations that would never let the media engine
// bind.
func (c *Config) Validate() error {
	if c.RTC.UDPPortMax < c.RTC.UDPPortMin {
		return fmt.Errorf("rtc.udp_port_max (%d) must be >= rtc.udp_port_min (%d)", c.RTC.UDPPortMax, c.RTC.UDPPortMin)
	}
	if c.RTC.AnnouncedIP != "" && net.ParseIP(c.RTC.AnnouncedIP) == nil {
		return fmt.Errorf("rtc.announced_ip %q is not a valid IP", c.RTC.AnnouncedIP)
	}
	if c.RTC.WorkerCount < 1 {
		return fmt.Errorf("rtc.worker_count must be >= 1")
	}
	return nil
}
