// Package config reads and writes the TOML settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang/glog"
)

const configFile = "config.toml"

type Config struct {
	Server   Server   `toml:"server"`
	Canvas   Canvas   `toml:"canvas"`
	Presence Presence `toml:"presence"`
	Client   Client   `toml:"client"`
}

type Server struct {
	Addr        string `toml:"addr"`
	Advertise   bool   `toml:"advertise"`
	ServiceName string `toml:"service_name"`
}

type Canvas struct {
	MatchToleranceMs int64   `toml:"match_tolerance_ms"`
	PointSlack       int     `toml:"point_slack"`
	MinPointDistance float64 `toml:"min_point_distance"`
	StreamIntervalMs int64   `toml:"stream_interval_ms"`
	Streaming        bool    `toml:"streaming"`
	UndoneTTLMs      int64   `toml:"undone_ttl_ms"`
	DefaultColor     string  `toml:"default_color"`
	DefaultSize      float64 `toml:"default_size"`
}

type Presence struct {
	ThrottleMs  int64  `toml:"throttle_ms"`
	HeartbeatMs int64  `toml:"heartbeat_ms"`
	TokenSecret string `toml:"token_secret"`
}

type Client struct {
	ServerURL string `toml:"server_url"`
	UserID    string `toml:"user_id"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:      ":8080",
			Advertise: true,
		},
		Canvas: Canvas{
			MatchToleranceMs: 100,
			PointSlack:       1,
			MinPointDistance: 0.002,
			StreamIntervalMs: 80,
			UndoneTTLMs:      30000,
			DefaultColor:     "#111111",
			DefaultSize:      0.006,
		},
		Presence: Presence{
			ThrottleMs:  100,
			HeartbeatMs: 5000,
		},
	}
}

// Dir is the directory holding the config file.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "couplecanvas")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "couplecanvas")
}

// Path is the default config file location.
func Path() string {
	return filepath.Join(Dir(), configFile)
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			glog.V(1).Infof("no config at %s, using defaults", path)
			return c, nil
		}
		return Default(), fmt.Errorf("read config %s: %w", path, err)
	}
	return c, nil
}

// Write saves c to path, creating the directory if needed.
func Write(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buffer.Bytes(), 0644)
}

func (c Canvas) MatchTolerance() time.Duration { return ms(c.MatchToleranceMs) }
func (c Canvas) StreamInterval() time.Duration { return ms(c.StreamIntervalMs) }
func (c Canvas) UndoneTTL() time.Duration      { return ms(c.UndoneTTLMs) }
func (p Presence) Throttle() time.Duration     { return ms(p.ThrottleMs) }
func (p Presence) Heartbeat() time.Duration    { return ms(p.HeartbeatMs) }

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
