package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/linkstack/internal/link"
)

const (
	modeDial   = "dial"
	modeListen = "listen"

	receiveLog    = "log"
	receiveEcho   = "echo"
	receiveStdout = "stdout"
)

var ErrInvalidServiceConfig = errors.New("linkd: invalid config")

type fileConfig struct {
	ID                 string   `toml:"id"`
	Mode               string   `toml:"mode"`
	PeerAddr           string   `toml:"peer_addr"`
	AdminAddr          string   `toml:"admin_addr"`
	ChainFile          string   `toml:"chain_file"`
	CorsOrigins        []string `toml:"cors_origins"`
	OnReceive          string   `toml:"on_receive"`
	Heartbeat          string   `toml:"heartbeat"`
	HeartbeatMS        int64    `toml:"heartbeat_interval_ms"`
	ReconnectDelayMS   int64    `toml:"reconnect_delay_ms"`
	ReconnectMaxMS     int64    `toml:"reconnect_max_delay_ms"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
}

type serviceConfig struct {
	ID                 string
	Mode               string
	PeerAddr           string
	AdminAddr          string
	ChainFile          string
	CorsOrigins        []string
	OnReceive          string
	HeartbeatInterval  time.Duration
	Reconnect          link.BackoffConfig
	MaxConnectAttempts int
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		ID:                "linkd",
		Mode:              modeListen,
		PeerAddr:          "127.0.0.1:7400",
		AdminAddr:         ":9400",
		OnReceive:         receiveLog,
		HeartbeatInterval: 30 * time.Second,
		Reconnect: link.BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
		},
	}
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load linkd config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("peer_addr") {
		cfg.PeerAddr = strings.TrimSpace(raw.PeerAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("chain_file") {
		cfg.ChainFile = strings.TrimSpace(raw.ChainFile)
		// Relative chain files sit next to the config that names them.
		if cfg.ChainFile != "" && !filepath.IsAbs(cfg.ChainFile) {
			cfg.ChainFile = filepath.Join(filepath.Dir(path), cfg.ChainFile)
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("on_receive") {
		cfg.OnReceive = strings.ToLower(strings.TrimSpace(raw.OnReceive))
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("heartbeat_interval_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatMS) * time.Millisecond
	}
	if meta.IsDefined("reconnect_delay_ms") {
		cfg.Reconnect.InitialDelay = time.Duration(raw.ReconnectDelayMS) * time.Millisecond
	}
	if meta.IsDefined("reconnect_max_delay_ms") {
		cfg.Reconnect.MaxDelay = time.Duration(raw.ReconnectMaxMS) * time.Millisecond
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if err := cfg.validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) validate() error {
	switch c.Mode {
	case modeDial, modeListen:
	default:
		return fmt.Errorf("%w: mode %q (want dial|listen)", ErrInvalidServiceConfig, c.Mode)
	}
	if c.PeerAddr == "" {
		return fmt.Errorf("%w: peer_addr is required", ErrInvalidServiceConfig)
	}
	switch c.OnReceive {
	case receiveLog, receiveEcho, receiveStdout:
	default:
		return fmt.Errorf("%w: on_receive %q (want log|echo|stdout)", ErrInvalidServiceConfig, c.OnReceive)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive", ErrInvalidServiceConfig)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: max_connect_attempts must not be negative", ErrInvalidServiceConfig)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
