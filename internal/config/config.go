// Package config loads chain files: link timing under [link] and the
// ordered layer list under [[layers]], head first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/linkstack/internal/chain"
	"github.com/danmuck/linkstack/internal/link"
	"github.com/danmuck/linkstack/internal/pipeline"
	"github.com/danmuck/linkstack/internal/plugins"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidChainFile = errors.New("config: invalid chain file")

type ChainFile struct {
	Link   LinkSection    `toml:"link"`
	Layers []LayerSection `toml:"layers"`
}

// LinkSection durations are in milliseconds. Zero keeps the default;
// no_frame_gap is the only way to send frames back to back.
type LinkSection struct {
	PollIntervalMS    int64 `toml:"poll_interval_ms"`
	LockTimeoutMS     int64 `toml:"lock_timeout_ms"`
	FrameGapMS        int64 `toml:"frame_gap_ms"`
	NoFrameGap        bool  `toml:"no_frame_gap"`
	RetryDelayMS      int64 `toml:"retry_delay_ms"`
	MaxAttempts       int   `toml:"max_attempts"`
	MaxFramePayload   int   `toml:"max_frame_payload"`
	MaxQueuedBytes    int   `toml:"max_queued_bytes"`
	ReadChunkSize     int   `toml:"read_chunk_size"`
	ShutdownTimeoutMS int64 `toml:"shutdown_timeout_ms"`
	MaxLayerBytes     int   `toml:"max_layer_bytes"`
	MaxDrainPasses    int   `toml:"max_drain_passes"`
}

type LayerSection struct {
	Name   string            `toml:"name"`
	Params map[string]string `toml:"params"`
}

func Load(path string) (ChainFile, error) {
	var cfg ChainFile
	if err := loadToml(path, &cfg); err != nil {
		return ChainFile{}, err
	}
	if err := Validate(cfg); err != nil {
		return ChainFile{}, err
	}
	return cfg, nil
}

// Parse decodes and validates a chain file held in memory.
func Parse(data []byte) (ChainFile, error) {
	var cfg ChainFile
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ChainFile{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return ChainFile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg ChainFile) error {
	l := cfg.Link
	for name, v := range map[string]int64{
		"poll_interval_ms":    l.PollIntervalMS,
		"lock_timeout_ms":     l.LockTimeoutMS,
		"frame_gap_ms":        l.FrameGapMS,
		"retry_delay_ms":      l.RetryDelayMS,
		"max_attempts":        int64(l.MaxAttempts),
		"max_frame_payload":   int64(l.MaxFramePayload),
		"max_queued_bytes":    int64(l.MaxQueuedBytes),
		"read_chunk_size":     int64(l.ReadChunkSize),
		"shutdown_timeout_ms": l.ShutdownTimeoutMS,
		"max_layer_bytes":     int64(l.MaxLayerBytes),
		"max_drain_passes":    int64(l.MaxDrainPasses),
	} {
		if v < 0 {
			return fmt.Errorf("%w: link.%s must not be negative", ErrInvalidChainFile, name)
		}
	}
	for i, layer := range cfg.Layers {
		name := strings.TrimSpace(layer.Name)
		if name == "" {
			return fmt.Errorf("%w: layers[%d] missing name", ErrInvalidChainFile, i)
		}
		if _, ok := plugins.Get(name); !ok {
			return fmt.Errorf("%w: layers[%d]: %w: %q", ErrInvalidChainFile, i, plugins.ErrUnknownLayer, name)
		}
	}
	if err := cfg.LinkConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChainFile, err)
	}
	return nil
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// LinkConfig converts [link] into a link.Config with defaults filled.
func (c ChainFile) LinkConfig() link.Config {
	l := c.Link
	cfg := link.Config{
		PollInterval:    ms(l.PollIntervalMS),
		LockTimeout:     ms(l.LockTimeoutMS),
		FrameGap:        ms(l.FrameGapMS),
		NoFrameGap:      l.NoFrameGap,
		MaxAttempts:     l.MaxAttempts,
		MaxFramePayload: l.MaxFramePayload,
		MaxQueuedBytes:  l.MaxQueuedBytes,
		ReadChunkSize:   l.ReadChunkSize,
		ShutdownTimeout: ms(l.ShutdownTimeoutMS),
	}
	if l.RetryDelayMS > 0 {
		cfg.Retry = link.FixedBackoff(ms(l.RetryDelayMS))
	}
	return cfg.WithDefaults()
}

func (c ChainFile) ChainOptions() chain.Options {
	opts := chain.DefaultOptions()
	if c.Link.MaxLayerBytes > 0 {
		opts.MaxBufferedBytes = c.Link.MaxLayerBytes
	}
	return opts
}

func (c ChainFile) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	if c.Link.MaxDrainPasses > 0 {
		opts.MaxDrainPasses = c.Link.MaxDrainPasses
	}
	return opts
}

func (c ChainFile) LayerSpecs() []plugins.LayerSpec {
	specs := make([]plugins.LayerSpec, 0, len(c.Layers))
	for _, layer := range c.Layers {
		specs = append(specs, plugins.LayerSpec{
			Name:   strings.TrimSpace(layer.Name),
			Params: layer.Params,
		})
	}
	return specs
}

// BuildDriver assembles the configured chain behind a pipeline driver. It
// fails when a max_frame_payload payload could outgrow a layer after the
// layers ahead of it have expanded it.
func (c ChainFile) BuildDriver() (*pipeline.Driver, error) {
	ch, err := plugins.BuildChain(c.ChainOptions(), c.LayerSpecs())
	if err != nil {
		return nil, err
	}
	if err := ch.CheckPayload(c.LinkConfig().MaxFramePayload); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: max_frame_payload does not fit: %w", ErrInvalidChainFile, err)
	}
	return pipeline.New(ch, c.PipelineOptions()), nil
}
