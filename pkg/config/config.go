// Package config holds the reliability layer's immutable-after-construction
// configuration, plus a YAML loader for the demo command.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors spec.md §3/§6's configuration table. All fields are
// independent and immutable after a Channel is constructed with them.
type Config struct {
	// MaxPacketPayloadSize is the upper bound, in bytes, on a DATA
	// payload before the fragmenter splits a message across packets.
	MaxPacketPayloadSize int `yaml:"max_packet_payload_size"`

	// RetransmissionTimeout is the per-packet retransmit interval.
	RetransmissionTimeout time.Duration `yaml:"retransmission_timeout"`

	// MaxRetransmissionAttempts is the retransmit budget beyond the
	// initial send.
	MaxRetransmissionAttempts int `yaml:"max_retransmission_attempts"`

	// ConnectionTimeout is the CONNECTING and CLOSING grace period.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// ReceiveWindowCapacity bounds the duplicate-suppression window.
	// Must be >= 1000; not part of spec.md's configuration table, but
	// exposed here rather than hardcoded since its sizing is guided by
	// MaxRetransmissionAttempts * RetransmissionTimeout (see DESIGN.md).
	ReceiveWindowCapacity int `yaml:"receive_window_capacity"`

	// AbandonedFragmentBufferTimeout, if non-zero, drops an incomplete
	// fragment buffer that has seen no new fragment for this long. Zero
	// (the default) reproduces the source behaviour of §9: buffers live
	// forever.
	AbandonedFragmentBufferTimeout time.Duration `yaml:"abandoned_fragment_buffer_timeout"`
}

// Default returns the configuration table's defaults from spec.md §6.
func Default() Config {
	return Config{
		MaxPacketPayloadSize:           1489,
		RetransmissionTimeout:          1000 * time.Millisecond,
		MaxRetransmissionAttempts:      5,
		ConnectionTimeout:              5000 * time.Millisecond,
		ReceiveWindowCapacity:          1024,
		AbandonedFragmentBufferTimeout: 0,
	}
}

// yamlConfig mirrors Config but with durations as strings, since
// yaml.v3 has no built-in notion of time.Duration ("1s", "500ms", ...).
type yamlConfig struct {
	MaxPacketPayloadSize           *int    `yaml:"max_packet_payload_size"`
	RetransmissionTimeout          *string `yaml:"retransmission_timeout"`
	MaxRetransmissionAttempts      *int    `yaml:"max_retransmission_attempts"`
	ConnectionTimeout              *string `yaml:"connection_timeout"`
	ReceiveWindowCapacity          *int    `yaml:"receive_window_capacity"`
	AbandonedFragmentBufferTimeout *string `yaml:"abandoned_fragment_buffer_timeout"`
}

// LoadYAML reads a Config from path, starting from Default() so a file
// only needs to override the fields it cares about.
func LoadYAML(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if raw.MaxPacketPayloadSize != nil {
		cfg.MaxPacketPayloadSize = *raw.MaxPacketPayloadSize
	}
	if raw.MaxRetransmissionAttempts != nil {
		cfg.MaxRetransmissionAttempts = *raw.MaxRetransmissionAttempts
	}
	if raw.ReceiveWindowCapacity != nil {
		cfg.ReceiveWindowCapacity = *raw.ReceiveWindowCapacity
	}
	if raw.RetransmissionTimeout != nil {
		d, err := time.ParseDuration(*raw.RetransmissionTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parsing retransmission_timeout: %w", err)
		}
		cfg.RetransmissionTimeout = d
	}
	if raw.ConnectionTimeout != nil {
		d, err := time.ParseDuration(*raw.ConnectionTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parsing connection_timeout: %w", err)
		}
		cfg.ConnectionTimeout = d
	}
	if raw.AbandonedFragmentBufferTimeout != nil {
		d, err := time.ParseDuration(*raw.AbandonedFragmentBufferTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parsing abandoned_fragment_buffer_timeout: %w", err)
		}
		cfg.AbandonedFragmentBufferTimeout = d
	}

	if cfg.ReceiveWindowCapacity < 1000 {
		return Config{}, fmt.Errorf("receive_window_capacity must be >= 1000, got %d", cfg.ReceiveWindowCapacity)
	}
	return cfg, nil
}
