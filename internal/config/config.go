// ABOUTME: Party configuration
// ABOUTME: Defaults and validation for transport, codec and timing knobs
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the small set of knobs the party core takes at startup.
type Config struct {
	GroupV4 string `validate:"required,ip4_addr"`
	GroupV6 string `validate:"required,ip6_addr"`
	Port    int    `validate:"required,gt=0,lte=65535"`
	TTL     int    `validate:"gte=1,lte=8"`

	// Mixer target shape. 48 kHz preferred, 44.1/96 accepted from hardware.
	SampleRate int `validate:"oneof=44100 48000 96000"`
	Channels   int `validate:"oneof=1 2"`

	// Opus frame duration for the realtime streams.
	OpusFrameMs int `validate:"oneof=5 10 20"`

	// Jitter buffer targets in frames.
	JitterInitial uint64 `validate:"gte=1,lte=64"`
	JitterMin     uint64 `validate:"gte=1"`
	JitterMax     uint64 `validate:"lte=64"`

	HostTimeout           time.Duration `validate:"gt=0"`
	RetransmitSlack       time.Duration `validate:"gt=0"`
	MaxRetransmitAttempts int           `validate:"gte=0,lte=10"`

	EnableIPv6 bool
	Interface  string
}

// Default returns the standard party configuration.
func Default() Config {
	return Config{
		GroupV4:               "239.255.43.2",
		GroupV6:               "ff02::7667:7667",
		Port:                  7667,
		TTL:                   1,
		SampleRate:            48000,
		Channels:              2,
		OpusFrameMs:           5,
		JitterInitial:         4,
		JitterMin:             2,
		JitterMax:             64,
		HostTimeout:           5 * time.Second,
		RetransmitSlack:       150 * time.Millisecond,
		MaxRetransmitAttempts: 3,
	}
}

// FrameSize returns sample frames per Opus frame at the configured rate.
func (c Config) FrameSize() int {
	return c.SampleRate * c.OpusFrameMs / 1000
}

var validate = validator.New()

// Validate checks field constraints and cross-field consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.JitterMin > c.JitterInitial || c.JitterInitial > c.JitterMax {
		return fmt.Errorf("invalid config: jitter targets must satisfy min <= initial <= max")
	}
	return nil
}
