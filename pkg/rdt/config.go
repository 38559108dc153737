// Package rdt holds the configuration shared by sender and receiver
// sessions.
package rdt

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/skycoin/rdt/pkg/congestion"
	"github.com/skycoin/rdt/pkg/rtt"
	"github.com/skycoin/rdt/pkg/wire"
)

// RTT sampling modes.
const (
	// RTTReceiverClock samples RTT as the receiver's ack timestamp minus the
	// local send time. Both clocks must agree for samples to be meaningful.
	RTTReceiverClock = "receiver-clock"

	// RTTEcho stamps data segments with the local send time and has the
	// receiver echo it back, so only the sender's clock is involved.
	RTTEcho = "echo"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config defines the protocol parameters of a session.
type Config struct {
	SegmentSize      int      `json:"segment_size"`
	InitialThreshold float64  `json:"initial_ssthresh"`
	LossThreshold    int      `json:"loss_threshold"`
	RTTMode          string   `json:"rtt_mode"`
	InitialRTT       Duration `json:"initial_rtt"`
	InitialDeviation Duration `json:"initial_deviation"`
	MinTimeout       Duration `json:"min_timeout"`
	LogLevel         string   `json:"log_level"`
}

// DefaultConfig returns the default protocol parameters.
func DefaultConfig() Config {
	return Config{
		SegmentSize:      wire.MaxPayload,
		InitialThreshold: congestion.DefaultThreshold,
		LossThreshold:    congestion.LossThreshold,
		RTTMode:          RTTReceiverClock,
		InitialRTT:       Duration(rtt.DefaultEstimate),
		InitialDeviation: Duration(rtt.DefaultDeviation),
		MinTimeout:       Duration(rtt.DefaultMinTimeout),
		LogLevel:         "info",
	}
}

// ReadConfig decodes a JSON config on top of the defaults.
func ReadConfig(r io.Reader) (Config, error) {
	conf := DefaultConfig()
	if err := json.NewDecoder(r).Decode(&conf); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return conf, conf.Validate()
}

// ReadConfigFile reads a JSON config file. A leading ~ expands to the home
// directory. An empty path yields the defaults.
func ReadConfigFile(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "expand config path")
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close() // nolint: errcheck
	return ReadConfig(f)
}

// WithDefaults returns c with every zero-valued parameter that zero is not
// valid for replaced by its default, so a zero Config is usable. A zero
// InitialDeviation is valid and kept.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SegmentSize == 0 {
		c.SegmentSize = def.SegmentSize
	}
	if c.InitialThreshold == 0 {
		c.InitialThreshold = def.InitialThreshold
	}
	if c.LossThreshold == 0 {
		c.LossThreshold = def.LossThreshold
	}
	if c.RTTMode == "" {
		c.RTTMode = def.RTTMode
	}
	if c.InitialRTT == 0 {
		c.InitialRTT = def.InitialRTT
	}
	if c.MinTimeout == 0 {
		c.MinTimeout = def.MinTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}

// Validate checks the parameters.
func (c Config) Validate() error {
	switch {
	case c.SegmentSize <= 0 || c.SegmentSize > wire.MaxPayload:
		return errors.Wrapf(ErrInvalidConfig, "segment_size must be in (0, %d]", wire.MaxPayload)
	case c.InitialThreshold < 1:
		return errors.Wrap(ErrInvalidConfig, "initial_ssthresh must be at least 1")
	case c.LossThreshold < 1:
		return errors.Wrap(ErrInvalidConfig, "loss_threshold must be at least 1")
	case c.RTTMode != RTTReceiverClock && c.RTTMode != RTTEcho:
		return errors.Wrapf(ErrInvalidConfig, "unknown rtt_mode %q", c.RTTMode)
	case c.InitialRTT <= 0 || c.InitialDeviation < 0 || c.MinTimeout <= 0:
		return errors.Wrap(ErrInvalidConfig, "rtt durations must be positive")
	}
	return nil
}

// NewEstimator makes an RTT estimator from the config.
func (c Config) NewEstimator() *rtt.Estimator {
	return rtt.NewWithConfig(time.Duration(c.InitialRTT), time.Duration(c.InitialDeviation), time.Duration(c.MinTimeout))
}

// NewController makes a congestion controller from the config.
func (c Config) NewController() *congestion.Controller {
	return congestion.NewWithThreshold(c.InitialThreshold)
}

// Duration wraps time.Duration to allow human-readable JSON values
// such as "250ms".
type Duration time.Duration

// MarshalJSON implements json marshaling.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}
