// Package config loads the detector tuning file. Fields are pointers so a
// partial JSON file only overrides what it names; the Get* accessors supply
// defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrel-data/detector.link/internal/axistream"
	"github.com/kestrel-data/detector.link/internal/reassembly"
	"github.com/kestrel-data/detector.link/internal/scan"
	"github.com/kestrel-data/detector.link/internal/wire"
)

// TuningConfig is the root configuration for the detector data path. The
// schema doubles as the daemon's runtime-update payload, so every field is
// optional.
type TuningConfig struct {
	// Scan machine params
	GateOnTicks        *int    `json:"gate_on_ticks,omitempty"`
	GateOffTicks       *int    `json:"gate_off_ticks,omitempty"`
	SettleTimeoutTicks *int    `json:"settle_timeout_ticks,omitempty"`
	AdcTimeoutTicks    *int    `json:"adc_timeout_ticks,omitempty"`
	Rows               *int    `json:"rows,omitempty"`
	Cols               *int    `json:"cols,omitempty"`
	ScanMode           *string `json:"scan_mode,omitempty"` // single | continuous | calibration

	// Transmit path params
	FifoDepth            *int  `json:"fifo_depth,omitempty"`
	BytesPerBeat         *int  `json:"bytes_per_beat,omitempty"`
	VirtualChannel       *int  `json:"virtual_channel,omitempty"`
	IncludeLineSync      *bool `json:"include_line_sync,omitempty"`
	FragmentPayloadBytes *int  `json:"fragment_payload_bytes,omitempty"`

	// Receive path params
	ReassemblyTimeout *string `json:"reassembly_timeout,omitempty"` // duration string like "500ms"
	RecoverPartial    *bool   `json:"recover_partial,omitempty"`

	// Daemon params
	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
	SerialPort *string `json:"serial_port,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values that can be wrong in ways the
// consuming packages would silently clamp.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*int{
		"gate_on_ticks":        c.GateOnTicks,
		"gate_off_ticks":       c.GateOffTicks,
		"settle_timeout_ticks": c.SettleTimeoutTicks,
		"adc_timeout_ticks":    c.AdcTimeoutTicks,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	if c.Rows != nil && (*c.Rows < 1 || *c.Rows > scan.MaxDimension) {
		return fmt.Errorf("rows must be in 1..%d, got %d", scan.MaxDimension, *c.Rows)
	}
	if c.Cols != nil && (*c.Cols < 1 || *c.Cols > scan.MaxDimension) {
		return fmt.Errorf("cols must be in 1..%d, got %d", scan.MaxDimension, *c.Cols)
	}

	if c.ScanMode != nil {
		switch *c.ScanMode {
		case "single", "continuous", "calibration":
		default:
			return fmt.Errorf("unknown scan_mode %q", *c.ScanMode)
		}
	}

	if c.VirtualChannel != nil && (*c.VirtualChannel < 0 || *c.VirtualChannel > 3) {
		return fmt.Errorf("virtual_channel must be in 0..3, got %d", *c.VirtualChannel)
	}

	if c.ReassemblyTimeout != nil && *c.ReassemblyTimeout != "" {
		if _, err := time.ParseDuration(*c.ReassemblyTimeout); err != nil {
			return fmt.Errorf("invalid reassembly_timeout %q: %w", *c.ReassemblyTimeout, err)
		}
	}

	return nil
}

// ScanConfig assembles the scan machine configuration.
func (c *TuningConfig) ScanConfig() scan.Config {
	cfg := scan.Config{Mode: c.GetScanMode()}
	if c.GateOnTicks != nil {
		cfg.GateOnTicks = *c.GateOnTicks
	}
	if c.GateOffTicks != nil {
		cfg.GateOffTicks = *c.GateOffTicks
	}
	if c.SettleTimeoutTicks != nil {
		cfg.SettleTimeoutTicks = *c.SettleTimeoutTicks
	}
	if c.AdcTimeoutTicks != nil {
		cfg.AdcTimeoutTicks = *c.AdcTimeoutTicks
	}
	if c.Rows != nil {
		cfg.Rows = *c.Rows
	}
	if c.Cols != nil {
		cfg.Cols = *c.Cols
	}
	return cfg
}

// GetScanMode maps the scan_mode string onto the machine mode, defaulting
// to continuous capture.
func (c *TuningConfig) GetScanMode() scan.Mode {
	if c.ScanMode == nil {
		return scan.ModeContinuous
	}
	switch *c.ScanMode {
	case "single":
		return scan.ModeSingle
	case "calibration":
		return scan.ModeCalibration
	default:
		return scan.ModeContinuous
	}
}

// GetFifoDepth returns the fifo_depth value or the default.
func (c *TuningConfig) GetFifoDepth() int {
	if c.FifoDepth == nil {
		return axistream.DefaultFifoDepth
	}
	return *c.FifoDepth
}

// GetBytesPerBeat returns the bytes_per_beat value or the default.
func (c *TuningConfig) GetBytesPerBeat() int {
	if c.BytesPerBeat == nil || *c.BytesPerBeat < 1 {
		return 8 // one 64-bit beat
	}
	return *c.BytesPerBeat
}

// GetVirtualChannel returns the virtual_channel value or the default.
func (c *TuningConfig) GetVirtualChannel() uint8 {
	if c.VirtualChannel == nil {
		return 0
	}
	return uint8(*c.VirtualChannel)
}

// GetIncludeLineSync returns the include_line_sync value or the default.
func (c *TuningConfig) GetIncludeLineSync() bool {
	if c.IncludeLineSync == nil {
		return false
	}
	return *c.IncludeLineSync
}

// GetFragmentPayloadBytes returns the fragment payload size or the default.
func (c *TuningConfig) GetFragmentPayloadBytes() int {
	if c.FragmentPayloadBytes == nil || *c.FragmentPayloadBytes < 1 {
		return wire.DefaultFragmentPayload
	}
	return *c.FragmentPayloadBytes
}

// GetReassemblyTimeout parses the reassembly_timeout or returns the default.
func (c *TuningConfig) GetReassemblyTimeout() time.Duration {
	if c.ReassemblyTimeout == nil || *c.ReassemblyTimeout == "" {
		return reassembly.DefaultTimeout
	}
	d, err := time.ParseDuration(*c.ReassemblyTimeout)
	if err != nil {
		return reassembly.DefaultTimeout
	}
	return d
}

// GetRecoverPartial returns the recover_partial value or the default.
func (c *TuningConfig) GetRecoverPartial() bool {
	if c.RecoverPartial == nil {
		return false
	}
	return *c.RecoverPartial
}

// GetDBPath returns the db_path value or the default.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "detector_data.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *TuningConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetSerialPort returns the serial_port value or the default.
func (c *TuningConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyS0"
	}
	return *c.SerialPort
}
