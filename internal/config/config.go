package config

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"waveguide/internal/model"
)

const (
	DefaultScanInterval         = 15 * time.Second
	DefaultTxInterval           = 10 * time.Second
	DefaultAutochanInterval     = 300 * time.Second
	DefaultSurveyInterval       = 5 * time.Second
	DefaultPrintInterval        = 60 * time.Second
	DefaultInitialScans         = 1
	DefaultAutoDisableThreshold = -30
	DefaultMCastGroup           = "239.0.0.143:4442"
	DefaultStatusDir            = "/tmp/waveguide"
)

// Config holds daemon settings. Command-line flags override file values.
type Config struct {
	HighPower []string `yaml:"high_power,omitempty"`
	Fake      []string `yaml:"fake,omitempty"`

	ScanInterval     time.Duration `yaml:"scan_interval"`
	TxInterval       time.Duration `yaml:"tx_interval"`
	AutochanInterval time.Duration `yaml:"autochan_interval"`
	SurveyInterval   time.Duration `yaml:"survey_interval"`
	PrintInterval    time.Duration `yaml:"print_interval"`
	InitialScans     int           `yaml:"initial_scans"`

	AutoDisable          *bool `yaml:"auto_disable,omitempty"`
	AutoDisableThreshold *int  `yaml:"auto_disable_threshold,omitempty"`
	PrimarySpreading     *bool `yaml:"primary_spreading,omitempty"`

	Debug     bool   `yaml:"debug"`
	Anonymize *bool  `yaml:"anonymize,omitempty"`
	StatusDir string `yaml:"status_dir"`
	WatchPID  int    `yaml:"watch_pid"`

	MCastGroup    string `yaml:"mcast_group"`
	MCastIf       string `yaml:"mcast_if"`
	MetricsListen string `yaml:"metrics_listen"`
	ARPPath       string `yaml:"arp_path"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func Validate(cfg Config) error {
	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"scan_interval", cfg.ScanInterval},
		{"tx_interval", cfg.TxInterval},
		{"autochan_interval", cfg.AutochanInterval},
		{"survey_interval", cfg.SurveyInterval},
		{"print_interval", cfg.PrintInterval},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", iv.name, iv.d)
		}
	}
	if cfg.InitialScans < 1 {
		return fmt.Errorf("initial_scans must be at least 1")
	}
	if cfg.AutoDisableThreshold != nil {
		if t := *cfg.AutoDisableThreshold; t < math.MinInt8 || t > math.MaxInt8 {
			return fmt.Errorf("auto_disable_threshold %d out of range", t)
		}
	}
	if _, err := cfg.FakeMACs(); err != nil {
		return err
	}
	if cfg.StatusDir == "" {
		return fmt.Errorf("status_dir is required")
	}
	if cfg.WatchPID < 0 || cfg.WatchPID > math.MaxInt32 {
		return fmt.Errorf("watch_pid %d out of range", cfg.WatchPID)
	}
	ap, err := netip.ParseAddrPort(cfg.MCastGroup)
	if err != nil {
		return fmt.Errorf("mcast_group: %w", err)
	}
	if !ap.Addr().Is4() || !ap.Addr().IsMulticast() {
		return fmt.Errorf("mcast_group %s is not an IPv4 multicast address", cfg.MCastGroup)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.TxInterval == 0 {
		cfg.TxInterval = DefaultTxInterval
	}
	if cfg.AutochanInterval == 0 {
		cfg.AutochanInterval = DefaultAutochanInterval
	}
	if cfg.SurveyInterval == 0 {
		cfg.SurveyInterval = DefaultSurveyInterval
	}
	if cfg.PrintInterval == 0 {
		cfg.PrintInterval = DefaultPrintInterval
	}
	if cfg.InitialScans == 0 {
		cfg.InitialScans = DefaultInitialScans
	}
	if cfg.AutoDisable == nil {
		v := true
		cfg.AutoDisable = &v
	}
	if cfg.AutoDisableThreshold == nil {
		v := DefaultAutoDisableThreshold
		cfg.AutoDisableThreshold = &v
	}
	if cfg.PrimarySpreading == nil {
		v := true
		cfg.PrimarySpreading = &v
	}
	if cfg.Anonymize == nil {
		v := true
		cfg.Anonymize = &v
	}
	if cfg.StatusDir == "" {
		cfg.StatusDir = DefaultStatusDir
	}
	if cfg.MCastGroup == "" {
		cfg.MCastGroup = DefaultMCastGroup
	}
}

// IsHighPower reports whether ifname was marked high power.
func (c Config) IsHighPower(ifname string) bool {
	for _, name := range c.HighPower {
		if name == ifname {
			return true
		}
	}
	return false
}

// FakeMACs parses the fake identities.
func (c Config) FakeMACs() ([]model.MAC, error) {
	out := make([]model.MAC, 0, len(c.Fake))
	for _, s := range c.Fake {
		mac, err := model.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("fake %q: %w", s, err)
		}
		if mac.IsZero() {
			return nil, fmt.Errorf("fake %q: zero mac", s)
		}
		out = append(out, mac)
	}
	return out, nil
}

// Threshold returns the auto-disable threshold in dBm.
func (c Config) Threshold() int8 {
	if c.AutoDisableThreshold == nil {
		return DefaultAutoDisableThreshold
	}
	return int8(*c.AutoDisableThreshold)
}

// Bool dereferences an optional setting, treating nil as false.
func Bool(v *bool) bool {
	return v != nil && *v
}
