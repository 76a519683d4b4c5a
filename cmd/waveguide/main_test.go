package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveguide/internal/config"
	"waveguide/internal/iw"
	"waveguide/internal/peers"
)

type fakeRunner map[string]string

func (f fakeRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	out, ok := f[name+" "+strings.Join(args, " ")]
	if !ok {
		return "", errors.New("command failed")
	}
	return out, nil
}

const devOut = `phy#1
	Interface wlan1
		addr f4:f5:e8:00:00:02
		type AP
	Interface wlan1_1
		addr f4:f5:e8:00:00:03
		type AP
phy#0
	Interface wlan0
		addr f4:f5:e8:00:00:01
		type managed
phy#2
	Interface wlan2
		addr f4:f5:e8:00:00:04
		type AP
`

const phyOut = `Wiphy phy1
	Band 2:
		Frequencies:
			* 5180 MHz [36] (23.0 dBm)
			* 5200 MHz [40] (23.0 dBm)
Wiphy phy0
	Band 1:
		Frequencies:
			* 2412 MHz [1] (20.0 dBm)
`

func TestDiscover_PicksOneAPPerPhy(t *testing.T) {
	t.Parallel()

	tool := iw.NewTool(fakeRunner{"iw dev": devOut, "iw phy": phyOut}, "")
	radios, err := discover(context.Background(), tool, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, radios, 1)
	assert.Equal(t, "wlan1", radios[0].Device.Ifname)
	assert.Equal(t, []int{5180, 5200}, radios[0].Phy.Freqs)
}

func TestDiscover_ToolFailure(t *testing.T) {
	t.Parallel()

	tool := iw.NewTool(fakeRunner{}, "")
	_, err := discover(context.Background(), tool, zerolog.Nop())
	assert.Error(t, err)
}

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice("high-power", nil, "")
	fs.StringSlice("fake", nil, "")
	for _, name := range []string{"scan-interval", "tx-interval", "autochan-interval", "survey-interval", "print-interval"} {
		fs.Duration(name, 0, "")
	}
	fs.Int("initial-scans", 1, "")
	fs.Int("auto-disable-threshold", -30, "")
	for _, name := range []string{"auto-disable", "primary-spreading", "anonymize"} {
		fs.Bool(name, true, "")
	}
	fs.Bool("debug", false, "")
	for _, name := range []string{"status-dir", "mcast-group", "mcast-if", "metrics-listen", "arp-path"} {
		fs.String(name, "", "")
	}
	fs.Int("watch-pid", 0, "")
	return fs
}

func TestOverrideFromFlags_OnlyChanged(t *testing.T) {
	t.Parallel()

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{
		"--high-power=wlan1", "--fake=02:00:00:00:00:01", "--fake=02:00:00:00:00:02",
		"--tx-interval=3s", "--anonymize=false", "--auto-disable-threshold=-50",
		"--watch-pid=12", "--debug",
	}))

	cfg := config.Config{ScanInterval: 40 * time.Second, StatusDir: "/srv/wg"}
	require.NoError(t, overrideFromFlags(fs, &cfg))
	config.ApplyDefaults(&cfg)

	assert.Equal(t, []string{"wlan1"}, cfg.HighPower)
	assert.Len(t, cfg.Fake, 2)
	assert.Equal(t, 40*time.Second, cfg.ScanInterval)
	assert.Equal(t, 3*time.Second, cfg.TxInterval)
	assert.False(t, config.Bool(cfg.Anonymize))
	assert.True(t, config.Bool(cfg.PrimarySpreading))
	assert.Equal(t, int8(-50), cfg.Threshold())
	assert.Equal(t, 12, cfg.WatchPID)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/srv/wg", cfg.StatusDir)
	assert.NoError(t, config.Validate(cfg))
}

func TestManagerConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{HighPower: []string{"wlan1"}}
	config.ApplyDefaults(&cfg)
	r := radio{
		Device: iw.Device{Phy: "phy1", Ifname: "wlan1", Type: "AP"},
		Phy:    iw.Phy{Name: "phy1", Freqs: []int{2412, 2437}, HT40: true, Radar: true},
	}
	started := time.Unix(1_700_000_000, 0).UTC()
	mc := managerConfig(cfg, r, started)
	assert.True(t, mc.HighPower)
	assert.True(t, mc.Wide40)
	assert.True(t, mc.Radar)
	assert.Equal(t, started, mc.Started)
	assert.Equal(t, []int{2412, 2437}, mc.Allowed)
	assert.Equal(t, int8(-30), mc.AutoDisableThreshold)
	assert.True(t, mc.PrimarySpreading)
}

func TestInitialConsensus_ReusesPersistedKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "consensus.yaml")
	now := time.Unix(1_700_000_000, 0).UTC()

	first := initialConsensus(path, now, zerolog.Nop())
	assert.Equal(t, now, first.Start)

	second := initialConsensus(path, now.Add(time.Hour), zerolog.Nop())
	assert.Equal(t, first.Key, second.Key)
	assert.True(t, second.Start.Equal(now.Add(time.Hour)))

	saved, err := peers.LoadConsensus(path)
	require.NoError(t, err)
	assert.Equal(t, first.Key, saved.Key)
}
