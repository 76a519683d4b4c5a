package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveguide/internal/model"
)

func newSink(t *testing.T) *FileSink {
	t.Helper()
	f, err := NewFileSink(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	f.now = func() time.Time { return time.Unix(1234, 0) }
	return f
}

func read(t *testing.T, f *FileSink, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.Dir(), name))
	require.NoError(t, err)
	return string(data)
}

func exists(f *FileSink, name string) bool {
	_, err := os.Stat(filepath.Join(f.Dir(), name))
	return err == nil
}

func TestFileSink_Markers(t *testing.T) {
	t.Parallel()

	f := newSink(t)
	f.Scanned("wlan0")
	f.Sent("wlan0")
	f.Received("wlan0")
	assert.Equal(t, "1234\n", read(t, f, "wlan0.scanned"))
	assert.True(t, exists(f, "wlan0.sent"))
	assert.True(t, exists(f, "wlan0.received"))

	f.Quiet("wlan0", true)
	assert.True(t, exists(f, "wlan0.nopackets"))
	f.Quiet("wlan0", false)
	assert.False(t, exists(f, "wlan0.nopackets"))
	f.Quiet("wlan0", false)
}

func TestFileSink_AutoChannel(t *testing.T) {
	t.Parallel()

	f := newSink(t)
	f.AutoChannel("wlan1", 5180, true)
	assert.Equal(t, "5180\n", read(t, f, "autochan.wlan1"))
	assert.True(t, exists(f, "autochan.wlan1.init"))

	f.AutoChannel("wlan1", 5745, false)
	assert.Equal(t, "5745\n", read(t, f, "autochan.wlan1"))
	assert.False(t, exists(f, "autochan.wlan1.init"))
}

func TestFileSink_AutoDisable(t *testing.T) {
	t.Parallel()

	f := newSink(t)
	mac := model.MAC{0, 1, 2, 3, 4, 5}
	f.AutoDisable("wlan0", &mac)
	assert.Equal(t, "00:01:02:03:04:05\n", read(t, f, "autodisable.wlan0"))
	f.AutoDisable("wlan0", nil)
	assert.False(t, exists(f, "autodisable.wlan0"))
}

func TestFileSink_Signals(t *testing.T) {
	t.Parallel()

	f := newSink(t)
	f.Signals("wlan0", Signals{"00:01:02:03:04:05": -40}, nil)

	var self map[string]int
	require.NoError(t, json.Unmarshal([]byte(read(t, f, "signals_json/self_signals.wlan0.json")), &self))
	assert.Equal(t, map[string]int{"00:01:02:03:04:05": -40}, self)
	assert.Equal(t, "{}", read(t, f, "signals_json/peer_signals.wlan0.json"))
}

func TestNewFileSink_RequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink("", zerolog.Nop())
	assert.Error(t, err)
}

type countSink struct {
	Nop
	sent int
}

func (c *countSink) Sent(string) { c.sent++ }

func TestMulti_FansOut(t *testing.T) {
	t.Parallel()

	a, b := &countSink{}, &countSink{}
	m := Multi{a, b, Nop{}}
	m.Sent("wlan0")
	m.Scanned("wlan0")
	assert.Equal(t, 1, a.sent)
	assert.Equal(t, 1, b.sent)
}
