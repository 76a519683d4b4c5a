package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveguide/internal/manager"
	"waveguide/internal/mcast"
	"waveguide/internal/model"
	"waveguide/internal/peers"
	"waveguide/internal/status"
	"waveguide/internal/wire"
)

var (
	key  = [16]byte{9, 9, 9}
	me   = model.MAC{0xf4, 0xf5, 0xe8, 0, 0, 1}
	peer = model.MAC{0xf4, 0xf5, 0xe8, 0, 0, 2}
)

type chanTransport chan mcast.Packet

func (c chanTransport) Packets() <-chan mcast.Packet { return c }

type recordSink struct {
	status.Nop
	mu       sync.Mutex
	received int
	scanned  int
	dropped  []string
	quiet    []bool
}

func (r *recordSink) Received(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
}

func (r *recordSink) Scanned(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanned++
}

func (r *recordSink) Dropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, reason)
}

func (r *recordSink) Quiet(_ string, quiet bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quiet = append(r.quiet, quiet)
}

func (r *recordSink) snapshot() (received, scanned int, dropped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.scanned, append([]string(nil), r.dropped...)
}

// busyWorker accepts every job and never finishes one.
type busyWorker struct{}

func (busyWorker) Submit(manager.Job) bool { return true }

type gauge struct{ n int }

func (g *gauge) SetPeers(n int) { g.n = n }

type harness struct {
	loop      *Loop
	store     *peers.Store
	sink      *recordSink
	transport chanTransport
	results   chan manager.Result
	gauge     *gauge
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:     peers.NewStore(peers.Consensus{Key: key, Start: time.Now().Add(-time.Hour)}, peers.Options{Logger: zerolog.Nop()}),
		sink:      &recordSink{},
		transport: make(chanTransport, 8),
		results:   make(chan manager.Result, 8),
		gauge:     &gauge{},
	}
	m := manager.New(manager.Config{
		Ifname:           "wlan0",
		MAC:              me,
		Allowed:          []int{2412, 2437},
		ScanInterval:     15 * time.Second,
		TxInterval:       10 * time.Second,
		AutochanInterval: 300 * time.Second,
		SurveyInterval:   5 * time.Second,
		PrintInterval:    60 * time.Second,
		InitialScans:     1,
	}, manager.Deps{
		Store:  h.store,
		Sink:   h.sink,
		Worker: busyWorker{},
		Log:    zerolog.Nop(),
		Rand:   rand.New(rand.NewSource(1)),
	})
	opts := Options{
		Managers:  []*manager.Manager{m},
		Store:     h.store,
		Transport: h.transport,
		Results:   h.results,
		Sink:      h.sink,
		PeerGauge: h.gauge,
		MaxWait:   10 * time.Millisecond,
		Log:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.loop = New(opts)
	return h
}

func (h *harness) run(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func encode(t *testing.T, mac model.MAC, k [16]byte) []byte {
	t.Helper()
	data, err := wire.Encode(model.State{Me: model.Me{
		Now:          time.Now(),
		Uptime:       time.Minute,
		ConsensusKey: k,
		MAC:          mac,
		Flags:        model.FlagCan2G,
	}})
	require.NoError(t, err)
	return data
}

func TestRun_AcceptsAndDropsPackets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	cancel, done := h.run(t)

	h.transport <- mcast.Packet{Data: []byte("nope")}
	h.transport <- mcast.Packet{Data: encode(t, me, key)}
	h.transport <- mcast.Packet{Data: encode(t, peer, key)}

	assert.Eventually(t, func() bool {
		received, _, dropped := h.sink.snapshot()
		return received == 1 && len(dropped) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, _, dropped := h.sink.snapshot()
	assert.Equal(t, []string{"short", "self"}, dropped)
	_, ok := h.store.Get(peer)
	assert.True(t, ok)
	assert.Equal(t, 1, h.gauge.n)
}

func TestRun_RoutesWorkerResults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, _ = h.run(t)

	h.results <- manager.Result{Ifname: "wlan9", Job: manager.Job{Kind: manager.JobScan}}
	h.results <- manager.Result{Ifname: "wlan0", Job: manager.Job{Kind: manager.JobScan}, At: time.Now()}

	assert.Eventually(t, func() bool {
		_, scanned, _ := h.sink.snapshot()
		return scanned == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRun_MarksQuietTicks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, _ = h.run(t)

	assert.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.quiet) > 0 && h.sink.quiet[0]
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRun_ExitsWhenSupervisedProcessGone(t *testing.T) {
	t.Parallel()

	var calls int
	h := newHarness(t, func(o *Options) {
		o.WatchPID = 4242
		o.PIDExists = func(pid int32) (bool, error) {
			calls++
			return calls < 3, nil
		}
	})
	_, done := h.run(t)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, 3, calls)
}

func TestRun_TransportClosed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	close(h.transport)
	_, done := h.run(t)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
}

func TestDropReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bad_magic", dropReason(wire.ErrBadMagic))
	assert.Equal(t, "bad_version", dropReason(wire.ErrBadVersion))
	assert.Equal(t, "decompress", dropReason(wire.ErrDecompress))
	assert.Equal(t, "bad_section", dropReason(wire.ErrBadSection))
	assert.Equal(t, "decode", dropReason(errors.New("other")))
}

func TestWait_UsesEarliestDeadline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(o *Options) { o.MaxWait = time.Hour })
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, time.Duration(0), h.loop.wait(now))

	h.loop.tick(now)
	// Scan and survey stay in flight, so the transmit cycle is next.
	assert.Equal(t, 10*time.Second, h.loop.wait(now))
	assert.Equal(t, 4*time.Second, h.loop.wait(now.Add(6*time.Second)))
}
