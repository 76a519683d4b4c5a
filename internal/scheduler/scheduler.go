// Package scheduler runs the control loop that owns the peer store and
// every manager. Packets and worker results arrive over channels; timers
// fire at the earliest manager deadline.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"waveguide/internal/manager"
	"waveguide/internal/mcast"
	"waveguide/internal/peers"
	"waveguide/internal/status"
	"waveguide/internal/wire"
)

// DefaultMaxWait bounds how long the loop sleeps between ticks.
const DefaultMaxWait = time.Second

var ErrTransportClosed = errors.New("multicast transport closed")

// Transport delivers received datagrams. *mcast.Conn implements it.
type Transport interface {
	Packets() <-chan mcast.Packet
}

// PeerGauge is told the peer table size after every accepted packet.
type PeerGauge interface {
	SetPeers(n int)
}

type Options struct {
	Managers  []*manager.Manager
	Store     *peers.Store
	Transport Transport
	Results   <-chan manager.Result
	Sink      status.Sink
	PeerGauge PeerGauge

	// WatchPID, when positive, ends the loop once that process is gone.
	WatchPID  int32
	PIDExists func(pid int32) (bool, error)

	MaxWait time.Duration
	Log     zerolog.Logger
	Now     func() time.Time
}

// Loop is the single goroutine that mutates managers and the peer store.
type Loop struct {
	opts     Options
	log      zerolog.Logger
	byIfname map[string]*manager.Manager
	received bool
}

func New(opts Options) *Loop {
	if opts.Sink == nil {
		opts.Sink = status.Nop{}
	}
	if opts.PIDExists == nil {
		opts.PIDExists = process.PidExists
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Loop{
		opts:     opts,
		log:      opts.Log,
		byIfname: map[string]*manager.Manager{},
	}
	for _, m := range opts.Managers {
		if !m.IsFake() {
			l.byIfname[m.Ifname()] = m
		}
	}
	return l
}

// Run loops until ctx is done, the transport closes, or the supervised
// process exits. A vanished supervised process is a clean exit.
func (l *Loop) Run(ctx context.Context) error {
	var packets <-chan mcast.Packet
	if l.opts.Transport != nil {
		packets = l.opts.Transport.Packets()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		now := l.opts.Now()
		l.tick(now)
		if l.supervisedGone() {
			l.log.Info().Int32("pid", l.opts.WatchPID).Msg("supervised process exited")
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.wait(now))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-packets:
			if !ok {
				return ErrTransportClosed
			}
			l.handlePacket(p, l.opts.Now())
		case r := <-l.opts.Results:
			m, ok := l.byIfname[r.Ifname]
			if !ok {
				l.log.Warn().Str("iface", r.Ifname).Msg("result for unknown interface")
				continue
			}
			m.Apply(r)
		case <-timer.C:
			l.markQuiet()
		}
	}
}

func (l *Loop) tick(now time.Time) {
	for _, m := range l.opts.Managers {
		if err := m.Tick(now); err != nil {
			l.log.Error().Err(err).Str("iface", m.Ifname()).Msg("channel selection failed")
		}
	}
}

// wait is the time until the earliest manager deadline, capped at MaxWait.
func (l *Loop) wait(now time.Time) time.Duration {
	d := l.opts.MaxWait
	for _, m := range l.opts.Managers {
		if until := m.NextDeadline().Sub(now); until < d {
			d = until
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (l *Loop) markQuiet() {
	for ifname := range l.byIfname {
		l.opts.Sink.Quiet(ifname, !l.received)
	}
	l.received = false
}

func (l *Loop) handlePacket(p mcast.Packet, now time.Time) {
	st, err := wire.Decode(p.Data)
	if err != nil {
		reason := dropReason(err)
		l.log.Warn().
			Err(err).
			Str("from", p.From.String()).
			Int("bytes", len(p.Data)).
			Msg("dropping undecodable packet")
		l.opts.Sink.Dropped(reason)
		return
	}
	if l.opts.Store == nil {
		return
	}
	res := l.opts.Store.Accept(st, now)
	if res != peers.Accepted {
		if res != peers.RejectSelf {
			l.log.Debug().Str("from", p.From.String()).Str("reason", string(res)).Msg("dropping packet")
		}
		l.opts.Sink.Dropped(string(res))
		return
	}
	l.received = true
	l.log.Debug().
		Str("peer", l.opts.Store.Name(st.Me.MAC)).
		Int("bss", len(st.SeenBSS)).
		Msg("received snapshot")
	for ifname := range l.byIfname {
		l.opts.Sink.Received(ifname)
	}
	if l.opts.PeerGauge != nil {
		l.opts.PeerGauge.SetPeers(l.opts.Store.Len())
	}
}

func (l *Loop) supervisedGone() bool {
	if l.opts.WatchPID <= 0 {
		return false
	}
	ok, err := l.opts.PIDExists(l.opts.WatchPID)
	if err != nil {
		l.log.Warn().Err(err).Int32("pid", l.opts.WatchPID).Msg("check supervised process failed")
		return false
	}
	return !ok
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, wire.ErrBadVersion):
		return "bad_version"
	case errors.Is(err, wire.ErrShort):
		return "short"
	case errors.Is(err, wire.ErrDecompress):
		return "decompress"
	case errors.Is(err, wire.ErrBadSection):
		return "bad_section"
	}
	return "decode"
}
