package manager

import (
	"time"

	"waveguide/internal/model"
	"waveguide/internal/status"
)

// freshWindow is how old peer data may be and still count.
func (m *Manager) freshWindow() time.Duration {
	w := m.cfg.TxInterval
	if m.cfg.ScanInterval > w {
		w = m.cfg.ScanInterval
	}
	return 3 * w
}

// ChooseAutoDisable returns the MAC of the peer that should make this
// radio power down, or nil. A peer qualifies when this radio is not high
// power, the peer is, they share an RF band, the peer's last packet arrived
// recently by our clock, and a fresh signal reading in either direction is
// above the threshold.
func (m *Manager) ChooseAutoDisable(now time.Time) *model.MAC {
	if !m.cfg.AutoDisable || m.flags.Has(model.FlagHighPower) || m.deps.Store == nil {
		return nil
	}
	window := m.freshWindow()
	src := m.source()
	for _, p := range m.deps.Store.Peers() {
		if !p.Me.Flags.Has(model.FlagHighPower) {
			continue
		}
		if p.Me.Flags.Bands()&m.flags.Bands() == 0 {
			continue
		}
		heard, ok := m.deps.Store.Heard(p.Me.MAC)
		if !ok || now.Sub(heard) > window {
			continue
		}
		near := false
		if b, ok := src.bss[p.Me.MAC]; ok && now.Sub(b.LastSeen) <= window && b.RSSI > m.cfg.AutoDisableThreshold {
			near = true
		}
		if b, ok := p.FindBSS(m.cfg.MAC); ok && p.Me.Now.Sub(b.LastSeen) <= window && b.RSSI > m.cfg.AutoDisableThreshold {
			near = true
		}
		if near {
			mac := p.Me.MAC
			return &mac
		}
	}
	return nil
}

func (m *Manager) updateAutoDisable(now time.Time) {
	by := m.ChooseAutoDisable(now)
	if m.disableSet && sameMAC(by, m.disabledBy) {
		return
	}
	m.disableSet = true
	m.disabledBy = by
	if by != nil {
		m.log.Info().Str("peer", m.deps.Store.Name(*by)).Msg("auto-disable: high power peer nearby")
	} else {
		m.log.Info().Msg("auto-disable: clear")
	}
	m.deps.Sink.AutoDisable(m.cfg.Ifname, by)
}

// DisabledBy returns the peer currently forcing this radio down, if any.
func (m *Manager) DisabledBy() *model.MAC {
	return m.disabledBy
}

func sameMAC(a, b *model.MAC) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Signals returns how strongly this radio hears each peer and how strongly
// each peer reports hearing this radio, keyed by display name.
func (m *Manager) Signals() (self, peers status.Signals) {
	self, peers = status.Signals{}, status.Signals{}
	if m.deps.Store == nil {
		return self, peers
	}
	src := m.source()
	for _, p := range m.deps.Store.Peers() {
		name := m.deps.Store.Name(p.Me.MAC)
		if b, ok := src.bss[p.Me.MAC]; ok {
			self[name] = b.RSSI
		}
		if b, ok := p.FindBSS(m.cfg.MAC); ok {
			peers[name] = b.RSSI
		}
	}
	return self, peers
}

func (m *Manager) print(now time.Time) {
	self, heard := m.Signals()
	if m.mirror == nil {
		m.deps.Sink.Signals(m.cfg.Ifname, self, heard)
	}
	if m.deps.Store == nil {
		return
	}
	src := m.source()
	for _, p := range m.deps.Store.Peers() {
		name := m.deps.Store.Name(p.Me.MAC)
		at, _ := m.deps.Store.Heard(p.Me.MAC)
		ev := m.log.Info().
			Str("peer", name).
			Dur("age", now.Sub(at).Truncate(time.Second)).
			Bool("high_power", p.Me.Flags.Has(model.FlagHighPower)).
			Int("bss", len(p.SeenBSS))
		if rssi, ok := self[name]; ok {
			ev = ev.Int("rssi_self", int(rssi))
		}
		if rssi, ok := heard[name]; ok {
			ev = ev.Int("rssi_peer", int(rssi))
		}
		ev.Msg("peer")
	}
	for _, a := range src.assoc {
		ev := m.log.Debug().
			Str("station", m.deps.Store.Name(a.MAC)).
			Int("rssi", int(a.RSSI))
		for _, e := range src.arp {
			if e.MAC == a.MAC {
				ev = ev.Str("ip", m.deps.Store.NameIP(e.IP))
				break
			}
		}
		ev.Msg("station")
	}
	m.log.Info().
		Int("peers", m.deps.Store.Len()).
		Int("bss", len(src.bss)).
		Int("recommended", m.recommended).
		Bool("initial", m.recInitial).
		Bool("disabled", m.disabledBy != nil).
		Msg("status")
}
