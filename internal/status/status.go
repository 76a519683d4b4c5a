// Package status publishes what each radio manager is doing.
//
// Sink is the internal event API. FileSink keeps the marker files and
// small state files that external monitoring reads from the status
// directory.
package status

import (
	"waveguide/internal/model"
)

// Signals maps a peer MAC string to a signal strength in dBm.
type Signals map[string]int8

// Sink receives manager events. Implementations must not block.
type Sink interface {
	// Scanned reports a completed scan.
	Scanned(ifname string)
	// Sent reports a transmitted packet.
	Sent(ifname string)
	// Received reports an accepted peer packet.
	Received(ifname string)
	// Quiet reports whether a loop tick passed without any packet.
	Quiet(ifname string, quiet bool)
	// Dropped reports a discarded incoming packet and why.
	Dropped(reason string)
	// AutoChannel reports the current recommendation. initial is set while
	// the value is a first-time default rather than a scored choice.
	AutoChannel(ifname string, freq int, initial bool)
	// AutoDisable reports the peer that should make ifname power down, or
	// nil when the radio may stay up.
	AutoDisable(ifname string, by *model.MAC)
	// Signals reports how strongly we hear each peer (self) and how
	// strongly each peer hears us (peers).
	Signals(ifname string, self, peers Signals)
}

// Multi fans events out to every sink.
type Multi []Sink

func (m Multi) Scanned(ifname string) {
	for _, s := range m {
		s.Scanned(ifname)
	}
}

func (m Multi) Sent(ifname string) {
	for _, s := range m {
		s.Sent(ifname)
	}
}

func (m Multi) Received(ifname string) {
	for _, s := range m {
		s.Received(ifname)
	}
}

func (m Multi) Quiet(ifname string, quiet bool) {
	for _, s := range m {
		s.Quiet(ifname, quiet)
	}
}

func (m Multi) Dropped(reason string) {
	for _, s := range m {
		s.Dropped(reason)
	}
}

func (m Multi) AutoChannel(ifname string, freq int, initial bool) {
	for _, s := range m {
		s.AutoChannel(ifname, freq, initial)
	}
}

func (m Multi) AutoDisable(ifname string, by *model.MAC) {
	for _, s := range m {
		s.AutoDisable(ifname, by)
	}
}

func (m Multi) Signals(ifname string, self, peers Signals) {
	for _, s := range m {
		s.Signals(ifname, self, peers)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Scanned(string) {}
func (Nop) Sent(string) {}
func (Nop) Received(string) {}
func (Nop) Quiet(string, bool) {}
func (Nop) Dropped(string) {}
func (Nop) AutoChannel(string, int, bool) {}
func (Nop) AutoDisable(string, *model.MAC) {}
func (Nop) Signals(string, Signals, Signals) {}
