// Package peers keeps the latest snapshot received from every other
// waveguide instance and owns the shared consensus key.
package peers

import (
	"net/netip"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"waveguide/internal/anon"
	"waveguide/internal/model"
)

// Result classifies what Accept did with a packet.
type Result string

const (
	Accepted    Result = "accepted"
	RejectSelf  Result = "self"
	RejectKey   Result = "key_mismatch"
	RejectEmpty Result = "no_mac"
)

// Store is the peer table. It is owned by the scheduler goroutine and is
// not safe for concurrent use.
type Store struct {
	log         zerolog.Logger
	consensus   Consensus
	persistPath string
	anonymize   bool

	local map[model.MAC]bool
	peers map[model.MAC]model.State
	// heard is our local clock when each peer's snapshot arrived. Sender
	// timestamps are only meaningful relative to each other.
	heard map[model.MAC]time.Time
}

// Options configures a Store.
type Options struct {
	// PersistPath, if set, receives the key every time it changes.
	PersistPath string
	Anonymize   bool
	Logger      zerolog.Logger
}

func NewStore(initial Consensus, opts Options) *Store {
	return &Store{
		log:         opts.Logger,
		consensus:   initial,
		persistPath: opts.PersistPath,
		anonymize:   opts.Anonymize,
		local:       map[model.MAC]bool{},
		peers:       map[model.MAC]model.State{},
		heard:       map[model.MAC]time.Time{},
	}
}

// AddLocal registers a MAC owned by this process. Packets carrying it are
// our own multicast looped back.
func (s *Store) AddLocal(mac model.MAC) {
	s.local[mac] = true
}

func (s *Store) IsLocal(mac model.MAC) bool {
	return s.local[mac]
}

func (s *Store) Consensus() Consensus {
	return s.consensus
}

// Offer arbitrates a candidate key that has been in use since start.
func (s *Store) Offer(key [16]byte, start time.Time) bool {
	next, changed := Arbitrate(s.consensus, key, start)
	if !changed {
		return false
	}
	s.consensus = next
	s.log.Info().
		Time("start", next.Start).
		Msg("consensus key changed")
	if s.persistPath != "" {
		if err := SaveConsensus(s.persistPath, next); err != nil {
			s.log.Warn().Err(err).Str("path", s.persistPath).Msg("persist consensus key failed")
		}
	}
	return true
}

// Accept records st as the latest snapshot from its sender unless it is
// our own packet or carries a key that loses arbitration.
func (s *Store) Accept(st model.State, now time.Time) Result {
	mac := st.Me.MAC
	if mac.IsZero() {
		s.log.Debug().Msg("dropping packet without sender mac")
		return RejectEmpty
	}
	if s.local[mac] {
		return RejectSelf
	}
	s.Offer(st.Me.ConsensusKey, StartFromUptime(now, st.Me.Uptime))
	if st.Me.ConsensusKey != s.consensus.Key {
		s.log.Debug().Str("peer", s.Name(mac)).Msg("dropping packet with stale consensus key")
		return RejectKey
	}
	s.peers[mac] = st
	s.heard[mac] = now
	return Accepted
}

// Heard returns the local time the last snapshot from mac was accepted.
func (s *Store) Heard(mac model.MAC) (time.Time, bool) {
	t, ok := s.heard[mac]
	return t, ok
}

// Get returns the last snapshot from mac.
func (s *Store) Get(mac model.MAC) (model.State, bool) {
	st, ok := s.peers[mac]
	return st, ok
}

// Peers returns every stored snapshot ordered by sender MAC. Staleness is
// left to the caller.
func (s *Store) Peers() []model.State {
	out := make([]model.State, 0, len(s.peers))
	for _, st := range s.peers {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Me.MAC, out[j].Me.MAC
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

func (s *Store) Len() int {
	return len(s.peers)
}

// Name renders mac for logs, anonymized under the current key if enabled.
func (s *Store) Name(mac model.MAC) string {
	if !s.anonymize {
		return mac.String()
	}
	return anon.MAC(s.consensus.Key, mac)
}

// NameIP is Name for IP addresses.
func (s *Store) NameIP(ip netip.Addr) string {
	if !s.anonymize {
		return ip.String()
	}
	return anon.IP(s.consensus.Key, ip)
}
