package model

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// MAC is a 48-bit hardware address. It is a value type so it can key maps.
type MAC [6]byte

// ParseMAC parses colon or dash separated EUI-48 notation.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("mac %q: want 6 bytes, got %d", s, len(hw))
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether m is the all-zero address.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// Flags is the capability bitmask carried in Me.
type Flags uint32

const (
	FlagCan2G     Flags = 0x01
	FlagCan5G     Flags = 0x02
	FlagHighPower Flags = 0x10
)

// Bands returns only the RF band bits of f.
func (f Flags) Bands() Flags {
	return f & (FlagCan2G | FlagCan5G)
}

func (f Flags) Has(bit Flags) bool {
	return f&bit != 0
}

// BSS capability flags.
const (
	BSSFlagHT  uint32 = 0x01
	BSSFlagVHT uint32 = 0x02
)

// PHY types reported in BSS.Phy.
const (
	PhyUnknown uint8 = 0
	PhyLegacy  uint8 = 1
	PhyHT      uint8 = 2
	PhyVHT     uint8 = 3
)

// Me identifies the sender of a snapshot.
type Me struct {
	Now          time.Time
	Uptime       time.Duration
	ConsensusKey [16]byte
	MAC          MAC
	Flags        Flags
}

// BSS is an access point observed in a scan or reported by a peer.
type BSS struct {
	IsOurs   bool
	MAC      MAC
	Freq     uint16
	RSSI     int8
	Flags    uint32
	LastSeen time.Time
	Cap      uint16
	Phy      uint8
	Reg      string
}

// Channel holds accumulated survey data for one frequency.
type Channel struct {
	Freq       uint16
	NoiseDBM   int8
	ObservedMs uint32
	BusyMs     uint32
}

// Assoc is a client station associated with a local radio.
type Assoc struct {
	MAC      MAC
	RSSI     int8
	LastSeen time.Time
	Can5G    bool
}

// ARP is one row of the kernel neighbor table.
type ARP struct {
	IP       netip.Addr
	MAC      MAC
	LastSeen time.Time
}

// State is the unit of wire transfer and of per-peer storage.
type State struct {
	Me       Me
	SeenBSS  []BSS
	Channels []Channel
	Assoc    []Assoc
	ARP      []ARP
}

// BSSFreshness is how long a BSS observation stays meaningful.
const BSSFreshness = 10 * time.Minute

// FreshBSS returns the entries of s seen within BSSFreshness of s.Me.Now.
func (s State) FreshBSS() []BSS {
	cutoff := s.Me.Now.Add(-BSSFreshness)
	out := make([]BSS, 0, len(s.SeenBSS))
	for _, b := range s.SeenBSS {
		if b.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FindBSS returns the entry for mac, if any.
func (s State) FindBSS(mac MAC) (BSS, bool) {
	for _, b := range s.SeenBSS {
		if b.MAC == mac {
			return b, true
		}
	}
	return BSS{}, false
}
