// Package wire implements the waveguide multicast packet format.
//
// A packet is a 5-byte preamble ("wave" + version) followed by a zlib
// (DEFLATE) compressed body. The body starts with four big-endian uint32
// section lengths, then the fixed-width Me record, then the BSS, Channel,
// Assoc and ARP sections packed back to back. Times are carried as whole
// seconds before Me.Now.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"

	"waveguide/internal/model"
)

const (
	Magic   = "wave"
	Version = 2

	preambleLen = len(Magic) + 1
	headerLen   = 4 * 4

	MeLen      = 8 + 8 + 16 + 6 + 4
	BSSLen     = 1 + 6 + 2 + 1 + 4 + 4 + 2 + 1 + 2
	ChannelLen = 2 + 1 + 4 + 4
	AssocLen   = 6 + 1 + 4 + 1
	ARPLen     = 4 + 6 + 4

	// maxBody bounds decompression so a hostile packet cannot balloon memory.
	maxBody = 1 << 20
)

var (
	ErrShort      = errors.New("wire: packet truncated")
	ErrBadMagic   = errors.New("wire: bad magic")
	ErrBadVersion = errors.New("wire: unsupported version")
	ErrDecompress = errors.New("wire: decompression failed")
	ErrBadSection = errors.New("wire: section length not a multiple of record width")
)

// Encode serializes s. Sub-second precision of every time field is lost.
func Encode(s model.State) ([]byte, error) {
	now := s.Me.Now.Unix()

	body := make([]byte, 0, headerLen+MeLen+
		len(s.SeenBSS)*BSSLen+len(s.Channels)*ChannelLen+len(s.Assoc)*AssocLen+len(s.ARP)*ARPLen)
	body = binary.BigEndian.AppendUint32(body, uint32(len(s.SeenBSS)*BSSLen))
	body = binary.BigEndian.AppendUint32(body, uint32(len(s.Channels)*ChannelLen))
	body = binary.BigEndian.AppendUint32(body, uint32(len(s.Assoc)*AssocLen))
	body = binary.BigEndian.AppendUint32(body, uint32(len(s.ARP)*ARPLen))

	body = binary.BigEndian.AppendUint64(body, uint64(now))
	body = binary.BigEndian.AppendUint64(body, uint64(s.Me.Uptime.Milliseconds()))
	body = append(body, s.Me.ConsensusKey[:]...)
	body = append(body, s.Me.MAC[:]...)
	body = binary.BigEndian.AppendUint32(body, uint32(s.Me.Flags))

	for _, b := range s.SeenBSS {
		body = appendBool(body, b.IsOurs)
		body = append(body, b.MAC[:]...)
		body = binary.BigEndian.AppendUint16(body, b.Freq)
		body = append(body, byte(b.RSSI))
		body = binary.BigEndian.AppendUint32(body, b.Flags)
		body = binary.BigEndian.AppendUint32(body, age(now, b.LastSeen))
		body = binary.BigEndian.AppendUint16(body, b.Cap)
		body = append(body, b.Phy)
		body = append(body, reg(b.Reg)...)
	}
	for _, c := range s.Channels {
		body = binary.BigEndian.AppendUint16(body, c.Freq)
		body = append(body, byte(c.NoiseDBM))
		body = binary.BigEndian.AppendUint32(body, c.ObservedMs)
		body = binary.BigEndian.AppendUint32(body, c.BusyMs)
	}
	for _, a := range s.Assoc {
		body = append(body, a.MAC[:]...)
		body = append(body, byte(a.RSSI))
		body = binary.BigEndian.AppendUint32(body, age(now, a.LastSeen))
		body = appendBool(body, a.Can5G)
	}
	for _, a := range s.ARP {
		ip := a.IP.Unmap()
		if !ip.Is4() {
			return nil, fmt.Errorf("wire: arp entry %s is not IPv4", a.IP)
		}
		ip4 := ip.As4()
		body = append(body, ip4[:]...)
		body = append(body, a.MAC[:]...)
		body = binary.BigEndian.AppendUint32(body, age(now, a.LastSeen))
	}

	var out bytes.Buffer
	out.WriteString(Magic)
	out.WriteByte(Version)
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("wire: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("wire: compress: %w", err)
	}
	return out.Bytes(), nil
}

// Decode parses a packet produced by Encode. The preamble is checked before
// any decompression is attempted.
func Decode(p []byte) (model.State, error) {
	if len(p) < preambleLen {
		return model.State{}, fmt.Errorf("%w: %d bytes", ErrShort, len(p))
	}
	if string(p[:len(Magic)]) != Magic {
		return model.State{}, fmt.Errorf("%w: %q", ErrBadMagic, p[:len(Magic)])
	}
	if v := p[len(Magic)]; v != Version {
		return model.State{}, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, v, Version)
	}

	zr, err := zlib.NewReader(bytes.NewReader(p[preambleLen:]))
	if err != nil {
		return model.State{}, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()
	body, err := io.ReadAll(io.LimitReader(zr, maxBody+1))
	if err != nil {
		return model.State{}, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	if len(body) > maxBody {
		return model.State{}, fmt.Errorf("%w: body exceeds %d bytes", ErrDecompress, maxBody)
	}

	if len(body) < headerLen+MeLen {
		return model.State{}, fmt.Errorf("%w: body %d bytes", ErrShort, len(body))
	}
	var lens [4]int
	for i := range lens {
		lens[i] = int(binary.BigEndian.Uint32(body[i*4:]))
	}
	widths := [4]int{BSSLen, ChannelLen, AssocLen, ARPLen}
	names := [4]string{"bss", "channel", "assoc", "arp"}
	total := headerLen + MeLen
	for i, l := range lens {
		if l%widths[i] != 0 {
			return model.State{}, fmt.Errorf("%w: %s section is %d bytes", ErrBadSection, names[i], l)
		}
		total += l
	}
	if len(body) < total {
		return model.State{}, fmt.Errorf("%w: body %d bytes, sections need %d", ErrShort, len(body), total)
	}

	r := body[headerLen:]
	var s model.State
	nowSec := binary.BigEndian.Uint64(r[0:])
	now := time.Unix(int64(nowSec), 0).UTC()
	s.Me.Now = now
	s.Me.Uptime = time.Duration(binary.BigEndian.Uint64(r[8:])) * time.Millisecond
	copy(s.Me.ConsensusKey[:], r[16:32])
	copy(s.Me.MAC[:], r[32:38])
	s.Me.Flags = model.Flags(binary.BigEndian.Uint32(r[38:]))
	r = r[MeLen:]

	sec, r := r[:lens[0]], r[lens[0]:]
	if n := len(sec) / BSSLen; n > 0 {
		s.SeenBSS = make([]model.BSS, 0, n)
	}
	for i := 0; i < len(sec); i += BSSLen {
		e := sec[i : i+BSSLen]
		var b model.BSS
		b.IsOurs = e[0] != 0
		copy(b.MAC[:], e[1:7])
		b.Freq = binary.BigEndian.Uint16(e[7:])
		b.RSSI = int8(e[9])
		b.Flags = binary.BigEndian.Uint32(e[10:])
		b.LastSeen = seen(now, binary.BigEndian.Uint32(e[14:]))
		b.Cap = binary.BigEndian.Uint16(e[18:])
		b.Phy = e[20]
		b.Reg = strings.TrimRight(string(e[21:23]), "\x00")
		s.SeenBSS = append(s.SeenBSS, b)
	}

	sec, r = r[:lens[1]], r[lens[1]:]
	if n := len(sec) / ChannelLen; n > 0 {
		s.Channels = make([]model.Channel, 0, n)
	}
	for i := 0; i < len(sec); i += ChannelLen {
		e := sec[i : i+ChannelLen]
		s.Channels = append(s.Channels, model.Channel{
			Freq:       binary.BigEndian.Uint16(e[0:]),
			NoiseDBM:   int8(e[2]),
			ObservedMs: binary.BigEndian.Uint32(e[3:]),
			BusyMs:     binary.BigEndian.Uint32(e[7:]),
		})
	}

	sec, r = r[:lens[2]], r[lens[2]:]
	if n := len(sec) / AssocLen; n > 0 {
		s.Assoc = make([]model.Assoc, 0, n)
	}
	for i := 0; i < len(sec); i += AssocLen {
		e := sec[i : i+AssocLen]
		var a model.Assoc
		copy(a.MAC[:], e[0:6])
		a.RSSI = int8(e[6])
		a.LastSeen = seen(now, binary.BigEndian.Uint32(e[7:]))
		a.Can5G = e[11] != 0
		s.Assoc = append(s.Assoc, a)
	}

	sec = r[:lens[3]]
	if n := len(sec) / ARPLen; n > 0 {
		s.ARP = make([]model.ARP, 0, n)
	}
	for i := 0; i < len(sec); i += ARPLen {
		e := sec[i : i+ARPLen]
		var a model.ARP
		a.IP = netip.AddrFrom4([4]byte(e[0:4]))
		copy(a.MAC[:], e[4:10])
		a.LastSeen = seen(now, binary.BigEndian.Uint32(e[10:]))
		s.ARP = append(s.ARP, a)
	}

	return s, nil
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func reg(s string) []byte {
	out := []byte{0, 0}
	copy(out, s)
	return out
}

func age(now int64, t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	d := now - t.Unix()
	if d < 0 {
		return 0
	}
	if d > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(d)
}

func seen(now time.Time, ageSec uint32) time.Time {
	return now.Add(-time.Duration(ageSec) * time.Second)
}
