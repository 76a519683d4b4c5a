package iw

import (
	"math"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"waveguide/internal/autochan"
	"waveguide/internal/model"
)

// Device is one wireless interface from `iw dev`.
type Device struct {
	Phy    string
	Ifname string
	MAC    model.MAC
	Type   string
	Freq   int
}

// Phy is one radio from `iw phy`.
type Phy struct {
	Name  string
	Freqs []int
	HT40  bool
	VHT   bool
	// Radar is set when some interface combination can detect radar, which
	// DFS channels require.
	Radar bool
}

var (
	reChannel = regexp.MustCompile(`\((\d+)(?:\.\d+)? MHz\)`)
	reFreq    = regexp.MustCompile(`^\* (\d+)(?:\.\d+)? MHz`)
	reBSS     = regexp.MustCompile(`^BSS ([0-9a-fA-F:]{17})`)
	reStation = regexp.MustCompile(`^Station ([0-9a-fA-F:]{17})`)
	reHex     = regexp.MustCompile(`\(0x([0-9a-fA-F]+)\)`)
)

// ParseDev parses `iw dev`.
func ParseDev(out string) []Device {
	var devs []Device
	phy := ""
	var cur *Device
	flush := func() {
		if cur != nil {
			devs = append(devs, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "phy#"):
			flush()
			phy = "phy" + strings.TrimPrefix(line, "phy#")
		case strings.HasPrefix(line, "Interface "):
			flush()
			cur = &Device{Phy: phy, Ifname: strings.TrimSpace(strings.TrimPrefix(line, "Interface "))}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "addr "):
			if mac, err := model.ParseMAC(strings.TrimSpace(strings.TrimPrefix(line, "addr "))); err == nil {
				cur.MAC = mac
			}
		case strings.HasPrefix(line, "type "):
			cur.Type = strings.TrimSpace(strings.TrimPrefix(line, "type "))
		case strings.HasPrefix(line, "channel "):
			if m := reChannel.FindStringSubmatch(line); m != nil {
				cur.Freq, _ = strconv.Atoi(m[1])
			}
		}
	}
	flush()
	return devs
}

// ParsePhy parses `iw phy`, keeping only enabled frequencies.
func ParsePhy(out string) map[string]Phy {
	phys := map[string]Phy{}
	var cur *Phy
	flush := func() {
		if cur != nil {
			sort.Ints(cur.Freqs)
			phys[cur.Name] = *cur
			cur = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Wiphy "):
			flush()
			cur = &Phy{Name: strings.TrimSpace(strings.TrimPrefix(line, "Wiphy "))}
		case cur == nil:
			continue
		case strings.Contains(line, "HT20/HT40"):
			cur.HT40 = true
		case strings.HasPrefix(line, "VHT Capabilities"):
			cur.VHT = true
		case strings.Contains(line, "radar detect widths"):
			cur.Radar = true
		case strings.HasPrefix(line, "* "):
			m := reFreq.FindStringSubmatch(line)
			if m == nil || strings.Contains(line, "(disabled)") {
				continue
			}
			f, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			cur.Freqs = append(cur.Freqs, f)
		}
	}
	flush()
	return phys
}

// ParseScan parses `iw dev X scan` into BSS records stamped relative to now.
func ParseScan(out string, now time.Time) []model.BSS {
	var list []model.BSS
	var cur *model.BSS
	flush := func() {
		if cur != nil && cur.Freq != 0 {
			if cur.Phy == model.PhyUnknown {
				cur.Phy = model.PhyLegacy
			}
			list = append(list, *cur)
		}
		cur = nil
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "BSS ") {
			flush()
			m := reBSS.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			mac, err := model.ParseMAC(m[1])
			if err != nil {
				continue
			}
			cur = &model.BSS{MAC: mac, LastSeen: now}
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch key {
		case "freq":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				cur.Freq = uint16(f)
			}
		case "signal":
			fields := strings.Fields(val)
			if len(fields) > 0 {
				if s, err := strconv.ParseFloat(fields[0], 64); err == nil {
					cur.RSSI = clampInt8(s)
				}
			}
		case "last seen":
			fields := strings.Fields(val)
			if len(fields) >= 2 && fields[1] == "ms" {
				if ms, err := strconv.Atoi(fields[0]); err == nil {
					cur.LastSeen = now.Add(-time.Duration(ms) * time.Millisecond)
				}
			}
		case "capability":
			if m := reHex.FindStringSubmatch(val); m != nil {
				if c, err := strconv.ParseUint(m[1], 16, 16); err == nil {
					cur.Cap = uint16(c)
				}
			}
		case "Country":
			fields := strings.Fields(val)
			if len(fields) > 0 && len(fields[0]) >= 2 {
				cur.Reg = fields[0][:2]
			}
		case "HT capabilities":
			cur.Flags |= model.BSSFlagHT
			if cur.Phy < model.PhyHT {
				cur.Phy = model.PhyHT
			}
		case "VHT capabilities":
			cur.Flags |= model.BSSFlagVHT
			cur.Phy = model.PhyVHT
		}
	}
	flush()
	return list
}

// ParseSurvey parses `iw dev X survey dump`. Entries without airtime
// counters are skipped.
func ParseSurvey(out string) []autochan.Reading {
	var list []autochan.Reading
	var cur *autochan.Reading
	haveActive := false
	flush := func() {
		if cur != nil && cur.Freq != 0 && haveActive {
			list = append(list, *cur)
		}
		cur = nil
		haveActive = false
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "Survey data from") {
			flush()
			cur = &autochan.Reading{}
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(val)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "frequency":
			cur.Freq = uint16(n)
		case "noise":
			cur.NoiseDBM = clampInt8(n)
		case "channel active time":
			cur.ActiveMs = uint32(n)
			haveActive = true
		case "channel busy time":
			cur.BusyMs = uint32(n)
		}
	}
	flush()
	return list
}

// ParseStations parses `iw dev X station dump`.
func ParseStations(out string, now time.Time) []model.Assoc {
	var list []model.Assoc
	var cur *model.Assoc
	flush := func() {
		if cur != nil {
			list = append(list, *cur)
		}
		cur = nil
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "Station ") {
			flush()
			m := reStation.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			mac, err := model.ParseMAC(m[1])
			if err != nil {
				continue
			}
			cur = &model.Assoc{MAC: mac, LastSeen: now}
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(val)
		if len(fields) == 0 {
			continue
		}
		switch strings.TrimSpace(key) {
		case "inactive time":
			if ms, err := strconv.Atoi(fields[0]); err == nil {
				cur.LastSeen = now.Add(-time.Duration(ms) * time.Millisecond)
			}
		case "signal":
			if s, err := strconv.ParseFloat(fields[0], 64); err == nil {
				cur.RSSI = clampInt8(s)
			}
		}
	}
	flush()
	return list
}

// ParseARP parses /proc/net/arp, skipping incomplete entries.
func ParseARP(out string, now time.Time) []model.ARP {
	var list []model.ARP
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil || !ip.Is4() {
			continue
		}
		if fields[2] == "0x0" {
			continue
		}
		mac, err := model.ParseMAC(fields[3])
		if err != nil || mac.IsZero() {
			continue
		}
		list = append(list, model.ARP{IP: ip, MAC: mac, LastSeen: now})
	}
	return list
}

func clampInt8(v float64) int8 {
	v = math.Round(v)
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	if v < math.MinInt8 {
		return math.MinInt8
	}
	return int8(v)
}
