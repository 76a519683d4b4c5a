// Package iw runs the iw(8) tool and parses the parts of its output that
// waveguide needs. Parsers skip lines they do not understand.
package iw

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"waveguide/internal/autochan"
	"waveguide/internal/execx"
	"waveguide/internal/model"
)

// DefaultARPPath is the kernel neighbor table.
const DefaultARPPath = "/proc/net/arp"

// Tool executes iw commands. It is injectable for unit tests.
type Tool struct {
	r       execx.Runner
	arpPath string
	now     func() time.Time
}

func NewTool(r execx.Runner, arpPath string) *Tool {
	if r == nil {
		r = execx.NewOSRunner()
	}
	if arpPath == "" {
		arpPath = DefaultARPPath
	}
	return &Tool{r: r, arpPath: arpPath, now: time.Now}
}

// Devices lists wireless interfaces (iw dev).
func (t *Tool) Devices(ctx context.Context) ([]Device, error) {
	out, err := t.r.Output(ctx, "iw", "dev")
	if err != nil {
		return nil, err
	}
	return ParseDev(out), nil
}

// Phys lists radios and their usable frequencies (iw phy).
func (t *Tool) Phys(ctx context.Context) (map[string]Phy, error) {
	out, err := t.r.Output(ctx, "iw", "phy")
	if err != nil {
		return nil, err
	}
	return ParsePhy(out), nil
}

// Scan runs a passive scan of freqs on ifname. An empty freqs scans every
// frequency the radio allows. AP interfaces need ap-force to scan at all.
func (t *Tool) Scan(ctx context.Context, ifname string, freqs []int, apForce bool) ([]model.BSS, error) {
	if ifname == "" {
		return nil, fmt.Errorf("interface is required")
	}
	args := []string{"dev", ifname, "scan"}
	if apForce {
		args = append(args, "ap-force")
	}
	args = append(args, "passive")
	if len(freqs) > 0 {
		args = append(args, "freq")
		for _, f := range freqs {
			args = append(args, strconv.Itoa(f))
		}
	}
	out, err := t.r.Output(ctx, "iw", args...)
	if err != nil {
		return nil, err
	}
	return ParseScan(out, t.now()), nil
}

// Survey reads channel survey counters for ifname.
func (t *Tool) Survey(ctx context.Context, ifname string) ([]autochan.Reading, error) {
	out, err := t.r.Output(ctx, "iw", "dev", ifname, "survey", "dump")
	if err != nil {
		return nil, err
	}
	return ParseSurvey(out), nil
}

// Stations lists clients associated to ifname.
func (t *Tool) Stations(ctx context.Context, ifname string) ([]model.Assoc, error) {
	out, err := t.r.Output(ctx, "iw", "dev", ifname, "station", "dump")
	if err != nil {
		return nil, err
	}
	return ParseStations(out, t.now()), nil
}

// ARP reads the kernel neighbor table.
func (t *Tool) ARP() ([]model.ARP, error) {
	var data []byte
	var err error
	if rf, ok := t.r.(execx.ReadFiler); ok {
		data, err = rf.ReadFile(t.arpPath)
	} else {
		data, err = os.ReadFile(t.arpPath)
	}
	if err != nil {
		return nil, err
	}
	return ParseARP(string(data), t.now()), nil
}
