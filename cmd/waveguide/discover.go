package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"waveguide/internal/iw"
)

type radio struct {
	Device iw.Device
	Phy    iw.Phy
}

// discover pairs each radio with its first access point interface.
// Radios without one are not managed.
func discover(ctx context.Context, tool *iw.Tool, log zerolog.Logger) ([]radio, error) {
	devs, err := tool.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wifi devices: %w", err)
	}
	phys, err := tool.Phys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wifi phys: %w", err)
	}

	seen := map[string]bool{}
	var out []radio
	for _, d := range devs {
		if d.Type != "AP" {
			log.Debug().Str("iface", d.Ifname).Str("type", d.Type).Msg("skipping non-AP interface")
			continue
		}
		if seen[d.Phy] {
			continue
		}
		phy, ok := phys[d.Phy]
		if !ok {
			log.Warn().Str("iface", d.Ifname).Str("phy", d.Phy).Msg("no phy info for interface")
			continue
		}
		if d.MAC.IsZero() {
			log.Warn().Str("iface", d.Ifname).Msg("interface has no mac address")
			continue
		}
		seen[d.Phy] = true
		out = append(out, radio{Device: d, Phy: phy})
		log.Info().
			Str("iface", d.Ifname).
			Str("phy", d.Phy).
			Int("freqs", len(phy.Freqs)).
			Msg("found radio")
	}
	return out, nil
}
