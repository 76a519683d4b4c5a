// Package metrics exports waveguide activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"waveguide/internal/model"
	"waveguide/internal/status"
)

// Collector implements status.Sink on top of Prometheus collectors.
type Collector struct {
	gatherer prometheus.Gatherer

	ScansTotal    *prometheus.CounterVec
	SentTotal     *prometheus.CounterVec
	ReceivedTotal *prometheus.CounterVec
	DroppedTotal  *prometheus.CounterVec
	QuietTotal    *prometheus.CounterVec
	Frequency     *prometheus.GaugeVec
	Disabled      *prometheus.GaugeVec
	SignalDBM     *prometheus.GaugeVec
	PeerCount     prometheus.Gauge
}

var _ status.Sink = (*Collector)(nil)

// NewCollector registers waveguide metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error
	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.ScansTotal, "waveguide_scans_total", "Completed scans per interface.", []string{"iface"}},
		{&c.SentTotal, "waveguide_packets_sent_total", "Multicast packets sent per interface.", []string{"iface"}},
		{&c.ReceivedTotal, "waveguide_packets_received_total", "Accepted peer packets per interface.", []string{"iface"}},
		{&c.DroppedTotal, "waveguide_packets_dropped_total", "Discarded incoming packets by reason.", []string{"reason"}},
		{&c.QuietTotal, "waveguide_quiet_ticks_total", "Loop ticks that saw no packets.", []string{"iface"}},
	}
	for _, def := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.name, Help: def.help}, def.labels)
		if *def.dst, err = registerCounterVec(reg, vec, def.name); err != nil {
			return nil, err
		}
	}

	gauges := []struct {
		dst    **prometheus.GaugeVec
		name   string
		help   string
		labels []string
	}{
		{&c.Frequency, "waveguide_autochannel_frequency_mhz", "Recommended primary frequency.", []string{"iface", "initial"}},
		{&c.Disabled, "waveguide_autodisabled", "1 while the interface should power down.", []string{"iface"}},
		{&c.SignalDBM, "waveguide_peer_signal_dbm", "Signal strength between this radio and a peer.", []string{"iface", "peer", "direction"}},
	}
	for _, def := range gauges {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: def.name, Help: def.help}, def.labels)
		if *def.dst, err = registerGaugeVec(reg, vec, def.name); err != nil {
			return nil, err
		}
	}

	c.PeerCount, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "waveguide_peers",
		Help: "Peers currently in the peer table.",
	}), "waveguide_peers")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) Scanned(ifname string) {
	c.ScansTotal.WithLabelValues(ifname).Inc()
}

func (c *Collector) Sent(ifname string) {
	c.SentTotal.WithLabelValues(ifname).Inc()
}

func (c *Collector) Received(ifname string) {
	c.ReceivedTotal.WithLabelValues(ifname).Inc()
}

func (c *Collector) Quiet(ifname string, quiet bool) {
	if quiet {
		c.QuietTotal.WithLabelValues(ifname).Inc()
	}
}

func (c *Collector) Dropped(reason string) {
	c.DroppedTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) AutoChannel(ifname string, freq int, initial bool) {
	c.Frequency.DeletePartialMatch(prometheus.Labels{"iface": ifname})
	c.Frequency.WithLabelValues(ifname, fmt.Sprint(initial)).Set(float64(freq))
}

func (c *Collector) AutoDisable(ifname string, by *model.MAC) {
	v := 0.0
	if by != nil {
		v = 1
	}
	c.Disabled.WithLabelValues(ifname).Set(v)
}

func (c *Collector) Signals(ifname string, self, peers status.Signals) {
	c.SignalDBM.DeletePartialMatch(prometheus.Labels{"iface": ifname})
	for peer, rssi := range self {
		c.SignalDBM.WithLabelValues(ifname, peer, "in").Set(float64(rssi))
	}
	for peer, rssi := range peers {
		c.SignalDBM.WithLabelValues(ifname, peer, "out").Set(float64(rssi))
	}
}

// SetPeers records the size of the peer table.
func (c *Collector) SetPeers(n int) {
	c.PeerCount.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
