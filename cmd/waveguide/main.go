package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"waveguide/internal/config"
	"waveguide/internal/execx"
	"waveguide/internal/iw"
	"waveguide/internal/logger"
	"waveguide/internal/manager"
	"waveguide/internal/mcast"
	"waveguide/internal/metrics"
	"waveguide/internal/peers"
	"waveguide/internal/scheduler"
	"waveguide/internal/status"
)

const usage = `waveguide - cooperative Wi-Fi channel selection

Every instance on the segment multicasts what its radios see. Each radio
gets a recommended channel under <status-dir>/autochan.<iface> and, when a
nearby high-power access point covers the same band, an
<status-dir>/autodisable.<iface> marker naming it.

Usage:
  waveguide [flags]

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "waveguide: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	started := time.Now()

	fs := pflag.NewFlagSet("waveguide", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to YAML config")
	fs.StringSlice("high-power", nil, "mark an interface as high power (repeatable)")
	fs.StringSlice("fake", nil, "add a fake identity with this MAC (repeatable)")
	fs.Duration("scan-interval", config.DefaultScanInterval, "time to cycle through every allowed channel once")
	fs.Duration("tx-interval", config.DefaultTxInterval, "time between multicast snapshots")
	fs.Duration("autochan-interval", config.DefaultAutochanInterval, "time between channel recommendations")
	fs.Duration("survey-interval", config.DefaultSurveyInterval, "time between survey and station refreshes")
	fs.Duration("print-interval", config.DefaultPrintInterval, "time between peer summaries in the log")
	fs.Int("initial-scans", config.DefaultInitialScans, "full scans to run at startup")
	fs.Int("auto-disable-threshold", config.DefaultAutoDisableThreshold, "signal in dBm above which a high-power peer is close")
	fs.Bool("auto-disable", true, "recommend powering down near high-power peers")
	fs.Bool("primary-spreading", true, "prefer an idle primary inside a shared grouping")
	fs.Bool("debug", false, "enable debug logging")
	fs.Bool("anonymize", true, "anonymize MAC addresses in logs")
	fs.String("status-dir", config.DefaultStatusDir, "directory for status files")
	fs.Int("watch-pid", 0, "exit when this process exits")
	fs.String("mcast-group", config.DefaultMCastGroup, "multicast group and port")
	fs.String("mcast-if", "", "interface to join the multicast group on")
	fs.String("metrics-listen", "", "serve Prometheus metrics on this address")
	fs.String("arp-path", iw.DefaultARPPath, "kernel ARP table")
	console := fs.Bool("console", false, "human-readable log output")
	fs.BoolP("help", "h", false, "show help")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(fs)
			return nil
		}
		return err
	}
	if help, _ := fs.GetBool("help"); help {
		printHelp(fs)
		return nil
	}
	if args := fs.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(fs, &cfg); err != nil {
		return err
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Debug: cfg.Debug, Console: *console}); err != nil {
		return err
	}
	log := logger.WithComponent("main")

	ctx, cancel := signalContext()
	defer cancel()

	tool := iw.NewTool(execx.NewOSRunner(), cfg.ARPPath)
	radios, err := discover(ctx, tool, logger.WithComponent("discover"))
	if err != nil {
		return err
	}
	if len(radios) == 0 {
		return errors.New("no wifi access point interfaces found")
	}

	if err := os.MkdirAll(cfg.StatusDir, 0o755); err != nil {
		return err
	}
	consensusPath := filepath.Join(cfg.StatusDir, "consensus.yaml")
	cons := initialConsensus(consensusPath, started, log)
	store := peers.NewStore(cons, peers.Options{
		PersistPath: consensusPath,
		Anonymize:   config.Bool(cfg.Anonymize),
		Logger:      logger.WithComponent("peers"),
	})

	files, err := status.NewFileSink(cfg.StatusDir, logger.WithComponent("status"))
	if err != nil {
		return err
	}
	sinks := status.Multi{files}

	var peerGauge scheduler.PeerGauge
	if cfg.MetricsListen != "" {
		collector, err := metrics.NewCollector(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		sinks = append(sinks, collector)
		peerGauge = collector
		srv := serveMetrics(cfg.MetricsListen, collector.Handler(), log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	conn, err := mcast.Listen(cfg.MCastGroup, cfg.MCastIf, logger.WithComponent("mcast"))
	if err != nil {
		return err
	}
	defer conn.Close()

	results := make(chan manager.Result, 16)
	managers := make([]*manager.Manager, 0, len(radios))
	for _, r := range radios {
		worker := manager.NewWorker(r.Device.Ifname, tool, r.Device.Type == "AP", results,
			logger.WithComponent("worker").With().Str("iface", r.Device.Ifname).Logger())
		go worker.Run(ctx)

		managers = append(managers, manager.New(managerConfig(cfg, r, started), manager.Deps{
			Store:  store,
			Sink:   sinks,
			Sender: conn,
			Worker: worker,
			Log:    logger.WithComponent("manager"),
		}))
	}
	fakes, err := cfg.FakeMACs()
	if err != nil {
		return err
	}
	for _, mac := range fakes {
		managers = append(managers, manager.NewFake(mac, managers[0], conn))
	}

	loop := scheduler.New(scheduler.Options{
		Managers:  managers,
		Store:     store,
		Transport: conn,
		Results:   results,
		Sink:      sinks,
		PeerGauge: peerGauge,
		WatchPID:  int32(cfg.WatchPID),
		Log:       logger.WithComponent("scheduler"),
	})
	log.Info().Int("radios", len(radios)).Int("fakes", len(fakes)).Msg("waveguide running")

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutting down")
		return nil
	}
	return err
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, usage)
	fs.PrintDefaults()
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

// overrideFromFlags copies every flag given on the command line into cfg.
func overrideFromFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}
	boolPtr := func(name string, dst **bool) {
		set(name, func() {
			var v bool
			v, err = fs.GetBool(name)
			*dst = &v
		})
	}
	duration := func(name string, dst *time.Duration) {
		set(name, func() { *dst, err = fs.GetDuration(name) })
	}
	str := func(name string, dst *string) {
		set(name, func() { *dst, err = fs.GetString(name) })
	}

	set("high-power", func() { cfg.HighPower, err = fs.GetStringSlice("high-power") })
	set("fake", func() { cfg.Fake, err = fs.GetStringSlice("fake") })
	duration("scan-interval", &cfg.ScanInterval)
	duration("tx-interval", &cfg.TxInterval)
	duration("autochan-interval", &cfg.AutochanInterval)
	duration("survey-interval", &cfg.SurveyInterval)
	duration("print-interval", &cfg.PrintInterval)
	set("initial-scans", func() { cfg.InitialScans, err = fs.GetInt("initial-scans") })
	set("auto-disable-threshold", func() {
		var v int
		v, err = fs.GetInt("auto-disable-threshold")
		cfg.AutoDisableThreshold = &v
	})
	boolPtr("auto-disable", &cfg.AutoDisable)
	boolPtr("primary-spreading", &cfg.PrimarySpreading)
	boolPtr("anonymize", &cfg.Anonymize)
	set("debug", func() { cfg.Debug, err = fs.GetBool("debug") })
	str("status-dir", &cfg.StatusDir)
	set("watch-pid", func() { cfg.WatchPID, err = fs.GetInt("watch-pid") })
	str("mcast-group", &cfg.MCastGroup)
	str("mcast-if", &cfg.MCastIf)
	str("metrics-listen", &cfg.MetricsListen)
	str("arp-path", &cfg.ARPPath)
	return err
}

func managerConfig(cfg config.Config, r radio, started time.Time) manager.Config {
	return manager.Config{
		Ifname:               r.Device.Ifname,
		Phy:                  r.Device.Phy,
		MAC:                  r.Device.MAC,
		HighPower:            cfg.IsHighPower(r.Device.Ifname),
		Allowed:              r.Phy.Freqs,
		Wide40:               r.Phy.HT40,
		Radar:                r.Phy.Radar,
		ScanInterval:         cfg.ScanInterval,
		TxInterval:           cfg.TxInterval,
		AutochanInterval:     cfg.AutochanInterval,
		SurveyInterval:       cfg.SurveyInterval,
		PrintInterval:        cfg.PrintInterval,
		InitialScans:         cfg.InitialScans,
		AutoDisable:          config.Bool(cfg.AutoDisable),
		AutoDisableThreshold: cfg.Threshold(),
		PrimarySpreading:     config.Bool(cfg.PrimarySpreading),
		Started:              started,
	}
}

// initialConsensus reuses a persisted key so restarts keep the segment's key
// stable. The start is always the process start: peers only ever learn it
// from the uptime we send.
func initialConsensus(path string, started time.Time, log zerolog.Logger) peers.Consensus {
	cons := peers.Consensus{Key: peers.NewKey(), Start: started}
	saved, err := peers.LoadConsensus(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ignoring unreadable consensus file")
	} else if saved.IsSet() {
		cons.Key = saved.Key
	}
	if err := peers.SaveConsensus(path, cons); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("persist consensus key failed")
	}
	return cons
}

func serveMetrics(addr string, h http.Handler, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}
