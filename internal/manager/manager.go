// Package manager drives one local radio: scanning, survey refresh,
// transmitting snapshots, the channel recommendation and auto-disable.
//
// A Manager is owned by the scheduler goroutine. External commands run on
// a Worker and come back through Apply.
package manager

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"waveguide/internal/autochan"
	"waveguide/internal/channels"
	"waveguide/internal/model"
	"waveguide/internal/peers"
	"waveguide/internal/status"
	"waveguide/internal/wire"
)

// Config holds per-radio settings.
type Config struct {
	Ifname    string
	Phy       string
	MAC       model.MAC
	HighPower bool
	Allowed   []int
	// Wide40 allows 40 MHz groupings on 2.4 GHz.
	Wide40 bool
	// Radar allows DFS channels to be recommended.
	Radar bool
	// Started is when the process started. Zero means the first Tick.
	Started time.Time

	ScanInterval     time.Duration
	TxInterval       time.Duration
	AutochanInterval time.Duration
	SurveyInterval   time.Duration
	PrintInterval    time.Duration
	InitialScans     int

	AutoDisable          bool
	AutoDisableThreshold int8
	PrimarySpreading     bool
}

// Sender transmits an encoded snapshot. *mcast.Conn implements it.
type Sender interface {
	Send(data []byte) error
}

// Deps are the collaborators a Manager talks to.
type Deps struct {
	Store  *peers.Store
	Sink   status.Sink
	Sender Sender
	Worker Dispatcher
	Log    zerolog.Logger
	Rand   *rand.Rand
}

type Manager struct {
	cfg    Config
	deps   Deps
	log    zerolog.Logger
	rnd    *rand.Rand
	flags  model.Flags
	allow  []int
	groups []channels.Group

	// mirror is set for fake identities, which report the radio data of
	// another manager under their own MAC.
	mirror *Manager

	bss    map[model.MAC]model.BSS
	survey *autochan.SurveyTable
	assoc  []model.Assoc
	arp    []model.ARP

	inFlight    map[JobKind]bool
	initialLeft int
	scanIdx     int
	started     bool

	nextScan     time.Time
	nextSurvey   time.Time
	nextTx       time.Time
	nextAutochan time.Time
	nextPrint    time.Time

	recommended int
	recInitial  bool
	disabledBy  *model.MAC
	disableSet  bool
}

// New builds a manager for a real radio.
func New(cfg Config, deps Deps) *Manager {
	if deps.Sink == nil {
		deps.Sink = status.Nop{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	allowed := channels.Sorted(cfg.Allowed)
	m := &Manager{
		cfg:         cfg,
		deps:        deps,
		log:         deps.Log.With().Str("iface", cfg.Ifname).Logger(),
		rnd:         deps.Rand,
		flags:       flagsFor(allowed, cfg.HighPower),
		allow:       allowed,
		groups:      channels.CandidatesFor(allowed, cfg.Wide40, cfg.Radar),
		bss:         map[model.MAC]model.BSS{},
		survey:      autochan.NewSurveyTable(),
		inFlight:    map[JobKind]bool{},
		initialLeft: cfg.InitialScans,
		scanIdx:     -1,
	}
	if m.initialLeft < 1 {
		m.initialLeft = 1
	}
	if deps.Store != nil {
		deps.Store.AddLocal(cfg.MAC)
	}
	return m
}

// NewFake builds an extra identity that mirrors src's radio data under mac.
// It only transmits and prints.
func NewFake(mac model.MAC, src *Manager, sender Sender) *Manager {
	cfg := src.cfg
	cfg.MAC = mac
	cfg.Ifname = src.cfg.Ifname + "-fake-" + mac.String()
	deps := src.deps
	deps.Sender = sender
	deps.Worker = nil
	m := New(cfg, deps)
	m.mirror = src
	m.flags = src.flags
	return m
}

func flagsFor(allowed []int, highPower bool) model.Flags {
	var f model.Flags
	for _, freq := range allowed {
		switch {
		case channels.Is2GHz(freq):
			f |= model.FlagCan2G
		case channels.Is5GHz(freq):
			f |= model.FlagCan5G
		}
	}
	if highPower {
		f |= model.FlagHighPower
	}
	return f
}

func (m *Manager) Ifname() string {
	return m.cfg.Ifname
}

func (m *Manager) MAC() model.MAC {
	return m.cfg.MAC
}

func (m *Manager) Flags() model.Flags {
	return m.flags
}

// IsFake reports whether m mirrors another manager.
func (m *Manager) IsFake() bool {
	return m.mirror != nil
}

// Recommendation returns the current recommended primary frequency and
// whether it is still the startup default.
func (m *Manager) Recommendation() (int, bool) {
	return m.recommended, m.recInitial
}

// source is the manager whose radio tables m reports.
func (m *Manager) source() *Manager {
	if m.mirror != nil {
		return m.mirror
	}
	return m
}

// State builds the snapshot m transmits at now.
func (m *Manager) State(now time.Time) model.State {
	src := m.source()
	var cons peers.Consensus
	if m.deps.Store != nil {
		cons = m.deps.Store.Consensus()
	}
	uptime := time.Duration(0)
	if !m.cfg.Started.IsZero() && now.After(m.cfg.Started) {
		uptime = now.Sub(m.cfg.Started)
	}

	seen := make([]model.BSS, 0, len(src.bss))
	for _, b := range src.bss {
		b.IsOurs = m.isOurs(b.MAC)
		seen = append(seen, b)
	}
	sort.Slice(seen, func(i, j int) bool {
		return bytes.Compare(seen[i].MAC[:], seen[j].MAC[:]) < 0
	})

	return model.State{
		Me: model.Me{
			Now:          now,
			Uptime:       uptime,
			ConsensusKey: cons.Key,
			MAC:          m.cfg.MAC,
			Flags:        m.flags,
		},
		SeenBSS:  seen,
		Channels: src.survey.Channels(),
		Assoc:    append([]model.Assoc(nil), src.assoc...),
		ARP:      append([]model.ARP(nil), src.arp...),
	}
}

func (m *Manager) isOurs(mac model.MAC) bool {
	if m.deps.Store == nil {
		return false
	}
	if m.deps.Store.IsLocal(mac) {
		return true
	}
	_, ok := m.deps.Store.Get(mac)
	return ok
}

// NextDeadline is the earliest time Tick has work to do.
func (m *Manager) NextDeadline() time.Time {
	if !m.started {
		return time.Time{}
	}
	next := m.nextTx
	consider := func(t time.Time) {
		if t.Before(next) {
			next = t
		}
	}
	consider(m.nextPrint)
	if m.mirror != nil {
		return next
	}
	if len(m.allow) > 0 && !m.inFlight[JobScan] {
		consider(m.nextScan)
	}
	if !m.inFlight[JobSurvey] {
		consider(m.nextSurvey)
	}
	consider(m.nextAutochan)
	return next
}

// Tick runs every cycle whose deadline has passed. The only error is a
// failed channel selection, which the caller should report.
func (m *Manager) Tick(now time.Time) error {
	if !m.started {
		m.start(now)
	}

	var err error
	if m.mirror == nil {
		m.scanCycle(now)
		m.refreshCycle(now)
		m.updateAutoDisable(now)
		if !now.Before(m.nextAutochan) {
			m.nextAutochan = now.Add(m.cfg.AutochanInterval)
			err = m.runAutochan(now)
		}
	}
	if !now.Before(m.nextTx) {
		m.nextTx = now.Add(m.cfg.TxInterval)
		m.transmit(now)
	}
	if !now.Before(m.nextPrint) {
		m.nextPrint = now.Add(m.cfg.PrintInterval)
		m.print(now)
	}
	return err
}

func (m *Manager) start(now time.Time) {
	m.started = true
	if m.cfg.Started.IsZero() {
		m.cfg.Started = now
	}
	m.nextScan, m.nextSurvey, m.nextTx, m.nextAutochan = now, now, now, now
	m.nextPrint = now.Add(m.cfg.PrintInterval)
	if m.mirror != nil {
		m.log.Info().Stringer("mac", m.cfg.MAC).Msg("fake identity started")
		return
	}
	m.log.Info().
		Str("phy", m.cfg.Phy).
		Int("initial_scans", m.initialLeft).
		Ints("allowed", m.allow).
		Bool("high_power", m.cfg.HighPower).
		Msg("manager started")
	if len(m.allow) == 0 {
		m.log.Warn().Msg("no allowed frequencies")
	}
	m.submit(Job{Kind: JobARP})
}

func (m *Manager) submit(job Job) {
	if m.deps.Worker == nil || m.inFlight[job.Kind] {
		return
	}
	if !m.deps.Worker.Submit(job) {
		m.log.Debug().Stringer("job", job.Kind).Msg("worker queue full")
		return
	}
	m.inFlight[job.Kind] = true
}

func (m *Manager) scanCycle(now time.Time) {
	if len(m.allow) == 0 || m.inFlight[JobScan] || now.Before(m.nextScan) {
		return
	}
	if m.initialLeft > 0 {
		m.submit(Job{Kind: JobScan})
		return
	}
	m.scanIdx = (m.scanIdx + 1) % len(m.allow)
	freq := m.allow[m.scanIdx]
	m.log.Debug().Int("freq", freq).Int("idx", m.scanIdx).Int("of", len(m.allow)).Msg("scanning")
	m.submit(Job{Kind: JobScan, Freqs: []int{freq}})

	// Jitter keeps two instances from staying aligned and never hearing
	// each other's beacons.
	per := m.cfg.ScanInterval / time.Duration(len(m.allow))
	jittered := time.Duration(float64(per) * (0.5 + m.rnd.Float64()))
	m.nextScan = m.nextScan.Add(jittered)
	if m.nextScan.Before(now) {
		m.nextScan = now.Add(jittered)
	}
}

func (m *Manager) refreshCycle(now time.Time) {
	if now.Before(m.nextSurvey) {
		return
	}
	m.nextSurvey = now.Add(m.cfg.SurveyInterval)
	m.submit(Job{Kind: JobSurvey})
	m.submit(Job{Kind: JobStations})
}

// Apply folds a worker result into the manager's tables. Failed commands
// leave the previous data in place.
func (m *Manager) Apply(r Result) {
	m.inFlight[r.Job.Kind] = false
	if r.Err != nil {
		m.log.Warn().Err(r.Err).Stringer("job", r.Job.Kind).Msg("external command failed")
		if r.Job.Kind == JobScan && r.Job.Freqs == nil && m.initialLeft > 0 {
			m.initialLeft--
			m.finishInitial(r.At)
		}
		return
	}
	switch r.Job.Kind {
	case JobScan:
		for _, b := range r.BSS {
			m.bss[b.MAC] = b
		}
		m.deps.Sink.Scanned(m.cfg.Ifname)
		m.log.Debug().Int("bss", len(r.BSS)).Ints("freqs", r.Job.Freqs).Msg("scan results")
		if r.Job.Freqs == nil && m.initialLeft > 0 {
			m.initialLeft--
			m.finishInitial(r.At)
		}
	case JobSurvey:
		changed := 0
		for _, reading := range r.Survey {
			if m.survey.Update(reading) {
				changed++
			}
		}
		m.log.Debug().Int("readings", len(r.Survey)).Int("changed", changed).Msg("survey results")
	case JobStations:
		m.assoc = r.Assoc
		// A station associated to a 5 GHz capable radio is assumed to be
		// 5 GHz capable itself.
		for i := range m.assoc {
			m.assoc[i].Can5G = m.flags.Has(model.FlagCan5G)
		}
	case JobARP:
		m.arp = r.ARP
	}
}

func (m *Manager) finishInitial(at time.Time) {
	if m.initialLeft > 0 {
		return
	}
	m.log.Info().Int("bss", len(m.bss)).Msg("initial scans complete")
	m.nextScan = at
	// Replace the startup default as soon as real data exists.
	m.nextAutochan = at
}

func (m *Manager) runAutochan(now time.Time) error {
	if len(m.allow) == 0 {
		return nil
	}
	if m.initialLeft > 0 {
		if m.recommended != 0 {
			return nil
		}
		combos := channels.LegalCombos(channels.AllowedSet(m.allow), m.groups)
		if len(combos) == 0 {
			return fmt.Errorf("%s: %w", m.cfg.Ifname, autochan.ErrNoCandidates)
		}
		m.publish(combos[0][0], true)
		return nil
	}

	hysteresis := m.recommended
	if m.recInitial {
		hysteresis = 0
	}
	in := autochan.Input{State: m.State(now), Allowed: m.allow}
	freq, err := autochan.ChooseChannel(in, m.groups, hysteresis, m.cfg.PrimarySpreading, m.rnd)
	if err != nil {
		if errors.Is(err, autochan.ErrNoCandidates) {
			return fmt.Errorf("%s: %w", m.cfg.Ifname, err)
		}
		return err
	}
	m.publish(freq, false)
	return nil
}

func (m *Manager) publish(freq int, initial bool) {
	if freq != m.recommended || initial != m.recInitial {
		m.log.Info().
			Int("freq", freq).
			Int("previous", m.recommended).
			Bool("initial", initial).
			Msg("channel recommendation")
	}
	m.recommended, m.recInitial = freq, initial
	m.deps.Sink.AutoChannel(m.cfg.Ifname, freq, initial)
}

func (m *Manager) transmit(now time.Time) {
	if m.deps.Sender == nil {
		return
	}
	data, err := wire.Encode(m.State(now))
	if err != nil {
		m.log.Error().Err(err).Msg("encode snapshot failed")
		return
	}
	if err := m.deps.Sender.Send(data); err != nil {
		m.log.Warn().Err(err).Msg("send snapshot failed")
		return
	}
	m.deps.Sink.Sent(m.cfg.Ifname)
	m.log.Debug().Int("bytes", len(data)).Msg("sent snapshot")
}
