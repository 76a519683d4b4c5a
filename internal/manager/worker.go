package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"waveguide/internal/autochan"
	"waveguide/internal/model"
)

// Radio runs the external tools for one interface. *iw.Tool implements it.
type Radio interface {
	Scan(ctx context.Context, ifname string, freqs []int, apForce bool) ([]model.BSS, error)
	Survey(ctx context.Context, ifname string) ([]autochan.Reading, error)
	Stations(ctx context.Context, ifname string) ([]model.Assoc, error)
	ARP() ([]model.ARP, error)
}

// JobKind names one external command.
type JobKind int

const (
	JobScan JobKind = iota
	JobSurvey
	JobStations
	JobARP
)

func (k JobKind) String() string {
	switch k {
	case JobScan:
		return "scan"
	case JobSurvey:
		return "survey"
	case JobStations:
		return "stations"
	case JobARP:
		return "arp"
	}
	return "unknown"
}

// Job asks the worker to run one command. Freqs applies to scans; nil
// means every allowed frequency.
type Job struct {
	Kind  JobKind
	Freqs []int
}

// Result is what a worker sends back to the scheduler goroutine.
type Result struct {
	Ifname string
	Job    Job
	At     time.Time
	Err    error

	BSS    []model.BSS
	Survey []autochan.Reading
	Assoc  []model.Assoc
	ARP    []model.ARP
}

// Dispatcher accepts jobs without blocking. Submit reports false when the
// job could not be queued.
type Dispatcher interface {
	Submit(job Job) bool
}

// Worker runs jobs for one interface on its own goroutine so slow scans
// never hold up packet handling.
type Worker struct {
	ifname  string
	radio   Radio
	apForce bool
	jobs    chan Job
	results chan<- Result
	log     zerolog.Logger
	now     func() time.Time
}

func NewWorker(ifname string, radio Radio, apForce bool, results chan<- Result, log zerolog.Logger) *Worker {
	return &Worker{
		ifname:  ifname,
		radio:   radio,
		apForce: apForce,
		jobs:    make(chan Job, 8),
		results: results,
		log:     log,
		now:     time.Now,
	}
}

func (w *Worker) Submit(job Job) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Run executes queued jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			r := w.do(ctx, job)
			select {
			case w.results <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) do(ctx context.Context, job Job) Result {
	start := w.now()
	r := Result{Ifname: w.ifname, Job: job}
	switch job.Kind {
	case JobScan:
		r.BSS, r.Err = w.radio.Scan(ctx, w.ifname, job.Freqs, w.apForce)
	case JobSurvey:
		r.Survey, r.Err = w.radio.Survey(ctx, w.ifname)
	case JobStations:
		r.Assoc, r.Err = w.radio.Stations(ctx, w.ifname)
	case JobARP:
		r.ARP, r.Err = w.radio.ARP()
	}
	r.At = w.now()
	w.log.Debug().
		Stringer("job", job.Kind).
		Dur("took", r.At.Sub(start)).
		AnErr("error", r.Err).
		Msg("job finished")
	return r
}
