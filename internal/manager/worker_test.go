package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waveguide/internal/autochan"
	"waveguide/internal/model"
)

type fakeRadio struct {
	scanFreqs []int
	apForce   bool
}

func (r *fakeRadio) Scan(_ context.Context, _ string, freqs []int, apForce bool) ([]model.BSS, error) {
	r.scanFreqs, r.apForce = freqs, apForce
	return []model.BSS{{MAC: other, Freq: 2412}}, nil
}

func (r *fakeRadio) Survey(context.Context, string) ([]autochan.Reading, error) {
	return nil, errors.New("survey not supported")
}

func (r *fakeRadio) Stations(context.Context, string) ([]model.Assoc, error) {
	return []model.Assoc{{MAC: other}}, nil
}

func (r *fakeRadio) ARP() ([]model.ARP, error) {
	return nil, nil
}

func TestWorker_RunsJobsInOrder(t *testing.T) {
	t.Parallel()

	radio := &fakeRadio{}
	results := make(chan Result, 4)
	w := NewWorker("wlan0", radio, true, results, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.True(t, w.Submit(Job{Kind: JobScan, Freqs: []int{2412}}))
	require.True(t, w.Submit(Job{Kind: JobSurvey}))
	require.True(t, w.Submit(Job{Kind: JobStations}))

	var got []Result
	for len(got) < 3 {
		select {
		case r := <-results:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for worker")
		}
	}

	assert.Equal(t, "wlan0", got[0].Ifname)
	assert.Len(t, got[0].BSS, 1)
	assert.Equal(t, []int{2412}, radio.scanFreqs)
	assert.True(t, radio.apForce)
	assert.Error(t, got[1].Err)
	assert.Equal(t, JobSurvey, got[1].Job.Kind)
	assert.Len(t, got[2].Assoc, 1)
}

func TestWorker_SubmitDoesNotBlock(t *testing.T) {
	t.Parallel()

	w := NewWorker("wlan0", &fakeRadio{}, false, make(chan Result), zerolog.Nop())
	accepted := 0
	for i := 0; i < 20; i++ {
		if w.Submit(Job{Kind: JobARP}) {
			accepted++
		}
	}
	assert.Equal(t, cap(w.jobs), accepted)
}

func TestJobKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "scan", JobScan.String())
	assert.Equal(t, "arp", JobARP.String())
	assert.Equal(t, "unknown", JobKind(42).String())
}
