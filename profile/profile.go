// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package profile collects wall-clock timings for the stages of a proving
// run (splitting, segment proofs, aggregation layers, wrapping) and can
// serialize them as a pprof compatible profile.
package profile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/pprof/profile"

	"github.com/zkmips/zkm-prover/logger"
)

// Profile is an active timing session. It is safe for concurrent use, the
// scheduler closes scopes from its worker goroutines.
type Profile struct {
	// defaults to ./zkm.pprof; if blank, the profile is not written to disk
	filePath string

	mu        sync.Mutex
	start     time.Time
	pprof     profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
	totals    map[string]time.Duration
	counts    map[string]int64
	stopped   bool
}

// Option configures a Profile.
type Option func(*Profile)

// WithPath controls the profile destination file. If blank, the profile is
// not written.
func WithPath(path string) Option {
	return func(p *Profile) {
		p.filePath = path
	}
}

// WithNoOutput indicates that the profile is not going to be written to
// disk. This is equivalent to WithPath("").
func WithNoOutput() Option {
	return func(p *Profile) {
		p.filePath = ""
	}
}

// Start creates a new timing session. When Stop is called the session may be
// serialized to disk as a pprof compatible file (see WithPath).
func Start(options ...Option) *Profile {
	p := &Profile{
		filePath:  filepath.Join(".", "zkm.pprof"),
		start:     time.Now(),
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
		totals:    make(map[string]time.Duration),
		counts:    make(map[string]int64),
	}
	p.pprof.SampleType = []*profile.ValueType{{
		Type: "wallclock",
		Unit: "nanoseconds",
	}}
	p.pprof.Mapping = []*profile.Mapping{{ID: 1, File: "zkm-prover"}}
	p.pprof.TimeNanos = p.start.UnixNano()

	for _, option := range options {
		option(p)
	}

	log := logger.Logger()
	if p.filePath == "" {
		log.Warn().Msg("timing profile enabled [not writing to disk]")
	} else {
		log.Info().Str("path", p.filePath).Msg("timing profile enabled")
	}
	return p
}

// Scope starts timing a named stage; the returned function closes the scope
// and records the sample.
func (p *Profile) Scope(name string) func() {
	t0 := time.Now()
	return func() {
		p.record(name, time.Since(t0))
	}
}

func (p *Profile) record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	loc := p.location(name)
	p.pprof.Sample = append(p.pprof.Sample, &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{int64(d)},
	})
	p.totals[name] += d
	p.counts[name]++
}

func (p *Profile) location(name string) *profile.Location {
	l, ok := p.locations[name]
	if !ok {
		f, ok := p.functions[name]
		if !ok {
			f = &profile.Function{
				ID:         uint64(len(p.functions) + 1),
				Name:       name,
				SystemName: name,
			}
			p.functions[name] = f
			p.pprof.Function = append(p.pprof.Function, f)
		}
		l = &profile.Location{
			ID:   uint64(len(p.locations) + 1),
			Line: []profile.Line{{Function: f}},
		}
		p.locations[name] = l
		p.pprof.Location = append(p.pprof.Location, l)
	}
	return l
}

// Stop freezes the session and may write the pprof file to disk. See
// WithPath.
func (p *Profile) Stop() {
	log := logger.Logger()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		log.Fatal().Msg("timing profile stopped multiple times")
	}
	p.stopped = true
	p.pprof.DurationNanos = int64(time.Since(p.start))
	p.mu.Unlock()

	if p.filePath == "" {
		log.Warn().Msg("timing profile disabled [not writing to disk]")
		return
	}
	f, err := os.Create(p.filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create timing profile")
	}
	if err := p.pprof.Write(f); err != nil {
		log.Error().Err(err).Msg("writing timing profile")
	}
	f.Close()
	log.Info().Str("path", p.filePath).Msg("timing profile written")
}

// NbSamples returns the number of closed scopes.
func (p *Profile) NbSamples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pprof.Sample)
}

// Top renders the stages sorted by cumulative wall time.
func (p *Profile) Top() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.start)
	if p.stopped {
		elapsed = time.Duration(p.pprof.DurationNanos)
	}

	names := make([]string, 0, len(p.totals))
	for name := range p.totals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return p.totals[names[i]] > p.totals[names[j]] })

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "stage\tcalls\ttotal\tavg\twall%")
	for _, name := range names {
		total := p.totals[name]
		count := p.counts[name]
		share := 0.0
		if elapsed > 0 {
			share = 100 * float64(total) / float64(elapsed)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.1f%%\n",
			name, count, total.Round(time.Microsecond),
			(total / time.Duration(count)).Round(time.Microsecond), share)
	}
	w.Flush()
	return buf.String()
}
