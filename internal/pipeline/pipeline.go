// Package pipeline runs data through an ordered chain of named stages and
// keeps per-stage timing statistics.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Processor transforms one stage's input into its output.
type Processor func(ctx context.Context, input interface{}) (interface{}, error)

// StageStats is a snapshot of one stage's accumulated timing.
type StageStats struct {
	Count     int64   `json:"count"`
	TotalSecs float64 `json:"total_time"`
	AvgSecs   float64 `json:"avg_time"`
}

type stage struct {
	name      string
	processor Processor

	count     int64
	totalSecs float64
}

// Pipeline is an ordered chain of stages. Stage order is fixed at the order
// of AddStage calls. Thread-safe.
type Pipeline struct {
	mu       sync.Mutex
	stages   []*stage
	observer prometheus.ObserverVec
}

// New creates an empty pipeline. observer may be nil; when set, every stage
// run is observed with the stage name as label.
func New(observer prometheus.ObserverVec) *Pipeline {
	return &Pipeline{observer: observer}
}

// AddStage appends a named stage. Returns the pipeline for chaining.
func (p *Pipeline) AddStage(name string, proc Processor) *Pipeline {
	p.mu.Lock()
	p.stages = append(p.stages, &stage{name: name, processor: proc})
	p.mu.Unlock()
	return p
}

// Process runs input through every stage in order. A stage error aborts the
// remaining stages and is returned wrapped with the failing stage's name.
// Timing recorded before the failure is kept.
func (p *Pipeline) Process(ctx context.Context, input interface{}) (interface{}, error) {
	p.mu.Lock()
	stages := make([]*stage, len(p.stages))
	copy(stages, p.stages)
	p.mu.Unlock()

	data := input
	for _, st := range stages {
		start := time.Now()
		out, err := st.processor(ctx, data)
		elapsed := time.Since(start)

		p.record(st, elapsed)

		if err != nil {
			log.Error().Str("stage", st.name).Err(err).Dur("duration", elapsed).Msg("🔥 Pipeline stage failed")
			return nil, fmt.Errorf("stage %s: %w", st.name, err)
		}

		log.Debug().Str("stage", st.name).Dur("duration", elapsed).Msg("Pipeline stage done")
		data = out
	}
	return data, nil
}

// Result is one item produced by ProcessStream.
type Result struct {
	Output interface{}
	Err    error
}

// ProcessStream runs the pipeline asynchronously and delivers the outcome on
// the returned channel. Today a run yields exactly one Result before the
// channel closes; chunked stage output will widen this to many.
func (p *Pipeline) ProcessStream(ctx context.Context, input interface{}) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		data, err := p.Process(ctx, input)
		select {
		case out <- Result{Output: data, Err: err}:
		case <-ctx.Done():
		}
	}()
	return out
}

// RunStage executes one named stage outside the registered chain, recording
// its timing under that name. The stage is created on first use so ad-hoc
// stages show up in Stats alongside registered ones.
func (p *Pipeline) RunStage(ctx context.Context, name string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	st := p.findOrCreate(name)

	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)

	p.record(st, elapsed)

	if err != nil {
		log.Error().Str("stage", name).Err(err).Dur("duration", elapsed).Msg("🔥 Pipeline stage failed")
		return nil, err
	}
	log.Debug().Str("stage", name).Dur("duration", elapsed).Msg("Pipeline stage done")
	return out, nil
}

func (p *Pipeline) findOrCreate(name string) *stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.stages {
		if st.name == name {
			return st
		}
	}
	st := &stage{name: name}
	p.stages = append(p.stages, st)
	return st
}

func (p *Pipeline) record(st *stage, elapsed time.Duration) {
	p.mu.Lock()
	st.count++
	st.totalSecs += elapsed.Seconds()
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.WithLabelValues(st.name).Observe(elapsed.Seconds())
	}
}

// Stats returns a snapshot of per-stage timing keyed by stage name. A stage
// that never ran reports a zero average.
func (p *Pipeline) Stats() map[string]StageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]StageStats, len(p.stages))
	for _, st := range p.stages {
		s := StageStats{Count: st.count, TotalSecs: st.totalSecs}
		if st.count > 0 {
			s.AvgSecs = st.totalSecs / float64(st.count)
		}
		out[st.name] = s
	}
	return out
}

// ResetStats zeroes every stage's counters. Registered stages stay.
func (p *Pipeline) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.stages {
		st.count = 0
		st.totalSecs = 0
	}
}

// StageNames returns the stage names in execution order.
func (p *Pipeline) StageNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.name
	}
	return names
}
