// Package metric tracks per-stage counters: wall-clock time spent inside
// a stage's Advance, and the number of Advance calls and samples it has
// processed. It is the direct analogue of the teacher's metric package,
// narrowed from per-message audio latency counters to the per-advance
// counters the pipeline object lifecycle cares about (spec.md §4.2's
// time_spent_in_transform).
package metric

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const stagesLabel = "rfpipe.stages"

const (
	// AdvanceCounter counts calls to Advance.
	AdvanceCounter = "Advances"
	// SampleCounter counts samples passed through ProcessChunk/AdvanceInner.
	SampleCounter = "Samples"
	// CPUTimeCounter accumulates wall-clock time spent in a stage's Advance.
	CPUTimeCounter = "CPUTime"
)

var registry = stages{m: make(map[string]*Meter)}

// Meter captures counters for a single stage.
type Meter struct {
	name     string
	advances *expvar.Int
	samples  *expvar.Int
	cpuTime  *duration
}

type stages struct {
	sync.Mutex
	m map[string]*Meter
}

// For returns the Meter for the named stage, creating it on first use.
// Stage names are caller-assigned and unique within a registry process,
// mirroring the teacher's getType-keyed metric map.
func For(name string) *Meter {
	registry.Lock()
	defer registry.Unlock()
	if m, ok := registry.m[name]; ok {
		return m
	}
	m := newMeter(name)
	registry.m[name] = m
	return m
}

// All returns a snapshot of counters for every stage that has a Meter.
func All() map[string]map[string]string {
	registry.Lock()
	defer registry.Unlock()
	out := make(map[string]map[string]string, len(registry.m))
	for name, m := range registry.m {
		out[name] = map[string]string{
			AdvanceCounter: m.advances.String(),
			SampleCounter:  m.samples.String(),
			CPUTimeCounter: m.cpuTime.String(),
		}
	}
	return out
}

func newMeter(name string) *Meter {
	m := &Meter{
		name:     name,
		advances: expvar.NewInt(key(name, AdvanceCounter)),
		samples:  expvar.NewInt(key(name, SampleCounter)),
		cpuTime:  &duration{},
	}
	expvar.Publish(key(name, CPUTimeCounter), m.cpuTime)
	return m
}

// Advance records one completed Advance call of the given duration over
// the given number of samples.
func (m *Meter) Advance(d time.Duration, samples int64) {
	if m == nil {
		return
	}
	m.advances.Add(1)
	m.samples.Add(samples)
	m.cpuTime.add(d)
}

// CPUTime returns the accumulated time spent in Advance, matching
// pipeline_object::time_spent_in_transform.
func (m *Meter) CPUTime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&m.cpuTime.d))
}

func key(name, counter string) string {
	return fmt.Sprintf("%s.%s.%s", stagesLabel, name, counter)
}

// duration allows time.Duration metric values to satisfy expvar.Var.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%v", time.Duration(atomic.LoadInt64(&v.d)))
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}
