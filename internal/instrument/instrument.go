// Package instrument provides an explicit per-build measurement registry.
// Every pipeline stage receives the registry as an argument and brackets its
// work with Start/stop pairs; there is no process-wide state.
package instrument

import (
	"slices"
	"time"
)

type Measurement struct {
	Name     string
	Start    time.Time
	Duration time.Duration
}

// Measurements collects named timings for one build invocation. It is not
// safe for concurrent use; the pipeline is strictly sequential.
type Measurements struct {
	records []Measurement
}

func New() *Measurements {
	return &Measurements{}
}

// Start records the beginning of a named stage and returns the function that
// ends it. Callers are expected to `defer end()` so the measurement closes on
// every exit path.
func (m *Measurements) Start(name string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.records = append(m.records, Measurement{
			Name:     name,
			Start:    start,
			Duration: time.Since(start),
		})
	}
}

// Snapshot returns the measurements recorded so far, in completion order.
func (m *Measurements) Snapshot() []Measurement {
	if m == nil {
		return nil
	}
	return slices.Clone(m.records)
}
