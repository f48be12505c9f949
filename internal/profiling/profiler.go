// Package profiling records begin/end timing events around operator runs.
package profiling

import (
	"sort"
	"sync"
	"time"
)

// Hook observes operator execution. BeginEvent returns a handle that is
// passed back to EndEvent.
type Hook interface {
	BeginEvent(name, kind string) int
	EndEvent(handle int)
}

// Disabled is a Hook that records nothing.
var Disabled Hook = disabled{}

type disabled struct{}

func (disabled) BeginEvent(string, string) int { return -1 }
func (disabled) EndEvent(int)                  {}

// Scoped begins an event and returns the function that ends it:
//
//	defer profiling.Scoped(h, op.Name(), op.Kind().String())()
//
// A nil hook is treated as Disabled.
func Scoped(h Hook, name, kind string) func() {
	if h == nil {
		return func() {}
	}
	id := h.BeginEvent(name, kind)
	return func() { h.EndEvent(id) }
}

// Event is one timed operator run.
type Event struct {
	Name  string
	Kind  string
	Begin time.Time
	End   time.Time
}

// Duration returns End - Begin, or 0 for an unfinished event.
func (e Event) Duration() time.Duration {
	if e.End.IsZero() {
		return 0
	}
	return e.End.Sub(e.Begin)
}

// Profiler is a Hook that stores events while enabled. It is safe for
// concurrent use.
type Profiler struct {
	mu      sync.Mutex
	enabled bool
	events  []Event
	now     func() time.Time
}

// NewProfiler returns a stopped profiler.
func NewProfiler() *Profiler {
	return &Profiler{now: time.Now}
}

// Start enables recording.
func (p *Profiler) Start() {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
}

// Stop disables recording. Recorded events are kept.
func (p *Profiler) Stop() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}

// Enabled reports whether events are being recorded.
func (p *Profiler) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Reset drops every recorded event.
func (p *Profiler) Reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// BeginEvent implements Hook.
func (p *Profiler) BeginEvent(name, kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return -1
	}
	p.events = append(p.events, Event{Name: name, Kind: kind, Begin: p.now()})
	return len(p.events) - 1
}

// EndEvent implements Hook. Unknown handles are ignored.
func (p *Profiler) EndEvent(handle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if handle < 0 || handle >= len(p.events) {
		return
	}
	p.events[handle].End = p.now()
}

// Events returns a copy of the recorded events in begin order.
func (p *Profiler) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OpStat aggregates the events of one operator.
type OpStat struct {
	Name  string
	Kind  string
	Count int
	Total time.Duration
}

// Average returns Total / Count.
func (s OpStat) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Summary aggregates finished events per operator, slowest first.
func (p *Profiler) Summary() []OpStat {
	events := p.Events()
	index := make(map[string]int)
	var stats []OpStat
	for _, e := range events {
		if e.End.IsZero() {
			continue
		}
		i, ok := index[e.Name]
		if !ok {
			i = len(stats)
			index[e.Name] = i
			stats = append(stats, OpStat{Name: e.Name, Kind: e.Kind})
		}
		stats[i].Count++
		stats[i].Total += e.Duration()
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Total > stats[j].Total
	})
	return stats
}
