package profiling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by one millisecond on every read.
func fakeClock() func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestProfiler_RecordsOnlyWhenEnabled(t *testing.T) {
	p := NewProfiler()
	p.now = fakeClock()

	Scoped(p, "conv1", "Conv2D")()
	assert.Empty(t, p.Events())

	p.Start()
	assert.True(t, p.Enabled())
	Scoped(p, "conv1", "Conv2D")()
	p.Stop()
	Scoped(p, "conv1", "Conv2D")()

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "conv1", events[0].Name)
	assert.Equal(t, "Conv2D", events[0].Kind)
	assert.Equal(t, time.Millisecond, events[0].Duration())
}

func TestProfiler_Summary(t *testing.T) {
	p := NewProfiler()
	p.now = fakeClock()
	p.Start()

	for i := 0; i < 3; i++ {
		Scoped(p, "relu", "Relu")()
	}
	id := p.BeginEvent("conv", "Conv2D")
	for i := 0; i < 3; i++ {
		p.now()
	}
	p.EndEvent(id)
	p.BeginEvent("open", "Softmax") // never ended

	stats := p.Summary()
	require.Len(t, stats, 2)
	assert.Equal(t, OpStat{Name: "conv", Kind: "Conv2D", Count: 1, Total: 4 * time.Millisecond}, stats[0])
	assert.Equal(t, OpStat{Name: "relu", Kind: "Relu", Count: 3, Total: 3 * time.Millisecond}, stats[1])
	assert.Equal(t, time.Millisecond, stats[1].Average())

	p.Reset()
	assert.Empty(t, p.Events())
}

func TestScoped_NilAndDisabled(t *testing.T) {
	assert.NotPanics(t, func() {
		Scoped(nil, "x", "Relu")()
		Scoped(Disabled, "x", "Relu")()
	})
	p := NewProfiler()
	p.EndEvent(42)
	assert.Empty(t, p.Events())
}
