package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordDuration(t *testing.T) {
	p := New(Options{})
	p.RecordDuration(OpDecode, 2*time.Millisecond)
	p.RecordDuration(OpDecode, 4*time.Millisecond)
	p.RecordDuration(OpReduce, time.Millisecond)

	snap := p.Snapshot()
	require.Len(t, snap.Operations, 2)
	assert.Equal(t, OpDecode, snap.Operations[0].Name, "sorted by name")

	dec, ok := snap.Operation(OpDecode)
	require.True(t, ok)
	assert.Equal(t, int64(2), dec.Count)
	assert.Equal(t, 3*time.Millisecond, dec.Avg)
	assert.Equal(t, 2*time.Millisecond, dec.Min)
	assert.Equal(t, 4*time.Millisecond, dec.Max)

	_, ok = snap.Operation("missing")
	assert.False(t, ok)
}

func TestSlidingWindow(t *testing.T) {
	p := New(Options{MaxSamples: 2})
	for _, v := range []float64{100, 1, 3} {
		p.RecordMetric("intensity", v)
	}
	snap := p.Snapshot()
	require.Len(t, snap.Metrics, 1)
	m := snap.Metrics[0]
	assert.Equal(t, int64(3), m.Count)
	assert.Equal(t, 2.0, m.Avg, "window keeps the last two values")
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 100.0, m.Max)
}

func TestStartOperation(t *testing.T) {
	p := New(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := p.StartOperation(OpReduce)
			done()
		}()
	}
	wg.Wait()

	op, ok := p.Snapshot().Operation(OpReduce)
	require.True(t, ok)
	assert.Equal(t, int64(10), op.Count)
}

func TestNilProfiler(t *testing.T) {
	var p *Profiler
	p.StartOperation(OpDecode)()
	p.RecordMetric("x", 1)
	p.Report(zap.NewNop())
	assert.Empty(t, p.Snapshot().Operations)
}

func TestReport(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := New(Options{})
	p.RecordDuration(OpDecode, time.Millisecond)
	p.RecordMetric("intensity", 12)

	p.Report(zap.New(core))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, OpDecode, logs.All()[0].ContextMap()["operation"])
	assert.Equal(t, "intensity", logs.All()[1].ContextMap()["metric"])
}
