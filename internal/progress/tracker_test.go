package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTracker_PhaseCounters(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := newTrackerAt(clock.now)

	tr.StartPhase("out", 4, 4000)
	clock.t = clock.t.Add(2 * time.Second)
	tr.AddSuccess(1000)
	tr.AddFailed(1000)

	s := tr.GetStatus()
	assert.Equal(t, "out", s.Phase)
	assert.EqualValues(t, 2, s.ProcessedObjects)
	assert.EqualValues(t, 1, s.SuccessObjects)
	assert.EqualValues(t, 1, s.FailedObjects)
	assert.EqualValues(t, 2000, s.ProcessedBytes)
	assert.InDelta(t, 1000.0, s.AverageSpeed, 0.001)
	assert.Equal(t, 2*time.Second, s.ETA)
	assert.InDelta(t, 50.0, tr.GetProgressPercent(), 0.001)
	assert.InDelta(t, 50.0, tr.GetBytesProgressPercent(), 0.001)

	tr.StartPhase("back", 1, 0)
	s = tr.GetStatus()
	assert.Equal(t, "back", s.Phase)
	assert.Zero(t, s.ProcessedObjects)
	assert.Zero(t, tr.GetBytesProgressPercent())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(-5))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "2.0 MiB/s", FormatSpeed(2*1024*1024))
	assert.Equal(t, "calculating...", FormatDuration(0))
	assert.Equal(t, "1h2m3s", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
}

func TestProgressBar_Clamped(t *testing.T) {
	assert.Equal(t, "[████] 100.0%", progressBar(150, 4))
	assert.Equal(t, "[░░░░] 0.0%", progressBar(-1, 4))
}

func TestDisplay_FinalRenderOnStop(t *testing.T) {
	tr := NewTracker()
	tr.StartPhase("out", 1, 10)
	tr.AddSuccess(10)

	var buf bytes.Buffer
	d := NewDisplayTo(tr, time.Hour, &buf)
	d.Start()
	d.Stop()
	d.Stop()

	out := buf.String()
	require.True(t, strings.Contains(out, "Phase out finished"), out)
	assert.Contains(t, out, "Succeeded: 1")
}
