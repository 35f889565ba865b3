package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"tiershift/internal/ledger"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_TaskCounters(t *testing.T) {
	c := New()
	c.StartPhase(ledger.PhaseOut, 2, 300)

	c.TaskStarted()
	c.TaskSucceeded(ledger.PhaseOut, 100, time.Second)
	c.TaskStarted()
	c.TaskFailed(ledger.PhaseOut, 200, time.Second)
	c.TaskStarted()
	c.TaskInterrupted(ledger.PhaseOut, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksTotal.WithLabelValues("out", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksTotal.WithLabelValues("out", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksTotal.WithLabelValues("out", "interrupted")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.bytesTotal.WithLabelValues("out")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inflight))

	status := c.GetProgressTracker().GetStatus()
	assert.EqualValues(t, 2, status.ProcessedObjects)
	assert.EqualValues(t, 1, status.FailedObjects)
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.AddMismatches(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.mismatches))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.mismatches))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.AddMismatches(1)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tiershift_mismatches_total 1")
}
