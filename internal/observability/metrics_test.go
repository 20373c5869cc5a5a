package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(particleTurns.WithLabelValues("serial"))
	var r Recorder
	r.RecordTrack("serial", 40, 2, 3*time.Millisecond)
	assert.Equal(t, before+40, testutil.ToFloat64(particleTurns.WithLabelValues("serial")))

	failures := testutil.ToFloat64(solverFailures)
	r.RecordSolve(4, true, time.Millisecond)
	r.RecordSolve(20, false, time.Millisecond)
	assert.Equal(t, failures+1, testutil.ToFloat64(solverFailures))
}
