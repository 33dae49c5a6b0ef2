package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordMutation("move_task", "ok")
	m.RecordMutation("move_task", "ok")
	m.RecordConflict("move_task")
	m.RecordSync("updated")
	m.RecordMirrorCall("telegram", "edit", "ok")
	m.RecordError("mirror", "target_gone")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("move_task", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsTotal.WithLabelValues("move_task")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsTotal.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorCallsTotal.WithLabelValues("telegram", "edit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("mirror", "target_gone")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMutation("x", "ok")
		m.ObserveMutation("x", 0.1)
		m.RecordConflict("x")
		m.RecordSync("skipped")
		m.ObserveSync(0.1)
		m.RecordMirrorCall("slack", "send", "ok")
		m.RecordError("x", "y")
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordSync("created")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `roadmap_mirror_syncs_total{outcome="created"} 1`)
}
