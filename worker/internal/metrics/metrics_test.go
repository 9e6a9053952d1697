package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FrameSent("data", "ok")
	m.SetQueueDepth(3)
	m.Delivery("delivered")
	m.SetDataState(2)
	m.DataDial("ok")
	m.HookConsumed("h", "request")
	m.RouterMessage("request", "handled")
	m.Heartbeat()
	m.IntakeFile()
	m.IntakeFrame()
	assert.Empty(t, m.Snapshot())
}

func TestSnapshot_SumsFamilies(t *testing.T) {
	m := New()
	m.FrameSent("data", "ok")
	m.FrameSent("data", "ok")
	m.FrameSent("control", "error")
	m.SetQueueDepth(5)
	m.Heartbeat()

	snap := m.Snapshot()
	assert.Equal(t, 3.0, snap["relay_frames_sent_total"])
	assert.Equal(t, 5.0, snap["relay_queue_depth"])
	assert.Equal(t, 1.0, snap["relay_control_heartbeats_total"])
}

func TestHandler_ExposesTextFormat(t *testing.T) {
	m := New()
	m.Delivery("delivered")
	m.Delivery("requeued")
	m.Delivery("requeued")
	m.SetDataState(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mfs := parseMetrics(t, resp.Body)
	assert.Equal(t, 2.0, labelValue(mfs["relay_delivery_total"], "outcome", "requeued"))
	assert.Equal(t, 1.0, labelValue(mfs["relay_delivery_total"], "outcome", "delivered"))
	assert.Equal(t, 2.0, sumFamily(mfs["relay_data_state"]))
}

func parseMetrics(t *testing.T, r io.Reader) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	require.NoError(t, err)
	return mfs
}

func labelValue(mf *dto.MetricFamily, name, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
