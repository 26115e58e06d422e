package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/types"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("test", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordRender(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRender("structure", nil, 2*time.Second)
	c.RecordRender("structure", types.NewError(types.ErrTimeout, "slow"), time.Minute)
	c.RecordRender("structure", errors.New("plain"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.rendersTotal.WithLabelValues("structure", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rendersTotal.WithLabelValues("structure", "TIMEOUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rendersTotal.WithLabelValues("structure", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.renderDuration))
}

func TestCollector_InFlightAndBusy(t *testing.T) {
	c := newTestCollector(t)

	done := c.RenderStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rendersInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.rendersInFlight))

	c.RecordBusyRejection()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.busyRejections))
}

func TestCollector_ProviderAndPoll(t *testing.T) {
	c := newTestCollector(t)

	c.RecordProviderRequest("queued", types.StageSubmit, 200, time.Second)
	c.RecordProviderRequest("queued", types.StagePoll, 0, time.Second)
	c.RecordPollQuery("queued", "IN_PROGRESS")
	c.RecordPollQuery("queued", "IN_PROGRESS")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues("queued", "submit", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRequestsTotal.WithLabelValues("queued", "poll", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollQueries.WithLabelValues("queued", "IN_PROGRESS")))
}

func TestCollector_Transfer(t *testing.T) {
	c := newTestCollector(t)

	c.RecordTransferAttempt("http", 0, errors.New("reset"), time.Second)
	c.RecordTransferAttempt("http", 2048, nil, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.transferAttempts.WithLabelValues("http", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transferAttempts.WithLabelValues("http", "success")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.transferBytes.WithLabelValues("http")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordRender("x", nil, time.Second)
		c.RenderStarted()()
		c.RecordBusyRejection()
		c.RecordProviderRequest("x", types.StageSubmit, 500, time.Second)
		c.RecordPollQuery("x", "PENDING")
		c.RecordTransferAttempt("http", 1, nil, time.Second)
		c.RecordConditioning("corrected")
	})
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "none"},
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusClass(tt.code))
	}
}
