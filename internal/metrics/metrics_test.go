package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdersTotal_Increments(t *testing.T) {
	before := testutil.ToFloat64(OrdersTotal.WithLabelValues("BUY", "ok"))
	OrdersTotal.WithLabelValues("BUY", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OrdersTotal.WithLabelValues("BUY", "ok")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	ExitsTotal.WithLabelValues("take_profit").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "goaltrader_exits_total"))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(true))
	assert.Equal(t, "fail", Result(false))
}
