package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(framesTotal.WithLabelValues(KindData))
	IncFrame(KindData)
	IncFrame(KindData)
	assert.Equal(t, before+2, testutil.ToFloat64(framesTotal.WithLabelValues(KindData)))

	before = testutil.ToFloat64(requestsTotal.WithLabelValues("subscribe", "trade"))
	IncRequest("subscribe", "trade")
	assert.Equal(t, before+1, testutil.ToFloat64(requestsTotal.WithLabelValues("subscribe", "trade")))

	SetRegisteredCallbacks(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(registeredCallbacks))
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		name      string
		collector prometheus.Collector
		apply     func()
		delta     float64
	}{
		{"event", eventsTotal.WithLabelValues("challenge"), func() { IncEvent("challenge") }, 1},
		{"callback", callbacksTotal.WithLabelValues("fills"), func() { IncCallback("fills") }, 1},
		{"skipped", skippedTotal.WithLabelValues("open_orders"), func() { IncSkipped("open_orders") }, 1},
		{"unsubscribe", requestsTotal.WithLabelValues("unsubscribe", "book"), func() { IncRequest("unsubscribe", "book") }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.collector)
			tt.apply()
			assert.Equal(t, before+tt.delta, testutil.ToFloat64(tt.collector))
		})
	}

	SetConnectionState(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(connectionState))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	Register(reg) // second call is a no-op

	IncEvent("info")
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cffeed_ws_events_total"])
	assert.True(t, names["cffeed_router_registered_callbacks"])
}
