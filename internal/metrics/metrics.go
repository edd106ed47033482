package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cffeed"

var (
	once sync.Once

	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ws", Name: "frames_total",
		Help: "Inbound WebSocket frames by kind",
	}, []string{"kind"})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ws", Name: "events_total",
		Help: "Inbound event frames by event name",
	}, []string{"event"})

	callbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "callbacks_total",
		Help: "Callback invocations by feed",
	}, []string{"feed"})

	skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "skipped_frames_total",
		Help: "Data frames skipped because an expected field was missing",
	}, []string{"feed"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "subscription", Name: "requests_total",
		Help: "Subscribe and unsubscribe requests sent",
	}, []string{"event", "feed"})

	registeredCallbacks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "router", Name: "registered_callbacks",
		Help: "Callbacks currently registered",
	})

	connectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "ws", Name: "connection_state",
		Help: "0=disconnected 1=connecting 2=connected 3=closed",
	})
)

// Register registers all collectors with r, or the default registerer when
// r is nil. Only the first call has an effect.
func Register(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		r.MustRegister(
			framesTotal,
			eventsTotal,
			callbacksTotal,
			skippedTotal,
			requestsTotal,
			registeredCallbacks,
			connectionState,
		)
	})
}

// Frame kinds.
const (
	KindEvent     = "event"
	KindData      = "data"
	KindSnapshot  = "snapshot"
	KindMalformed = "malformed"
)

// IncFrame counts one inbound frame of the given kind.
func IncFrame(kind string) { framesTotal.WithLabelValues(kind).Inc() }

// IncEvent counts one inbound event frame by its event name.
func IncEvent(event string) { eventsTotal.WithLabelValues(event).Inc() }

// IncCallback counts one callback invocation for feed.
func IncCallback(feed string) { callbacksTotal.WithLabelValues(feed).Inc() }

// IncSkipped counts a data frame of feed dropped for a missing field.
func IncSkipped(feed string) { skippedTotal.WithLabelValues(feed).Inc() }

// IncRequest counts a subscribe or unsubscribe request sent for feed.
func IncRequest(event, feed string) { requestsTotal.WithLabelValues(event, feed).Inc() }

// SetRegisteredCallbacks records the number of registered callbacks.
func SetRegisteredCallbacks(n int) { registeredCallbacks.Set(float64(n)) }

// SetConnectionState records the connection state as its numeric value.
func SetConnectionState(state int) { connectionState.Set(float64(state)) }
