package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkstack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	adminSendBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "admin",
			Name:      "send_bytes_total",
			Help:      "Bytes posted to /send, by whether the link queued them.",
		},
		[]string{"node", "result"},
	)
	layerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "layer",
			Name:      "frames_total",
			Help:      "Units produced by a layer transform.",
		},
		[]string{"layer", "direction"},
	)
	layerDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "layer",
			Name:      "bytes_dropped_total",
			Help:      "Bytes a layer consumed without producing output.",
		},
		[]string{"layer"},
	)
	layerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "layer",
			Name:      "errors_total",
			Help:      "Operations aborted inside a layer.",
		},
		[]string{"layer", "direction"},
	)
	payloadsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "pipeline",
			Name:      "payloads_delivered_total",
			Help:      "Decoded payloads handed to the receive callback.",
		},
	)
	transmitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "link",
			Name:      "transmit_retries_total",
			Help:      "Transport writes refused and retried.",
		},
	)
	transmitBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkstack",
			Subsystem: "link",
			Name:      "transmit_bytes_total",
			Help:      "Encoded bytes accepted by the transport.",
		},
	)
	transmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "linkstack",
			Subsystem: "link",
			Name:      "transmit_duration_seconds",
			Help:      "Time from dequeue to transport acceptance, retries included.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			adminSendBytes,
			layerFrames,
			layerDropped,
			layerErrors,
			payloadsDelivered,
			transmitRetries,
			transmitBytes,
			transmitDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAdminSend(node string, n int, queued bool) {
	RegisterMetrics()
	result := "rejected"
	if queued {
		result = "queued"
	}
	adminSendBytes.WithLabelValues(node, result).Add(float64(n))
}

func RecordLayerFrame(layer, direction string) {
	RegisterMetrics()
	layerFrames.WithLabelValues(layer, direction).Inc()
}

func RecordLayerDrop(layer string, n int) {
	RegisterMetrics()
	layerDropped.WithLabelValues(layer).Add(float64(n))
}

func RecordLayerError(layer, direction string) {
	RegisterMetrics()
	layerErrors.WithLabelValues(layer, direction).Inc()
}

func RecordDelivered() {
	RegisterMetrics()
	payloadsDelivered.Inc()
}

func RecordTransmit(n int, retries int, duration time.Duration) {
	RegisterMetrics()
	transmitBytes.Add(float64(n))
	transmitRetries.Add(float64(retries))
	transmitDuration.Observe(duration.Seconds())
}
