package core

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quka-ai/ragstream/pkg/metrics"
)

type Metrics struct {
	apiResponseTime    *prometheus.HistogramVec
	apiErrorCounter    *prometheus.CounterVec
	fallbackTier       *prometheus.CounterVec
	backendRequestTime *prometheus.HistogramVec
	backendError       *prometheus.CounterVec
	streamFrames       *prometheus.CounterVec
	activeStreams      *prometheus.GaugeVec
}

func NewMetrics(ns, system string) *Metrics {
	// setup metric
	metrics.SetupMetricsManager(ns, system, prometheus.DefaultRegisterer.(*prometheus.Registry))

	m := &Metrics{
		apiResponseTime:    metrics.NewHistogramVec("api_response_time", []string{"api"}),
		apiErrorCounter:    metrics.NewCounterVec("api_error", []string{"method", "api", "status"}),
		fallbackTier:       metrics.NewCounterVec("fallback_tier", []string{"tier", "result"}),
		backendRequestTime: metrics.NewHistogramVec("backend_request_time", []string{"target"}),
		backendError:       metrics.NewCounterVec("backend_error", []string{"target"}),
		streamFrames:       metrics.NewCounterVec("stream_frames", []string{"tag"}),
		activeStreams:      metrics.NewGaugeVec("active_streams", nil),
	}

	return m
}

func (m *Metrics) ApiErrorInc(method, api string, status int) {
	m.apiErrorCounter.WithLabelValues(method, api, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ApiResponseTimer(api string) *prometheus.Timer {
	return prometheus.NewTimer(m.apiResponseTime.WithLabelValues(api))
}

func (m *Metrics) FallbackTierInc(tier string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.fallbackTier.WithLabelValues(tier, result).Inc()
}

// BackendRequestObserve matches the request observer of the retrieval client
// and the generation backend.
func (m *Metrics) BackendRequestObserve(target string, cost time.Duration, err error) {
	m.backendRequestTime.WithLabelValues(target).Observe(cost.Seconds())
	if err != nil {
		m.backendError.WithLabelValues(target).Inc()
	}
}

func (m *Metrics) StreamFrameInc(tag string) {
	m.streamFrames.WithLabelValues(tag).Inc()
}

func (m *Metrics) ActiveStreamsAdd(delta float64) {
	m.activeStreams.WithLabelValues().Add(delta)
}
