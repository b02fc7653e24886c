package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestFmtFixer(t *testing.T) {
	assert.Equal(t, "rag_stream_api_v1", FmtFixer("rag-stream.api/v1"))
}

func TestExportHandler(t *testing.T) {
	SetupMetricsManager("ragstream", "test", prometheus.NewRegistry())
	counter := NewCounterVec("fallback_tier", []string{"tier", "result"})
	counter.WithLabelValues("primary", "ok").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ragstream_test_fallback_tier{result="ok",tier="primary"} 1`)
}
