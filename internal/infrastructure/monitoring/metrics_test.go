package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLoad("ok", 10*time.Millisecond)
	m.RecordLoad("forbidden", time.Millisecond)
	m.RecordBlock("inline", "ok", time.Millisecond)
	m.RecordBlock("inline", "error", time.Millisecond)
	m.RecordRegistered("timer")
	m.RecordRegistered("timer")
	m.RecordReleased("timer", 2)
	m.RecordReleased("listener", 0)
	m.IncTeardowns()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadsTotal.WithLabelValues("forbidden")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResourcesRegistered.WithLabelValues("timer")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResourcesReleased.WithLabelValues("timer")))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Loads)
	assert.Equal(t, int64(1), snap.LoadFailures)
	assert.Equal(t, int64(1), snap.BlockFailures)
	assert.Equal(t, int64(2), snap.Released)
	assert.Equal(t, int64(1), snap.Teardowns)
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/views/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, p := range []string{"/views/a", "/views/b"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/views/:id", "404")))
	assert.Equal(t, int64(2), m.Snapshot().TotalErrors)
}
