package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const introPage = `<!doctype html><html><head><title>Intro to SQL</title></head><body>
<h1>Intro to SQL</h1>
<div id="out"></div>
<script>window.steps = ["inline"]; setInterval(function () {}, 1000);</script>
<script src="/static/app.js"></script>
</body></html>`

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/content/intro", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer learner" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, introPage)
	})
	mux.HandleFunc("/content/premium", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"plan required"}`)
	})
	mux.HandleFunc("/static/app.js", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `steps.push("external"); document.getElementById("out").textContent = "ok";`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	backend := newBackend(t)

	cfg := config.Default()
	cfg.Content.BaseURL = backend.URL
	cfg.Logging.Level = "error"
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func request(t *testing.T, srv *Server, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Executor.PollAttempts = 0

	_, err := NewServer(cfg)
	assert.Error(t, err)
}

func TestLectureLifecycle(t *testing.T) {
	srv := newTestServer(t)

	w, body := request(t, srv, "POST", "/lectures/intro/view", "learner")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	view := body["view"].(map[string]any)
	assert.Equal(t, "ready", view["state"])
	assert.Equal(t, "Intro to SQL", view["title"])
	completion := view["completion"].(map[string]any)
	assert.Equal(t, float64(2), completion["executed"])

	steps, err := srv.Manager().Active().Eval(context.Background(), `steps.join(",")`)
	require.NoError(t, err)
	assert.Equal(t, "inline,external", steps)

	viewID := view["view_id"].(string)
	w, body = request(t, srv, "DELETE", "/views/"+viewID, "")
	require.Equal(t, http.StatusOK, w.Code)
	released := body["teardown"].(map[string]any)["released"].(map[string]any)
	assert.Equal(t, float64(1), released["intervals"])
}

func TestLoaderErrorsReachClient(t *testing.T) {
	srv := newTestServer(t)

	w, body := request(t, srv, "POST", "/lectures/intro/view", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["error"])

	w, body = request(t, srv, "POST", "/lectures/premium/view", "learner")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["error"])

	w, body = request(t, srv, "POST", "/lectures/missing/view", "learner")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	request(t, srv, "POST", "/lectures/intro/view", "learner")

	w, _ := request(t, srv, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, `lectern_content_loads_total{outcome="ok"} 1`)
	assert.Contains(t, out, "lectern_blocks_total")
	assert.Contains(t, out, "lectern_http_requests_total")
	assert.Contains(t, out, "go_goroutines")
}

func TestLargeResponsesAreCompressed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w, body := request(t, srv, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Nil(t, body["active_view"])
}
