package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/lectern/internal/domain/lecture"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/providers/content"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	pages  map[string]string
	errors map[string]*content.Error
}

func (l *stubLoader) Load(_ context.Context, contentID, token string) (*content.Item, error) {
	if token == "" {
		return nil, &content.Error{Kind: content.KindUnauthorized, ID: contentID, Status: 401}
	}
	if err, ok := l.errors[contentID]; ok {
		return nil, err
	}
	markup, ok := l.pages[contentID]
	if !ok {
		return nil, &content.Error{Kind: content.KindNotFound, ID: contentID, Status: 404}
	}
	return &content.Item{ID: contentID, Markup: markup, LoadedAt: time.Now(), Title: contentID}, nil
}

const counterLecture = `<h1>Counters</h1>
<button id="inc">+</button>
<script>
	let clicks = 0;
	document.getElementById("inc").addEventListener("click", function () { clicks++; window.clicks = clicks; });
	window.addEventListener("resize", function (e) { window.lastWidth = e.detail.width; });
	setTimeout(function () {}, 60000);
</script>`

func setupRouter(t *testing.T) (*gin.Engine, *lecture.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	loader := &stubLoader{
		pages: map[string]string{"counters": counterLecture},
		errors: map[string]*content.Error{
			"premium": {Kind: content.KindForbidden, ID: "premium", Status: 403},
			"blank":   {Kind: content.KindEmptyContent, ID: "blank", Status: 200},
			"down":    {Kind: content.KindTransport, ID: "down", Reason: "connection refused"},
		},
	}
	opts := lecture.DefaultOptions()
	opts.Sandbox.Timeout = time.Second
	manager := lecture.NewManager(loader, nil, opts, nil)
	t.Cleanup(func() { manager.Close(context.Background()) })

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	h := NewHandlers(manager, metrics, nil)

	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/metrics/json", h.MetricsJSON)
	router.POST("/lectures/:id/view", h.MountLecture)
	router.GET("/views/:viewId", h.GetView)
	router.POST("/views/:viewId/events", h.DispatchEvent)
	router.DELETE("/views/:viewId", h.UnmountView)
	return router, manager
}

func do(router *gin.Engine, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func mountCounters(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w, body := do(router, "POST", "/lectures/counters/view", "tok", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := body["view"].(map[string]any)
	return view["view_id"].(string)
}

func TestMountLecture(t *testing.T) {
	router, manager := setupRouter(t)

	w, body := do(router, "POST", "/lectures/counters/view", "tok", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	view := body["view"].(map[string]any)
	assert.Equal(t, "counters", view["content_id"])
	assert.Equal(t, "ready", view["state"])

	resources := view["resources"].(map[string]any)
	assert.Equal(t, float64(1), resources["timers"])
	assert.Equal(t, float64(2), resources["listeners"])

	require.NotNil(t, manager.Active())
	assert.Equal(t, view["view_id"], manager.Active().ID.String())
}

func TestMountLectureErrors(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name       string
		contentID  string
		token      string
		wantStatus int
		wantKind   string
	}{
		{name: "missing token", contentID: "counters", wantStatus: http.StatusUnauthorized, wantKind: "unauthorized"},
		{name: "not subscribed", contentID: "premium", token: "tok", wantStatus: http.StatusForbidden, wantKind: "forbidden"},
		{name: "unknown lecture", contentID: "nope", token: "tok", wantStatus: http.StatusNotFound, wantKind: "not_found"},
		{name: "empty body", contentID: "blank", token: "tok", wantStatus: http.StatusUnprocessableEntity, wantKind: "empty_content"},
		{name: "backend down", contentID: "down", token: "tok", wantStatus: http.StatusBadGateway, wantKind: "transport_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(router, "POST", "/lectures/"+tt.contentID+"/view", tt.token, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, body["error"])
			assert.NotEmpty(t, body["message"])

			view := body["view"].(map[string]any)
			assert.Equal(t, "idle", view["state"])
		})
	}
}

func TestMountLectureRejectsBadIDs(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := do(router, "POST", "/lectures/bad%20id/view", "tok", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestForbiddenMessageMentionsSubscription(t *testing.T) {
	router, _ := setupRouter(t)

	_, body := do(router, "POST", "/lectures/premium/view", "tok", "")
	assert.Contains(t, body["message"], "Subscribe")
}

func TestGetView(t *testing.T) {
	router, _ := setupRouter(t)
	viewID := mountCounters(t, router)

	w, body := do(router, "GET", "/views/"+viewID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := body["view"].(map[string]any)
	assert.Equal(t, "ready", view["state"])
	assert.Nil(t, view["markup"])

	_, body = do(router, "GET", "/views/"+viewID+"?markup=1", "", "")
	view = body["view"].(map[string]any)
	assert.Contains(t, view["markup"], `id="inc"`)
	assert.Contains(t, view["markup"], `data-block-state="executed"`)
}

func TestGetViewRejectsBadIDs(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := do(router, "GET", "/views/not-a-view", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])

	w, body = do(router, "GET", "/views/view_01ARZ3NDEKTSV4RRFFQ69G5FAV", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "view_not_found", body["error"])
}

func TestDispatchEvent(t *testing.T) {
	router, manager := setupRouter(t)
	viewID := mountCounters(t, router)

	w, body := do(router, "POST", "/views/"+viewID+"/events", "", `{"target":"#inc","type":"click"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["delivered"])

	w, _ = do(router, "POST", "/views/"+viewID+"/events", "", `{"type":"resize","detail":{"width":640}}`)
	require.Equal(t, http.StatusOK, w.Code)

	view := manager.Active()
	clicks, err := view.Eval(context.Background(), "window.clicks")
	require.NoError(t, err)
	assert.EqualValues(t, 1, clicks)

	width, err := view.Eval(context.Background(), "window.lastWidth")
	require.NoError(t, err)
	assert.EqualValues(t, 640, width)
}

func TestDispatchEventErrors(t *testing.T) {
	router, _ := setupRouter(t)
	viewID := mountCounters(t, router)

	w, _ := do(router, "POST", "/views/"+viewID+"/events", "", `{"target":"#missing","type":"click"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(router, "POST", "/views/"+viewID+"/events", "", `{"target":"window"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(router, "POST", "/views/"+viewID+"/events", "", `{"type":"on click"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	do(router, "DELETE", "/views/"+viewID, "", "")
	w, body := do(router, "POST", "/views/"+viewID+"/events", "", `{"type":"resize"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "dispatch_failed", body["error"])
}

func TestUnmountView(t *testing.T) {
	router, manager := setupRouter(t)
	viewID := mountCounters(t, router)

	w, body := do(router, "DELETE", "/views/"+viewID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	teardown := body["teardown"].(map[string]any)
	assert.Equal(t, false, teardown["already_torn_down"])
	released := teardown["released"].(map[string]any)
	assert.Equal(t, float64(1), released["timers"])
	assert.Equal(t, float64(2), released["listeners"])
	assert.Nil(t, manager.Active())

	w, body = do(router, "DELETE", "/views/"+viewID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	teardown = body["teardown"].(map[string]any)
	assert.Equal(t, true, teardown["already_torn_down"])

	_, body = do(router, "GET", "/views/"+viewID, "", "")
	view := body["view"].(map[string]any)
	assert.Equal(t, "torn_down", view["state"])
	resources := view["resources"].(map[string]any)
	assert.Equal(t, float64(0), resources["timers"])
	assert.Equal(t, float64(0), resources["listeners"])
}

func TestMountReplacesActiveView(t *testing.T) {
	router, _ := setupRouter(t)
	first := mountCounters(t, router)
	second := mountCounters(t, router)
	assert.NotEqual(t, first, second)

	_, body := do(router, "GET", "/views/"+first, "", "")
	assert.Equal(t, "torn_down", body["view"].(map[string]any)["state"])
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)
	mountCounters(t, router)

	w, body := do(router, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	active := body["active_view"].(map[string]any)
	assert.Equal(t, "counters", active["content_id"])
	assert.NotNil(t, body["metrics"])

	w, body = do(router, "GET", "/metrics/json", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, body["backend"])
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
}
