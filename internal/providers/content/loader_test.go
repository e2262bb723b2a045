package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/lectern/internal/providers/http/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, handler http.HandlerFunc) *Loader {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewLoader(client.NewClient(client.Options{BaseURL: server.URL}), nil)
}

func TestLoadSuccess(t *testing.T) {
	var path, auth string
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title> Databases 101 </title></head><body><h1>Intro</h1></body></html>`))
	})

	item, err := loader.Load(context.Background(), "db-intro.html", "tok")
	require.NoError(t, err)

	assert.Equal(t, "/content/db-intro.html", path)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "db-intro.html", item.ID)
	assert.Equal(t, "Databases 101", item.Title)
	assert.Equal(t, "utf-8", item.Charset)
	assert.True(t, strings.HasPrefix(item.MediaType, "text/html"))
	assert.Contains(t, item.Markup, "<h1>Intro</h1>")
	assert.False(t, item.LoadedAt.IsZero())
}

func TestLoadTitleFallsBackToHeading(t *testing.T) {
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div><h1>Joins</h1><p>text</p></div>`))
	})

	item, err := loader.Load(context.Background(), "joins.html", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Joins", item.Title)
}

func TestLoadSummaryAndDigest(t *testing.T) {
	body := `<h1>Joins</h1><script>var ok = 1 < 2;</script><p>Rows &amp; columns</p>`
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	item, err := loader.Load(context.Background(), "joins.html", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Joins Rows & columns", item.Summary)
	assert.True(t, strings.HasPrefix(item.Digest, "sha256:"))

	again, err := loader.Load(context.Background(), "joins.html", "tok")
	require.NoError(t, err)
	assert.Equal(t, item.Digest, again.Digest)
}

func TestSummarizeTruncates(t *testing.T) {
	summary := summarize("<p>" + strings.Repeat("word ", 200) + "</p>")
	assert.True(t, strings.HasSuffix(summary, "…"))
	assert.LessOrEqual(t, len([]rune(summary)), summaryLength+1)
}

func TestLoadTranscodesDeclaredCharset(t *testing.T) {
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		w.Write([]byte("<h1>Caf\xe9</h1>"))
	})

	item, err := loader.Load(context.Background(), "cafe.html", "tok")
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", item.Charset)
	assert.Equal(t, "<h1>Café</h1>", item.Markup)
}

func TestLoadClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		kind     Kind
		sentinel error
		reason   string
	}{
		{"unauthorized", http.StatusUnauthorized, "", KindUnauthorized, ErrUnauthorized, ""},
		{"forbidden", http.StatusForbidden, `{"message":"plan required"}`, KindForbidden, ErrForbidden, "plan required"},
		{"not found", http.StatusNotFound, "", KindNotFound, ErrNotFound, ""},
		{"empty", http.StatusOK, "", KindEmptyContent, ErrEmptyContent, ""},
		{"server error json", http.StatusInternalServerError, `{"error":"database offline"}`, KindTransport, ErrTransport, "database offline"},
		{"server error detail", http.StatusServiceUnavailable, `{"detail":"maintenance"}`, KindTransport, ErrTransport, "maintenance"},
		{"server error text", http.StatusBadGateway, "upstream timeout", KindTransport, ErrTransport, "upstream timeout"},
		{"server error html", http.StatusBadGateway, "<html>bad gateway</html>", KindTransport, ErrTransport, "502 Bad Gateway"},
		{"unexpected status", http.StatusTeapot, "", KindTransport, ErrTransport, "418 I'm a teapot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			item, err := loader.Load(context.Background(), "intro.html", "tok")
			require.Error(t, err)
			assert.Nil(t, item)

			var loadErr *Error
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, tt.kind, loadErr.Kind)
			assert.Equal(t, "intro.html", loadErr.ID)
			assert.Equal(t, tt.reason, loadErr.Reason)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.NotEmpty(t, loadErr.Message())
		})
	}
}

func TestLoadWhitespaceBodyIsContent(t *testing.T) {
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  \n"))
	})

	item, err := loader.Load(context.Background(), "notes.html", "tok")
	require.NoError(t, err)
	assert.Equal(t, "  \n", item.Markup)
}

func TestReasonTruncatesOnRunes(t *testing.T) {
	long := strings.Repeat("é", maxReasonLen+10)
	reason := responseReason([]byte(long), "")

	assert.True(t, utf8.ValidString(reason))
	assert.Equal(t, maxReasonLen, utf8.RuneCountInString(strings.TrimSuffix(reason, "...")))
	assert.Equal(t, "short", truncate("short"))
}

func TestLoadMessages(t *testing.T) {
	notFound := &Error{Kind: KindNotFound, ID: "missing.html"}
	assert.Contains(t, notFound.Message(), `"missing.html"`)

	forbidden := &Error{Kind: KindForbidden, ID: "paid.html"}
	assert.Contains(t, forbidden.Message(), "Subscribe")

	transport := &Error{Kind: KindTransport, ID: "x", Reason: "connection refused"}
	assert.Contains(t, transport.Message(), "connection refused")
}

func TestLoadMissingToken(t *testing.T) {
	called := false
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := loader.Load(context.Background(), "intro.html", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called)
}

func TestLoadTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	loader := NewLoader(client.NewClient(client.Options{BaseURL: url}), nil)
	_, err := loader.Load(context.Background(), "intro.html", "tok")

	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestLoadDoesNotRetry(t *testing.T) {
	calls := 0
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := loader.Load(context.Background(), "intro.html", "tok")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, calls)
}

func TestLoadReportsOutcome(t *testing.T) {
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	var outcomes []string
	loader.OnLoad = func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) }

	_, _ = loader.Load(context.Background(), "gone.html", "tok")
	assert.Equal(t, []string{"not_found"}, outcomes)
}

func TestScriptFetcherTokenScope(t *testing.T) {
	var sameAuth, otherAuth string
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		otherAuth = r.Header.Get("Authorization")
		w.Write([]byte("window.cdn = true;"))
	}))
	defer other.Close()

	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		sameAuth = r.Header.Get("Authorization")
		w.Write([]byte("window.local = true;"))
	})
	fetcher := loader.ScriptFetcher("tok")

	src, err := fetcher.FetchScript(context.Background(), "/static/anim.js")
	require.NoError(t, err)
	assert.Equal(t, "window.local = true;", src)
	assert.Equal(t, "Bearer tok", sameAuth)

	src, err = fetcher.FetchScript(context.Background(), other.URL+"/lib.js")
	require.NoError(t, err)
	assert.Equal(t, "window.cdn = true;", src)
	assert.Empty(t, otherAuth)
}

func TestExternalFailuresDoNotTripBackendBreaker(t *testing.T) {
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<h1>Intro</h1>"))
	})
	fetcher := loader.ScriptFetcher("tok")

	for i := 0; i < 8; i++ {
		_, err := fetcher.FetchScript(context.Background(), "http://127.0.0.1:1/cdn/lib.js")
		require.Error(t, err)
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}

	assert.Equal(t, resilience.StateClosed, loader.client.BreakerState())
	item, err := loader.Load(context.Background(), "intro.html", "tok")
	require.NoError(t, err)
	assert.Contains(t, item.Markup, "Intro")
}

func TestScriptFetcherErrorStatus(t *testing.T) {
	loader := newTestLoader(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := loader.ScriptFetcher("tok").FetchScript(context.Background(), "/static/missing.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
