package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/lectern/internal/providers/http/client"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PathPrefix is the backend route serving lecture content by identifier
const PathPrefix = "/content/"

const maxReasonLen = 200

// Loader fetches lecture content with bearer-token authorization
type Loader struct {
	client *client.Client
	logger *zap.Logger
	// OnLoad is notified with the outcome ("ok" or an error kind) and latency
	OnLoad func(outcome string, d time.Duration)
}

// NewLoader creates a loader over the backend client
func NewLoader(c *client.Client, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{client: c, logger: logger}
}

// Load fetches the lecture identified by contentID. It performs a single
// attempt; retrying is left to the caller.
func (l *Loader) Load(ctx context.Context, contentID, token string) (*Item, error) {
	start := time.Now()
	item, err := l.load(ctx, contentID, token)

	outcome := "ok"
	if kind := KindOf(err); kind != "" {
		outcome = string(kind)
	}
	if l.OnLoad != nil {
		l.OnLoad(outcome, time.Since(start))
	}

	if err != nil {
		l.logger.Warn("Lecture load failed",
			zap.String("content_id", contentID),
			zap.String("kind", outcome),
			zap.Error(err))
		return nil, err
	}

	l.logger.Info("Lecture loaded",
		zap.String("content_id", contentID),
		zap.String("media_type", item.MediaType),
		zap.String("charset", item.Charset),
		zap.Int("size", item.Size),
		zap.Duration("duration", time.Since(start)))
	return item, nil
}

func (l *Loader) load(ctx context.Context, contentID, token string) (*Item, error) {
	if strings.TrimSpace(contentID) == "" {
		return nil, newError(KindNotFound, contentID, 0, "empty lecture identifier", nil)
	}
	if token == "" {
		return nil, newError(KindUnauthorized, contentID, 0, "missing credentials", nil)
	}

	resp, err := l.client.Get(ctx, PathPrefix+url.PathEscape(contentID), token)
	if err != nil {
		return nil, newError(KindTransport, contentID, 0, transportReason(err), err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusUnauthorized:
		return nil, newError(KindUnauthorized, contentID, status, responseReason(resp.Body(), ""), nil)
	case status == http.StatusForbidden:
		return nil, newError(KindForbidden, contentID, status, responseReason(resp.Body(), ""), nil)
	case status == http.StatusNotFound:
		return nil, newError(KindNotFound, contentID, status, responseReason(resp.Body(), ""), nil)
	case status < 200 || status > 299:
		return nil, newError(KindTransport, contentID, status, responseReason(resp.Body(), resp.Status()), nil)
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, newError(KindEmptyContent, contentID, status, "", nil)
	}

	item, err := decodeItem(contentID, body, resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, newError(KindTransport, contentID, status, err.Error(), err)
	}
	return item, nil
}

func transportReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	}
	return err.Error()
}

// responseReason extracts a reason from an error body. JSON bodies are
// searched for message, error and detail keys in that order; other bodies are
// used as plain text. fallback is returned when the body says nothing.
func responseReason(body []byte, fallback string) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fallback
	}

	var fields map[string]any
	if err := sonic.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if s, ok := fields[key].(string); ok && s != "" {
				return truncate(s)
			}
		}
		return fallback
	}

	if strings.HasPrefix(text, "<") {
		// HTML error pages are not useful to a learner
		return fallback
	}
	return truncate(text)
}

// truncate shortens s to maxReasonLen runes
func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxReasonLen {
		return s
	}
	return string(runes[:maxReasonLen]) + "..."
}

// ScriptFetcher returns a fetcher for external code blocks of a lecture
// loaded with token
func (l *Loader) ScriptFetcher(token string) *ScriptFetcher {
	return &ScriptFetcher{client: l.client, token: token}
}

// ScriptFetcher loads external code block sources
type ScriptFetcher struct {
	client *client.Client
	token  string
}

// FetchScript returns the source at src. Relative sources resolve against
// the backend base URL and carry the bearer token; absolute sources on other
// hosts are fetched anonymously and outside the backend breaker.
func (f *ScriptFetcher) FetchScript(ctx context.Context, src string) (string, error) {
	var (
		resp *resty.Response
		err  error
	)
	if f.sameOrigin(src) {
		resp, err = f.client.Get(ctx, src, f.token)
	} else {
		resp, err = f.client.GetExternal(ctx, src)
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", src, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch %s: %s", src, resp.Status())
	}
	return string(resp.Body()), nil
}

func (f *ScriptFetcher) sameOrigin(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	if !u.IsAbs() {
		return u.Host == ""
	}
	base, err := url.Parse(f.client.BaseURL())
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}
