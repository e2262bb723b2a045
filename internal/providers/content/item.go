package content

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/lectern/internal/shared/utils"
	"github.com/antchfx/htmlquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// summaryLength bounds Item.Summary in runes
const summaryLength = 280

// strict drops every tag along with script and style bodies
var strict = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

// Item is one fetched lecture. It is immutable once returned by Load.
type Item struct {
	ID        string    `json:"id"`
	Markup    string    `json:"-"`
	LoadedAt  time.Time `json:"loaded_at"`
	MediaType string    `json:"media_type"`
	Charset   string    `json:"charset"`
	Title     string    `json:"title,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Digest    string    `json:"digest"`
	Size      int       `json:"size"`
}

// decodeItem builds an Item from a response payload. contentType is the
// response Content-Type header and may be empty.
func decodeItem(contentID string, body []byte, contentType string) (*Item, error) {
	cs := "utf-8"
	text := body

	if !utf8.Valid(body) {
		cs = declaredCharset(contentType)
		if cs == "" {
			cs = detectCharset(body)
		}
		r, err := charset.NewReaderLabel(cs, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", cs, err)
		}
		if text, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("transcode from %q: %w", cs, err)
		}
	}

	markup := string(text)
	return &Item{
		ID:        contentID,
		Markup:    markup,
		LoadedAt:  time.Now(),
		MediaType: mimetype.Detect(body).String(),
		Charset:   cs,
		Title:     extractTitle(markup),
		Summary:   summarize(markup),
		Digest:    utils.DefaultHasher().Hash(text),
		Size:      len(markup),
	}, nil
}

func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

func detectCharset(data []byte) string {
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || result == nil {
		return "windows-1252"
	}
	return strings.ToLower(result.Charset)
}

// extractTitle returns the <title> text, falling back to the first <h1>
func extractTitle(markup string) string {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	for _, expr := range []string{"//title", "//h1"} {
		if node := htmlquery.FindOne(doc, expr); node != nil {
			if title := strings.TrimSpace(htmlquery.InnerText(node)); title != "" {
				return title
			}
		}
	}
	return ""
}

// summarize returns the leading visible text of markup, whitespace collapsed
func summarize(markup string) string {
	text := html.UnescapeString(strict.Sanitize(markup))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= summaryLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:summaryLength])) + "…"
}
