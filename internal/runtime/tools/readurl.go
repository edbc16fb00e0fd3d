package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	maxReadURLChars  = 50000
	maxReadURLBody   = 8 << 20
	readURLTruncated = "\n\n[Content truncated]"
)

type ReadURLInput struct {
	URL string `json:"url" jsonschema_description:"Absolute http or https URL to fetch."`
}

var ReadURLInputSchema = GenerateSchema[ReadURLInput]()

// ReadURL fetches a page on the server. HTML is converted to markdown; text
// and JSON bodies are returned as is.
type ReadURL struct {
	client *http.Client
}

func NewReadURL() *ReadURL {
	return &ReadURL{client: &http.Client{Timeout: 30 * time.Second}}
}

func (r *ReadURL) Name() string { return "read_url" }
func (r *ReadURL) Description() string {
	return "Fetch a URL from the server and return its content as markdown. Use it when the browser cannot reach a page because of CORS."
}
func (r *ReadURL) Parameters() json.RawMessage { return ReadURLInputSchema }

func (r *ReadURL) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in ReadURLInput
	if err := decode(args, &in); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	target, err := checkURL(in.URL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "reflect/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadURLBody))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if isHTML(resp.Header.Get("Content-Type")) {
		if text, err = htmltomarkdown.ConvertString(text); err != nil {
			return "", fmt.Errorf("convert to markdown: %w", err)
		}
	}
	return clip(text, maxReadURLChars), nil
}

func checkURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("url has no host")
	}
	return u.String(), nil
}

// isHTML treats a missing content type as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \n") + readURLTruncated
}
