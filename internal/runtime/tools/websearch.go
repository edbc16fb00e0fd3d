package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

type WebSearchInput struct {
	Query string `json:"query" jsonschema_description:"Search query."`
	Count int    `json:"count,omitempty" jsonschema_description:"Number of results (default 5, max 20)."`
}

var WebSearchInputSchema = GenerateSchema[WebSearchInput]()

// WebSearch queries the Brave Search API from the server.
type WebSearch struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewWebSearch(apiKey string) *WebSearch {
	return &WebSearch{
		apiKey:  apiKey,
		baseURL: braveSearchURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebSearch) Name() string                { return "web_search" }
func (w *WebSearch) Description() string         { return "Search the web and return titles, URLs and snippets." }
func (w *WebSearch) Parameters() json.RawMessage { return WebSearchInputSchema }

func (w *WebSearch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params WebSearchInput
	if err := decode(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Query == "" {
		return "", errors.New("query is required")
	}
	params.Count = min(max(params.Count, 0), 20)
	if params.Count == 0 {
		params.Count = 5
	}

	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", params.Query)
	q.Set("count", strconv.Itoa(params.Count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New("search api returned invalid json")
	}

	results := gjson.GetBytes(body, "web.results").Array()
	if len(results) == 0 {
		return "No results found.", nil
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1,
			r.Get("title").String(), r.Get("url").String(), r.Get("description").String())
	}
	return sb.String(), nil
}
