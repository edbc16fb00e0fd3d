package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readURL(t *testing.T, target string) (string, error) {
	t.Helper()
	args, _ := json.Marshal(ReadURLInput{URL: target})
	return NewReadURL().Execute(context.Background(), args)
}

func TestReadURLConvertsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "reflect/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><h1>Hello World</h1><p>This is a test.</p></body></html>`))
	}))
	defer server.Close()

	result, err := readURL(t, server.URL)
	require.NoError(t, err)
	assert.Contains(t, result, "# Hello World")
	assert.Contains(t, result, "This is a test.")
}

func TestReadURLPassesThroughJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a":"<b>1</b>"}`))
	}))
	defer server.Close()

	result, err := readURL(t, server.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<b>1</b>"}`, result)
}

func TestReadURLRejectsBadURLs(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"", "url is required"},
		{"file:///etc/passwd", `unsupported url scheme "file"`},
		{"http://", "url has no host"},
	}
	for _, tt := range tests {
		_, err := readURL(t, tt.url)
		assert.EqualError(t, err, tt.want, tt.url)
	}
}

func TestReadURLHTTPError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := readURL(t, server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestReadURLTruncation(t *testing.T) {
	long := strings.Repeat("é", 30000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(long))
	}))
	defer server.Close()

	result, err := readURL(t, server.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result, readURLTruncated))
	assert.LessOrEqual(t, len(result), maxReadURLChars+len(readURLTruncated))
	assert.True(t, utf8.ValidString(result))
}
