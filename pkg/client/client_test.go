package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchMetadata(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/", r.URL.Path)
		assert.Equal(t, "foo/foo.php", r.URL.Query().Get("plugin"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"slug":"foo","plugin":"foo/foo.php","new_version":"1.2.0","download_link":""}`)
	}))
	defer ts.Close()
	c := New(ts.URL)
	body, err := c.FetchMetadata(context.Background(), "foo/foo.php")
	require.NoError(t, err)
	require.Contains(t, string(body), `"new_version":"1.2.0"`)

	m, err := c.GetMetadata(context.Background(), "foo/foo.php")
	require.NoError(t, err)
	require.Equal(t, "1.2.0", m.NewVersion)
	require.Equal(t, "foo", m.Slug)
}

func TestFetchMetadataUnavailable(t *testing.T) {
	statusCode := http.StatusNotFound
	body := "Nope."
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
		_, _ = io.WriteString(w, body)
	}))
	defer ts.Close()
	c := New(ts.URL)

	_, err := c.FetchMetadata(context.Background(), "foo/foo.php")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)

	statusCode = http.StatusOK
	body = ""
	_, err = c.FetchMetadata(context.Background(), "foo/foo.php")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)

	ts.Close()
	_, err = c.FetchMetadata(context.Background(), "foo/foo.php")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestFetchMetadataTimeout(t *testing.T) {
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(ts.URL).FetchMetadata(ctx, "foo/foo.php")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListVersions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/plugins/foo/versions", r.URL.Path)
		if r.URL.Query().Get("constraint") == "^1.0.0" {
			require.NoError(t, json.NewEncoder(w).Encode([]string{"1.2.0", "1.0.0"}))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode([]string{"2.0.0", "1.2.0", "1.0.0"}))
	}))
	defer ts.Close()
	c := New(ts.URL)

	versions, err := c.ListVersions(context.Background(), "foo", "")
	require.NoError(t, err)
	require.Equal(t, []string{"2.0.0", "1.2.0", "1.0.0"}, versions)

	versions, err = c.ListVersions(context.Background(), "foo", "^1.0.0")
	require.NoError(t, err)
	require.Equal(t, []string{"1.2.0", "1.0.0"}, versions)
}

func TestImportRelease(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		if r.Header.Get("Authorization") != "admin-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid access token"}`)
			return
		}
		switch r.URL.Path {
		case "/api/v1/plugins/foo":
			_, _ = io.WriteString(w, `{"ok":true,"versions":["1.0.0","1.2.0"]}`)
		case "/api/v1/plugins/foo/versions/1.2.0":
			_, _ = io.WriteString(w, `{"ok":true,"versions":["1.2.0"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"not found"}`)
		}
	}))
	defer ts.Close()
	c := New(ts.URL)

	versions, err := c.ImportRelease(context.Background(), "admin-token", "foo", "")
	require.NoError(t, err)
	require.Equal(t, []string{"1.0.0", "1.2.0"}, versions)

	versions, err = c.ImportRelease(context.Background(), "admin-token", "foo", "1.2.0")
	require.NoError(t, err)
	require.Equal(t, []string{"1.2.0"}, versions)

	_, err = c.ImportRelease(context.Background(), "wrong", "foo", "")
	var errResp *ErrorResponse
	require.ErrorAs(t, err, &errResp)
	require.Equal(t, http.StatusUnauthorized, errResp.StatusCode)
	require.Equal(t, "invalid access token", errResp.ErrorMsg)

	_, err = c.ImportRelease(context.Background(), "admin-token", "", "")
	require.Error(t, err)
}
