package notion

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/daily-digest/internal/testutil"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

var testWindow = types.Window{
	Since: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	Until: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
}

func TestFetch_SkippedWithoutDatabase(t *testing.T) {
	c := NewConnector(Config{APIKey: "secret"})
	b, err := c.Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	assert.Empty(t, b.Documents)
	assert.Equal(t, "notion", b.Source)
}

func TestFetch_PagesWithCursor(t *testing.T) {
	var bodies []queryRequest
	var calls, userCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			userCalls.Add(1)
			assert.Equal(t, "/v1/users/user-1", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"object":"user","id":"user-1","name":"Dana Scully"}`))
			return
		}
		calls.Add(1)
		assert.Equal(t, "/v1/databases/db-1/query", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Notion-Version"))

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req queryRequest
		assert.NoError(t, json.Unmarshal(raw, &req))
		bodies = append(bodies, req)

		if req.StartCursor == "" {
			_, _ = w.Write([]byte(`{"results":[{"id":"p1","url":"https://notion.so/p1","last_edited_time":"2025-03-10T10:00:00.000Z",
				"last_edited_by":{"id":"user-1"},
				"properties":{"Name":{"type":"title","title":[{"plain_text":"Design "},{"plain_text":"notes"}]},
				"Summary":{"type":"rich_text","rich_text":[{"plain_text":"Covers the\ncache rewrite"}]}}},
				{"id":"p3","last_edited_time":"2025-03-10T10:30:00.000Z","last_edited_by":{"id":"user-1"},"properties":{}}],
				"has_more":true,"next_cursor":"cur-2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"p2","url":"https://notion.so/p2","last_edited_time":"2025-03-10T11:00:00.000Z",
			"last_edited_by":{"id":""},"properties":{}}],"has_more":false,"next_cursor":null}`))
	}))
	defer srv.Close()

	c := NewConnector(Config{Client: srv.Client(), BaseURL: srv.URL, APIKey: "secret", DatabaseID: "db-1", Label: "wiki"})
	b, err := c.Fetch(context.Background(), testWindow)
	require.NoError(t, err)

	require.Len(t, b.Documents, 3)
	assert.Equal(t, "Design notes", b.Documents[0].Title)
	assert.Equal(t, "Covers the cache rewrite", b.Documents[0].Excerpt)
	assert.Equal(t, "Dana Scully", b.Documents[0].Actor)
	assert.Equal(t, "Dana Scully", b.Documents[1].Actor)
	assert.Equal(t, "wiki", b.Documents[0].Container)
	assert.Equal(t, "Untitled", b.Documents[2].Title)
	assert.Equal(t, types.UnknownActor, b.Documents[2].Actor)
	assert.Equal(t, int32(1), userCalls.Load(), "each editor is looked up once")

	require.Len(t, bodies, 2)
	assert.Equal(t, "last_edited_time", bodies[0].Filter.Timestamp)
	assert.Equal(t, "2025-03-10T09:00:00Z", bodies[0].Filter.LastEditedTime.OnOrAfter)
	assert.Equal(t, "cur-2", bodies[1].StartCursor)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_RateLimitedThenOK(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[],"has_more":false}`))
	}))
	defer srv.Close()

	c := NewConnector(Config{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", DatabaseID: "db", RetryDelay: time.Millisecond})
	b, err := c.Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	assert.Empty(t, b.Documents)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_NotFoundFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":"object_not_found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewConnector(Config{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", DatabaseID: "db", RetryDelay: time.Millisecond})
	_, err := c.Fetch(context.Background(), testWindow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object_not_found")
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, c.Mandatory())
}

func TestFetch_EditorLookupFallsBackToID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.Error(w, `{"code":"restricted_resource"}`, http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"p1","last_edited_time":"2025-03-10T10:00:00.000Z",
			"last_edited_by":{"id":"user-9"},"properties":{}}],"has_more":false}`))
	}))
	defer srv.Close()

	c := NewConnector(Config{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", DatabaseID: "db", RetryDelay: time.Millisecond})
	b, err := c.Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	require.Len(t, b.Documents, 1)
	assert.Equal(t, "user-9", b.Documents[0].Actor)
}

func TestFetch_PageLimitIsAnError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"results":[{"id":"p","last_edited_time":"2025-03-10T10:00:00.000Z","properties":{}}],
			"has_more":true,"next_cursor":"again"}`))
	}))
	defer srv.Close()

	c := NewConnector(Config{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", DatabaseID: "db"})
	b, err := c.Fetch(context.Background(), testWindow)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.Contains(t, err.Error(), "did not end")
	assert.Equal(t, int32(maxPages), calls.Load())
}

func TestFetch_EditorNamesRememberedAcrossFetches(t *testing.T) {
	var userCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			userCalls.Add(1)
			_, _ = w.Write([]byte(`{"object":"user","name":"Fox Mulder"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"p1","last_edited_time":"2025-03-10T10:00:00.000Z",
			"last_edited_by":{"id":"user-2"},"properties":{}}],"has_more":false}`))
	}))
	defer srv.Close()

	users := testutil.NewMockCache()
	c := NewConnector(Config{Client: srv.Client(), BaseURL: srv.URL, APIKey: "k", DatabaseID: "db", Users: users})
	for range 2 {
		b, err := c.Fetch(context.Background(), testWindow)
		require.NoError(t, err)
		require.Len(t, b.Documents, 1)
		assert.Equal(t, "Fox Mulder", b.Documents[0].Actor)
	}
	assert.Equal(t, int32(1), userCalls.Load())
	assert.Equal(t, 1, users.Misses("user:user-2"))
	assert.Equal(t, 1, users.Hits("user:user-2"))
}
