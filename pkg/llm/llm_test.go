package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_EchoesPrompt(t *testing.T) {
	c := &Command{Line: "cat"}
	out, err := c.Generate(context.Background(), "  hello world \n")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCommand_Failures(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		timeout time.Duration
		want    Kind
	}{
		{"non-zero exit", "echo broken >&2; exit 3", time.Minute, ExitFailure},
		{"empty output", "true", time.Minute, Empty},
		{"whitespace output", "printf '  \\n'", time.Minute, Empty},
		{"timeout", "sleep 5", 50 * time.Millisecond, Timeout},
		{"not configured", " ", time.Minute, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			_, err := (&Command{Line: tt.line}).Generate(ctx, "prompt")
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err), err.Error())
		})
	}
}

func TestCommand_StderrInDetail(t *testing.T) {
	_, err := (&Command{Line: "echo quota exceeded >&2; exit 1"}).Generate(context.Background(), "")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Detail, "quota exceeded")
}

func messagesServer(t *testing.T, handler func(n int32, w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request: %v", err)
		}
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		handler(n, w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTP_Success(t *testing.T) {
	srv, _ := messagesServer(t, func(_ int32, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Grouped "},{"type":"text","text":"activity"}]}`))
	})
	h := &HTTP{Endpoint: srv.URL, APIKey: "secret", Model: "small", Client: srv.Client()}

	out, err := h.Generate(context.Background(), "organize this")
	require.NoError(t, err)
	assert.Equal(t, "Grouped activity", out)
}

func TestHTTP_RetriesServerErrors(t *testing.T) {
	srv, calls := messagesServer(t, func(n int32, w http.ResponseWriter) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	})
	h := &HTTP{Endpoint: srv.URL, APIKey: "secret", Client: srv.Client(), RetryDelay: time.Millisecond}

	out, err := h.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTP_ClientErrorNotRetried(t *testing.T) {
	srv, calls := messagesServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad model"}`))
	})
	h := &HTTP{Endpoint: srv.URL, APIKey: "secret", Client: srv.Client(), RetryDelay: time.Millisecond}

	_, err := h.Generate(context.Background(), "p")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, HTTPStatus, e.Kind)
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Contains(t, e.Detail, "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTP_ExhaustedRetriesKeepStatus(t *testing.T) {
	srv, _ := messagesServer(t, func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h := &HTTP{Endpoint: srv.URL, APIKey: "secret", Client: srv.Client(), RetryAttempts: 2, RetryDelay: time.Millisecond}

	_, err := h.Generate(context.Background(), "p")
	assert.Equal(t, HTTPStatus, KindOf(err))
}

func TestHTTP_Empty(t *testing.T) {
	srv, _ := messagesServer(t, func(_ int32, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})
	h := &HTTP{Endpoint: srv.URL, APIKey: "secret", Client: srv.Client()}

	_, err := h.Generate(context.Background(), "p")
	assert.Equal(t, Empty, KindOf(err))
}

func TestFuncAndKindOf(t *testing.T) {
	g := Func(func(context.Context, string) (string, error) { return "x", nil })
	out, err := g.Generate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "timeout", Timeout.String())
}

func TestHTTP_MaxTokens(t *testing.T) {
	tests := []struct {
		name string
		set  int
		want int
	}{
		{"unset", 0, defaultMaxTokens},
		{"negative", -1, defaultMaxTokens},
		{"explicit", 512, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req messagesRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("bad request: %v", err)
				}
				got.Store(int32(req.MaxTokens))
				_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
			}))
			defer srv.Close()

			h := &HTTP{Endpoint: srv.URL, APIKey: "secret", Client: srv.Client(), MaxTokens: tt.set}
			_, err := h.Generate(context.Background(), "p")
			require.NoError(t, err)
			assert.Equal(t, int32(tt.want), got.Load())
		})
	}
}
