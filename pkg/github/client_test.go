package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/internal/testutil"
)

func TestDrainAndCloseBody(t *testing.T) {
	drainAndCloseBody(http.NoBody)
}

type errorReader struct{}

func (*errorReader) Read([]byte) (int, error) { return 0, errors.New("read error") }

func (*errorReader) Close() error { return errors.New("close error") }

func TestDrainAndCloseBody_Errors(t *testing.T) {
	// Should log and not panic.
	drainAndCloseBody(&errorReader{})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("http 429: rate limited"), true},
		{errors.New("http 502: server error"), true},
		{fmt.Errorf("request failed: %w", io.EOF), true},
		{errors.New("dial tcp: connection refused"), true},
		{&StatusError{StatusCode: http.StatusNotFound}, false},
		{errors.New("invalid token format"), false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSanitizeURLForLogging(t *testing.T) {
	got := sanitizeURLForLogging("https://user:pw@api.github.com/repos/a/b/commits?sha=main&access_token=secret")
	if strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Errorf("sanitized URL leaks credentials: %q", got)
	}
	if got != "https://api.github.com/repos/a/b/commits" {
		t.Errorf("unexpected sanitized URL %q", got)
	}
	if sanitizeURLForLogging("://bad") != "invalid-url" {
		t.Error("expected invalid-url for unparsable input")
	}
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testBaseURL+"/repos/acme/api/releases", http.StatusBadGateway, nil)
	c := newTestClient(t, mock)
	c.retryAttempts = 3

	_, err := c.Releases(context.Background(), "acme", "api", testWindow)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := mock.CallCount(http.MethodGet, testBaseURL+"/repos/acme/api/releases"); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDoRequest_AuthorizationScheme(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetResponse(http.MethodGet, testBaseURL+"/repos/acme/api/releases", http.StatusOK, `[]`)
	c := newTestClient(t, mock)

	if _, err := c.Releases(context.Background(), "acme", "api", testWindow); err != nil {
		t.Fatalf("Releases() error = %v", err)
	}
	calls := mock.Calls()
	if len(calls) != 1 || !strings.HasPrefix(calls[0].Header.Get("Authorization"), "token ") {
		t.Errorf("expected token authorization for personal tokens, got %+v", calls)
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(context.Background(), Config{Token: "ghp_" + strings.Repeat("a", 36), HTTPClient: testutil.NewMockHTTPDoer()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if c.baseURL != defaultBaseURL || c.graphQLURL != defaultBaseURL+"/graphql" {
		t.Errorf("unexpected URLs %q %q", c.baseURL, c.graphQLURL)
	}
	if c.retryAttempts != maxRetryAttempts || c.retryDelay != initialRetryDelay {
		t.Errorf("unexpected retry defaults %d %v", c.retryAttempts, c.retryDelay)
	}
	if c.retryDelay > time.Second {
		t.Errorf("retry delay too long: %v", c.retryDelay)
	}
}
