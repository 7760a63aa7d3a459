package collab

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/codeGROOVE-dev/sprinkler/pkg/client"
)

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

func TestEventMonitor_HandleEvent(t *testing.T) {
	inv := &countingInvalidator{}
	m := NewEventMonitor("acme", func(context.Context) (string, error) { return "t", nil }, inv)

	m.handleEvent(client.Event{Type: "pull_request", URL: "https://github.com/acme/api/pull/7"})
	m.handleEvent(client.Event{Type: "pull_request", URL: "https://github.com/acme/api/pull/7"}) // duplicate within window
	m.handleEvent(client.Event{Type: "pull_request", URL: "https://github.com/other/api/pull/1"})
	m.handleEvent(client.Event{Type: "check_run", URL: "https://github.com/acme/api/pull/8"})
	m.handleEvent(client.Event{Type: "pull_request", URL: ""})
	m.handleEvent(client.Event{Type: "pull_request", URL: "https://github.com/Acme/web/pull/2"})

	if got := inv.n.Load(); got != 2 {
		t.Errorf("expected 2 invalidations, got %d", got)
	}
	status := m.HealthStatus()
	if status["events"] != 2 || status["connected"] != false || status["org"] != "acme" {
		t.Errorf("unexpected health status: %v", status)
	}
	if _, ok := status["last_event_at"]; !ok {
		t.Error("expected last_event_at in health status")
	}
}
