package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/sprinkler/pkg/client"
)

const (
	eventDedupWindow   = 5 * time.Second
	eventMapMaxSize    = 1000
	eventMapCleanupAge = time.Hour
	reconnectBackoff   = 30 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// Invalidator is told when cached activity is out of date.
type Invalidator interface {
	Invalidate()
}

// EventMonitor follows live pull request events for one organization and marks the
// collaborator cache stale when one arrives.
type EventMonitor struct {
	lastConnectedAt time.Time
	lastEventAt     time.Time
	target          Invalidator
	tokens          func(ctx context.Context) (string, error)
	lastEventMap    map[string]time.Time
	wsClient        *client.Client
	org             string
	serverURL       string
	mu              sync.RWMutex
	events          int
	reconnects      int
	isConnected     bool
}

// NewEventMonitor returns a monitor for org. tokens supplies a GitHub token on every connect.
func NewEventMonitor(org string, tokens func(ctx context.Context) (string, error), target Invalidator) *EventMonitor {
	return &EventMonitor{
		org:          org,
		tokens:       tokens,
		target:       target,
		serverURL:    "wss://" + client.DefaultServerAddress + "/ws",
		lastEventMap: make(map[string]time.Time),
	}
}

// Run connects and reconnects until ctx ends.
func (m *EventMonitor) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event monitor panic", "component", "sprinkler", "org", m.org, "panic", r)
		}
	}()

	for attempt := 1; ; attempt++ {
		err := m.connect(ctx)
		if ctx.Err() != nil {
			slog.Info("Event monitor stopped", "component", "sprinkler", "org", m.org)
			return
		}
		backoff := min(reconnectBackoff*time.Duration(attempt), maxReconnectDelay)
		if err == nil {
			attempt = 0
			backoff = 5 * time.Second
		}
		m.mu.Lock()
		m.reconnects++
		m.mu.Unlock()
		slog.Warn("Event stream ended, will restart after backoff", "component", "sprinkler", "org", m.org, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (m *EventMonitor) connect(ctx context.Context) error {
	wsClient, err := client.New(client.Config{
		ServerURL:    m.serverURL,
		Organization: m.org,
		TokenProvider: func() (string, error) {
			token, err := m.tokens(ctx)
			if err != nil {
				return "", fmt.Errorf("failed to get token: %w", err)
			}
			return token, nil
		},
		EventTypes: []string{"pull_request"},
		OnConnect: func() {
			m.mu.Lock()
			m.isConnected = true
			m.lastConnectedAt = time.Now()
			m.mu.Unlock()
			slog.Info("Event stream connected", "component", "sprinkler", "org", m.org)
		},
		OnDisconnect: func(err error) {
			m.mu.Lock()
			wasConnected := m.isConnected
			m.isConnected = false
			m.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) && wasConnected {
				slog.Warn("Event stream disconnected", "component", "sprinkler", "org", m.org, "error", err)
			}
		},
		OnEvent: m.handleEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	m.mu.Lock()
	m.wsClient = wsClient
	m.mu.Unlock()

	start := time.Now()
	if err := wsClient.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Event stream stopped with error", "component", "sprinkler", "org", m.org,
			"uptime", time.Since(start).Round(time.Second), "error", err)
		return err
	}
	return nil
}

// Stop closes the current connection.
func (m *EventMonitor) Stop() {
	m.mu.RLock()
	wsClient := m.wsClient
	m.mu.RUnlock()
	if wsClient != nil {
		wsClient.Stop()
	}
}

// handleEvent invalidates the cache for pull request events of the monitored org.
func (m *EventMonitor) handleEvent(event client.Event) {
	if event.Type != "pull_request" || event.URL == "" {
		return
	}
	// https://github.com/org/repo/pull/123
	parts := strings.Split(event.URL, "/")
	if len(parts) < 5 || parts[2] != "github.com" || !strings.EqualFold(parts[3], m.org) {
		slog.Debug("Ignoring event outside the organization", "component", "sprinkler", "url", event.URL, "org", m.org)
		return
	}

	m.mu.Lock()
	now := time.Now()
	if last, ok := m.lastEventMap[event.URL]; ok && now.Sub(last) < eventDedupWindow {
		m.mu.Unlock()
		return
	}
	m.lastEventMap[event.URL] = now
	m.lastEventAt = now
	m.events++
	if len(m.lastEventMap) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for url, ts := range m.lastEventMap {
			if ts.Before(cutoff) {
				delete(m.lastEventMap, url)
			}
		}
	}
	m.mu.Unlock()

	slog.Info("Pull request event, marking activity stale", "component", "sprinkler", "url", event.URL)
	m.target.Invalidate()
}

// HealthStatus reports the connection state for the health endpoint.
func (m *EventMonitor) HealthStatus() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := map[string]any{
		"org":        m.org,
		"connected":  m.isConnected,
		"events":     m.events,
		"reconnects": m.reconnects,
	}
	if !m.lastConnectedAt.IsZero() {
		status["last_connected_at"] = m.lastConnectedAt.UTC().Format(time.RFC3339)
	}
	if !m.lastEventAt.IsZero() {
		status["last_event_at"] = m.lastEventAt.UTC().Format(time.RFC3339)
	}
	return status
}
