package collab

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
)

const (
	maxEventBody     = 1 << 20
	maxSignatureSkew = 5 * time.Minute
)

// Dispatcher hands a mention off for asynchronous handling.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Mention)
}

// Server is the collaborator's HTTP surface: chat events, health and metrics.
type Server struct {
	router     *gin.Engine
	dispatcher Dispatcher
	cache      *Cache
	health     func() map[string]any
	// signingSecret verifies chat event signatures when set.
	signingSecret string
	now           func() time.Time
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Dispatcher    Dispatcher
	Cache         *Cache
	Metrics       *metrics.Metrics
	Health        func() map[string]any // extra health fields, e.g. event stream status
	SigningSecret string
	Now           func() time.Time
}

// NewServer wires the routes.
func NewServer(cfg ServerConfig) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:        router,
		dispatcher:    cfg.Dispatcher,
		cache:         cfg.Cache,
		health:        cfg.Health,
		signingSecret: cfg.SigningSecret,
		now:           cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	router.POST("/events", s.handleEvents)
	router.GET("/_-_/health", s.handleHealth)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

type eventEnvelope struct {
	Event *struct {
		Type     string `json:"type"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// handleEvents acknowledges chat events immediately; answers are posted later in the thread.
func (s *Server) handleEvents(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if s.signingSecret != "" && !s.validSignature(c.Request.Header, body) {
		slog.WarnContext(c.Request.Context(), "Rejected event with bad signature", "component", "collab")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	switch env.Type {
	case "url_verification":
		c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
		return
	case "event_callback":
	default:
		c.Status(http.StatusOK)
		return
	}

	// The chat service retries slow acknowledgements; the first delivery is already being handled.
	if c.GetHeader("X-Slack-Retry-Num") != "" {
		c.Status(http.StatusOK)
		return
	}

	ev := env.Event
	if ev == nil || ev.Type != "app_mention" || ev.BotID != "" {
		c.Status(http.StatusOK)
		return
	}
	thread := ev.ThreadTS
	if thread == "" {
		thread = ev.TS
	}
	slog.InfoContext(c.Request.Context(), "Mention received", "component", "collab", "channel", ev.Channel, "user", ev.User)
	s.dispatcher.Dispatch(context.WithoutCancel(c.Request.Context()), Mention{
		Channel:  ev.Channel,
		ThreadTS: thread,
		User:     ev.User,
		Text:     ev.Text,
	})
	c.Status(http.StatusOK)
}

// validSignature checks the v0 HMAC-SHA256 signature over "v0:timestamp:body".
func (s *Server) validSignature(h http.Header, body []byte) bool {
	ts := h.Get("X-Slack-Request-Timestamp")
	sig := h.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return false
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if d := s.now().Sub(time.Unix(secs, 0)); d > maxSignatureSkew || d < -maxSignatureSkew {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(Sign(s.signingSecret, ts, body)))
}

// Sign returns the v0 signature for a request body.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":")) //nolint:errcheck // hash writes never fail
	mac.Write(body)                     //nolint:errcheck // hash writes never fail
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.cache != nil {
		status["cache"] = s.cache.State().String()
		if e := s.cache.Current(); e != nil && !e.BuiltAt.IsZero() {
			status["cache_built_at"] = e.BuiltAt.UTC().Format(time.RFC3339)
		}
	}
	if s.health != nil {
		for k, v := range s.health() {
			status[k] = v
		}
	}
	c.JSON(http.StatusOK, status)
}
