// Package webhook terminates the platform's callbacks: the subscription
// handshake, the event endpoint, and the observer WebSocket. The event
// endpoint's one hard contract is acknowledge-before-work: the fixed ack
// body goes out before any operation that may block on I/O begins.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openreply/pagegate/internal/config"
	"github.com/openreply/pagegate/internal/platform"
)

// ackBody is the fixed acknowledgement the platform sees for every parsed
// event post, regardless of internal outcome.
const ackBody = "EVENT_RECEIVED"

// Hub is the observer endpoint surface the server mounts at /ws.
type Hub interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	Subscribers(tenantID string) int
}

// HealthReporter exposes the storage cooldown state.
type HealthReporter interface {
	InCooldown() bool
}

// Server is the webhook HTTP server.
type Server struct {
	cfg     *config.Config
	handler *Handler
	hub     Hub
	health  HealthReporter
	limiter *RateLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the webhook server.
func NewServer(cfg *config.Config, h *Handler, hub Hub, health HealthReporter) *Server {
	return &Server{
		cfg:     cfg,
		handler: h,
		hub:     hub,
		health:  health,
		limiter: NewRateLimiter(cfg.Server.RateLimitPerMinute),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleEvents)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("webhook.listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// handleVerify answers the subscription handshake: echo the challenge when
// mode is "subscribe" and the token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || challenge == "" {
		http.Error(w, "malformed verification request", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != s.cfg.Platform.VerifyToken {
		slog.Warn("webhook.verify_rejected", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	slog.Info("webhook.verified")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// handleEvents acknowledges the batch, then fans it out in the background.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientKey(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	maxBody := s.cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if secret := s.cfg.Platform.AppSecret; secret != "" {
		if !validSignature(body, secret, r.Header.Get("X-Hub-Signature-256")) {
			slog.Warn("webhook.bad_signature", "remote", clientKey(r))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var batch platform.InboundEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Acknowledge now; everything past this line is unbounded work the
	// platform must not wait for.
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ackBody)

	ctx := context.WithoutCancel(r.Context())
	go s.handler.Process(ctx, &batch)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.health.InCooldown() {
		status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"subscribers": s.hub.Subscribers(""),
	})
}

// validSignature checks the hex HMAC-SHA256 in an X-Hub-Signature-256
// header ("sha256=<hex>") against body.
func validSignature(body []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
