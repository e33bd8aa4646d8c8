package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openreply/pagegate/internal/config"
)

type nopHub struct{}

func (nopHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (nopHub) Subscribers(tenantID string) int { return 0 }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *handlerFixture) {
	t.Helper()
	cfg := config.Default()
	cfg.Platform.VerifyToken = "verify-secret"
	if mutate != nil {
		mutate(cfg)
	}
	f := newHandlerFixture(false)
	return NewServer(cfg, f.h, nopHub{}, staticHealth{}), f
}

func TestHandleVerify(t *testing.T) {
	s, _ := newTestServer(t, nil)
	mux := s.BuildMux()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "valid handshake echoes challenge",
			query:      "hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=12345",
			wantStatus: http.StatusOK,
			wantBody:   "12345",
		},
		{
			name:       "wrong token",
			query:      "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "wrong mode",
			query:      "hub.mode=unsubscribe&hub.verify_token=verify-secret&hub.challenge=12345",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing challenge",
			query:      "hub.mode=subscribe&hub.verify_token=verify-secret",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing mode",
			query:      "hub.verify_token=verify-secret&hub.challenge=12345",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleEvents_AcknowledgesValidBatch(t *testing.T) {
	s, _ := newTestServer(t, nil)
	mux := s.BuildMux()

	body := `{"object":"page","entry":[{"id":"page-1","messaging":[{"sender":{"id":"psid-1"},"recipient":{"id":"page-1"},"message":{"mid":"m1","text":"hi"}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != ackBody {
		t.Errorf("body = %q, want %q", rec.Body.String(), ackBody)
	}
}

func TestHandleEvents_InvalidJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)
	mux := s.BuildMux()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEvents_Signature(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Platform.AppSecret = "app-secret"
	})
	mux := s.BuildMux()

	body := `{"object":"page","entry":[]}`

	sign := func(payload, secret string) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		return "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	t.Run("valid signature accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sign(body, "app-secret"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sign(body, "other-secret"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestHandleEvents_RateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimitPerMinute = 2
	})
	mux := s.BuildMux()

	body := `{"object":"page","entry":[]}`
	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.RemoteAddr = "198.51.100.7:4411"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	if post() != http.StatusOK || post() != http.StatusOK {
		t.Fatal("first two posts should pass")
	}
	if got := post(); got != http.StatusTooManyRequests {
		t.Errorf("third post status = %d, want 429", got)
	}
}

func TestHandleEvents_BodyTooLarge(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 64
	})
	mux := s.BuildMux()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(strings.Repeat("x", 200)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	cfg := config.Default()
	f := newHandlerFixture(false)

	t.Run("ok", func(t *testing.T) {
		s := NewServer(cfg, f.h, nopHub{}, staticHealth{})
		rec := httptest.NewRecorder()
		s.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp["status"] != "ok" {
			t.Errorf("status = %v, want ok", resp["status"])
		}
	})

	t.Run("degraded during cooldown", func(t *testing.T) {
		s := NewServer(cfg, f.h, nopHub{}, staticHealth{cooldown: true})
		rec := httptest.NewRecorder()
		s.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp["status"] != "degraded" {
			t.Errorf("status = %v, want degraded", resp["status"])
		}
	})
}
