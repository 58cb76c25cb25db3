package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freesleephq/freesleep-core/internal/auth"
	"github.com/freesleephq/freesleep-core/internal/entity"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/config"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/logging"
	"github.com/freesleephq/freesleep-core/internal/pod"
)

const (
	testJWTSecret = "test-secret-key-at-least-32-characters-long"
	testUsername  = "admin"
)

func ptr[T any](v T) *T { return &v }

// fakeDevice is a scriptable pod for handler tests.
type fakeDevice struct {
	mu       sync.Mutex
	fetchErr error
	report   pod.StateReport
	sent     []pod.PendingCommand
}

func (f *fakeDevice) FetchState(ctx context.Context) (pod.StateReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return pod.StateReport{}, f.fetchErr
	}
	report := f.report
	report.FetchedAt = time.Now().UTC()
	return report, nil
}

func (f *fakeDevice) SendCommand(ctx context.Context, cmd pod.PendingCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func fullReport() pod.StateReport {
	var r pod.StateReport
	r.Left.TargetTempF = ptr(72.0)
	r.Left.CurrentTempF = ptr(71.3)
	r.Left.Active = ptr(true)
	r.Right.TargetTempF = ptr(68.0)
	r.Right.CurrentTempF = ptr(70.1)
	r.Right.Active = ptr(false)
	r.Pod.AwayMode = ptr(false)
	r.Pod.PrimeDaily = ptr(true)
	r.Pod.Priming = ptr(false)
	r.Pod.WaterLevelOK = ptr(true)
	r.Pod.LEDBrightness = ptr(80)
	r.Pod.WiFiStrength = ptr(-52)
	r.Pod.HubVersion = ptr("4.1.22")
	r.Pod.FirmwareVersion = ptr("1.4.0")
	return r
}

// reconcilerCommander adapts the reconciler to the Commander interface
// the way integration.Entry does in production.
type reconcilerCommander struct {
	rec *pod.Reconciler
}

func (c reconcilerCommander) SubmitCommand(scope pod.Scope, field pod.Field, value any) (pod.PendingCommand, error) {
	return c.rec.Submit(scope, field, value)
}

// Submit implements entity.CommandSink, mirroring integration.Entry.
func (c reconcilerCommander) Submit(scope pod.Scope, field pod.Field, value any) (pod.PendingCommand, error) {
	return c.SubmitCommand(scope, field, value)
}

// testServer creates a Server over a fake pod with a populated cache.
func testServer(t *testing.T) (*Server, *fakeDevice) {
	t.Helper()

	device := &fakeDevice{report: fullReport()}
	cache := pod.NewCache()
	rec := pod.NewReconciler(device, cache, pod.ReconcilerConfig{
		PollInterval:   time.Hour,
		RetryInterval:  0,
		RetryLimit:     3,
		BackoffInitial: 30 * time.Second,
		BackoffMax:     10 * time.Minute,
	}, nil)

	if err := rec.RefreshNow(context.Background()); err != nil {
		t.Fatalf("priming cache: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	binder := entity.NewBinder(reconcilerCommander{rec})

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testJWTSecret,
				AccessTokenTTL: 15,
			},
			User: config.APIUserConfig{
				Username: testUsername,
			},
		},
		Logger:     log,
		Cache:      cache,
		Reconciler: rec,
		Binder:     binder,
		Commander:  reconcilerCommander{rec},
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	srv.hub = NewHub(srv.wsCfg, log)

	return srv, device
}

// authedRequest builds a request carrying a valid bearer token.
func authedRequest(t *testing.T, method, path string, body string) *http.Request {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := auth.GenerateToken(testUsername, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("generating test token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["pod_reachable"] != true {
		t.Errorf("pod_reachable = %v, want true", resp["pod_reachable"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/nonexistent", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestProtectedRoute_RequiresToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pod", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestProtectedRoute_RejectsGarbageToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pod", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestLogin(t *testing.T) {
	srv, _ := testServer(t)

	hash, err := auth.HashPassword("sleepy-time")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	srv.secCfg.User.PasswordHash = hash

	router := srv.buildRouter()

	t.Run("valid credentials", func(t *testing.T) {
		body := `{"username":"admin","password":"sleepy-time"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
		}

		resp := decodeBody(t, w)
		token, _ := resp["access_token"].(string) //nolint:errcheck // checked below
		if token == "" {
			t.Fatal("no access token in response")
		}

		// The issued token must pass the auth middleware.
		podReq := httptest.NewRequest(http.MethodGet, "/api/v1/pod", nil)
		podReq.Header.Set("Authorization", "Bearer "+token)
		podW := httptest.NewRecorder()
		router.ServeHTTP(podW, podReq)
		if podW.Code != http.StatusOK {
			t.Errorf("issued token rejected: status = %d", podW.Code)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		body := `{"username":"admin","password":"wide-awake"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("wrong username", func(t *testing.T) {
		body := `{"username":"root","password":"sleepy-time"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestLogin_NoProvisionedUser(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"username":"admin","password":"anything"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWSTicket(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	ticket, _ := resp["ticket"].(string) //nolint:errcheck // checked below
	if ticket == "" {
		t.Fatal("no ticket in response")
	}

	// Single use: first consume succeeds, second fails.
	if entry, ok := srv.tickets.consume(ticket); !ok || entry.username != testUsername {
		t.Errorf("consume = (%+v, %v), want valid entry for %s", entry, ok, testUsername)
	}
	if _, ok := srv.tickets.consume(ticket); ok {
		t.Error("ticket consumed twice")
	}
}
