package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/argon2"

	"github.com/nerrad567/ledlocator/internal/audit"
	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
	"github.com/nerrad567/ledlocator/internal/infrastructure/database"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/inventory"
	"github.com/nerrad567/ledlocator/internal/locator"
	"github.com/nerrad567/ledlocator/internal/notify"
	"github.com/nerrad567/ledlocator/internal/wled"
	"github.com/nerrad567/ledlocator/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// ─── Fixtures ──────────────────────────────────────────────────────

// fakeWLED answers /json/state and /json/info like a controller.
type fakeWLED struct {
	mu     sync.Mutex
	bodies []string
	fail   bool
}

func (f *fakeWLED) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/json/info":
		_, _ = io.WriteString(w, `{"name":"Shelf strip","ver":"0.14.4","leds":{"count":60}}`)
	case "/json/state":
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		fail := f.fail
		if !fail {
			f.bodies = append(f.bodies, string(b))
		}
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"success":true}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeWLED) requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeWLED) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

type testEnv struct {
	srv        *Server
	router     http.Handler
	db         *sql.DB
	wled       *fakeWLED
	locations  *inventory.SQLiteRepository
	users      *auth.SQLiteUserRepository
	audit      *audit.SQLiteRepository
	owner      *auth.User
	member     *auth.User
	ownerToken string
	userToken  string
}

// newTestEnv wires a Server against a real SQLite database and a fake
// controller. withController == false leaves the controller address empty.
func newTestEnv(t *testing.T, withController bool) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)

	fake := &fakeWLED{}
	wcfg := wled.Config{MaxLEDs: 60, Timeout: time.Second}
	if withController {
		ts := httptest.NewServer(fake)
		t.Cleanup(ts.Close)
		wcfg.Address = ts.URL
	}
	controller := wled.NewClient(wcfg, nil)

	env := &testEnv{
		db:        db.DB,
		wled:      fake,
		locations: inventory.NewSQLiteRepository(db.DB),
		users:     auth.NewUserRepository(db.DB),
		audit:     audit.NewSQLiteRepository(db.DB),
	}

	notifier, err := notify.NewService(notify.Deps{
		Repo:       notify.NewSQLiteRepository(db.DB),
		Recipients: env.users,
		Roles:      []auth.Role{auth.RoleOwner, auth.RoleAdmin},
		Logger:     log,
	})
	if err != nil {
		t.Fatalf("notify.NewService: %v", err)
	}

	svc, err := locator.NewService(locator.Deps{
		Registry:    inventory.NewMetadataRegistry(env.locations),
		Illuminator: controller,
		Notifier:    notifier,
		Authorizer:  auth.PermissionAuthorizer{},
		MaxLEDs:     60,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("locator.NewService: %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:     log,
		Locator:    svc,
		Locations:  env.locations,
		Users:      env.users,
		Notify:     notifier,
		Audit:      env.audit,
		Controller: controller,
		DB:         db.DB,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	svc.AddSink(srv.Hub())

	env.srv = srv
	env.router = srv.buildRouter()
	env.owner, env.ownerToken = env.addUser(t, "owner", auth.RoleOwner)
	env.member, env.userToken = env.addUser(t, "picker", auth.RoleUser)
	return env
}

func (e *testEnv) addUser(t *testing.T, username string, role auth.Role) (*auth.User, string) {
	t.Helper()

	hash, err := auth.HashPassword("test-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := e.users.Create(t.Context(), u); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	token, err := auth.GenerateAccessToken(u, testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return u, token
}

func (e *testEnv) addLocation(t *testing.T, name string) *inventory.Location {
	t.Helper()
	loc := &inventory.Location{Name: name}
	if err := e.locations.Create(t.Context(), loc); err != nil {
		t.Fatalf("creating location %s: %v", name, err)
	}
	return loc
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return out
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, status, w.Body.String())
	}
}

func wantCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	wantStatus(t, w, status)
	if got := decode(t, w)["code"]; got != code {
		t.Errorf("code = %v, want %q", got, code)
	}
}

// ─── Health & Auth ─────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	wantStatus(t, w, http.StatusOK)

	resp := decode(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	ctrl, ok := resp["controller"].(map[string]any)
	if !ok {
		t.Fatalf("controller missing from %v", resp)
	}
	if ctrl["reachable"] != true || ctrl["name"] != "Shelf strip" || ctrl["led_count"] != float64(60) {
		t.Errorf("controller = %v", ctrl)
	}
}

func TestHealth_ControllerNotConfigured(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	wantStatus(t, w, http.StatusOK)

	ctrl, _ := decode(t, w)["controller"].(map[string]any)
	if ctrl["reachable"] != false {
		t.Errorf("controller = %v, want reachable false", ctrl)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/api/v1/metrics/prometheus", "", nil)
	wantStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected Prometheus text format in response")
	}
}

func TestPanel(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/panel", "", nil)
	wantStatus(t, w, http.StatusMovedPermanently)

	w = env.do(t, http.MethodGet, "/panel/", "", nil)
	wantStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Error("GET /panel/ did not serve the page")
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", nil)
	wantStatus(t, w, http.StatusOK)

	var m Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if m.Version == "" || m.Process.Goroutines == 0 {
		t.Errorf("snapshot = %+v", m)
	}
	if m.LEDs.Registered != 0 {
		t.Errorf("LEDs.Registered = %d, want 0", m.LEDs.Registered)
	}
	if m.MQTT.Enabled {
		t.Error("MQTT.Enabled = true without a client")
	}
	if m.Database == nil {
		t.Error("Database metrics missing")
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			wantCode(t, w, http.StatusUnauthorized, ErrCodeUnauthorized)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.GenerateAccessToken(env.owner, "another-secret-that-is-long-enough!!", 15)
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		w := env.do(t, http.MethodGet, "/api/v1/locations", token, nil)
		wantStatus(t, w, http.StatusUnauthorized)
	})
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("generated X-Request-ID missing from response")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "scan-gun-7")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "scan-gun-7" {
		t.Errorf("X-Request-ID = %q, want the client's value", got)
	}
}

func TestRecoverPanics(t *testing.T) {
	env := newTestEnv(t, true)
	h := env.srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	wantCode(t, w, http.StatusInternalServerError, ErrCodeInternal)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, true)

	t.Run("success", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "owner", "password": "test-password"})
		wantStatus(t, w, http.StatusOK)

		resp := decode(t, w)
		token, _ := resp["access_token"].(string)
		if token == "" || resp["token_type"] != "Bearer" {
			t.Fatalf("login response = %v", resp)
		}
		// The issued token opens protected routes.
		wantStatus(t, env.do(t, http.MethodGet, "/api/v1/locations", token, nil), http.StatusOK)
	})

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"wrong password", map[string]string{"username": "owner", "password": "nope-nope"}, http.StatusUnauthorized},
		{"unknown user", map[string]string{"username": "ghost", "password": "test-password"}, http.StatusUnauthorized},
		{"missing fields", map[string]string{"username": "owner"}, http.StatusBadRequest},
		{"bad json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, env.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body), tt.wantCode)
		})
	}

	t.Run("inactive", func(t *testing.T) {
		u, _ := env.addUser(t, "retired", auth.RoleUser)
		u.IsActive = false
		if err := env.users.Update(t.Context(), u); err != nil {
			t.Fatalf("Update: %v", err)
		}
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "retired", "password": "test-password"})
		wantStatus(t, w, http.StatusUnauthorized)
	})
}

// ─── LEDs ──────────────────────────────────────────────────────────

func TestRegisterAndLocate(t *testing.T) {
	env := newTestEnv(t, true)
	bin := env.addLocation(t, "Bin 1")

	w := env.do(t, http.MethodPost, "/api/v1/leds/register", env.ownerToken,
		map[string]any{"stocklocation": bin.ID, "led": 7})
	wantStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["led"] != float64(7) || resp["overwrote"] != false {
		t.Errorf("register response = %v", resp)
	}
	if !strings.Contains(resp["message"].(string), "Allocation registered") {
		t.Errorf("message = %v", resp["message"])
	}

	// Re-registering to a different LED reports the change.
	w = env.do(t, http.MethodPost, "/api/v1/leds/register/"+bin.ID+"/9", env.ownerToken, nil)
	wantStatus(t, w, http.StatusOK)
	resp = decode(t, w)
	if resp["overwrote"] != true || resp["message"] != "Location was registered to 7, changed to 9" {
		t.Errorf("overwrite response = %v", resp)
	}

	// Any authenticated user may locate.
	w = env.do(t, http.MethodPost, "/api/v1/locations/"+bin.ID+"/locate", env.userToken, nil)
	wantStatus(t, w, http.StatusOK)
	resp = decode(t, w)
	if resp["outcome"] != string(locator.OutcomeLocated) || resp["led"] != float64(9) {
		t.Errorf("locate response = %v", resp)
	}
	if got := env.wled.requests(); got != 2 {
		t.Errorf("controller requests = %d, want clear + mark", got)
	}
}

func TestRegister_Errors(t *testing.T) {
	env := newTestEnv(t, true)
	bin := env.addLocation(t, "Bin 1")

	tests := []struct {
		name       string
		token      string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"user role", env.userToken, map[string]any{"stocklocation": bin.ID, "led": "3"}, http.StatusForbidden, ErrCodeForbidden},
		{"not a number", env.ownerToken, map[string]any{"stocklocation": bin.ID, "led": "abc"}, http.StatusBadRequest, ErrCodeValidation},
		{"negative", env.ownerToken, map[string]any{"stocklocation": bin.ID, "led": -1}, http.StatusBadRequest, ErrCodeValidation},
		{"fraction", env.ownerToken, map[string]any{"stocklocation": bin.ID, "led": 2.5}, http.StatusBadRequest, ErrCodeValidation},
		{"missing led", env.ownerToken, map[string]any{"stocklocation": bin.ID}, http.StatusBadRequest, ErrCodeValidation},
		{"missing location", env.ownerToken, map[string]any{"led": 3}, http.StatusBadRequest, ErrCodeValidation},
		{"unknown location", env.ownerToken, map[string]any{"stocklocation": "loc-missing", "led": 3}, http.StatusNotFound, ErrCodeNotFound},
		{"led is an object", env.ownerToken, `{"stocklocation":"x","led":{}}`, http.StatusBadRequest, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/leds/register", tt.token, tt.body)
			wantCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}

	if got := env.wled.requests(); got != 0 {
		t.Errorf("controller requests = %d, want 0", got)
	}
}

func TestRegisterMetadata(t *testing.T) {
	env := newTestEnv(t, true)

	for _, method := range []string{http.MethodOptions, http.MethodGet} {
		t.Run(method, func(t *testing.T) {
			w := env.do(t, method, "/api/v1/leds/register", env.userToken, nil)
			wantStatus(t, w, http.StatusOK)

			actions, _ := decode(t, w)["actions"].(map[string]any)
			fields, _ := actions["POST"].([]any)
			if len(fields) != 2 || fields[0] != "stocklocation" || fields[1] != "led" {
				t.Errorf("actions = %v", actions)
			}
		})
	}

	t.Run("CORS preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/leds/register", nil)
		req.Header.Set("Origin", "http://panel.local")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		wantStatus(t, w, http.StatusNoContent)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})
}

func TestLocate_Unlocatable(t *testing.T) {
	env := newTestEnv(t, true)
	bin := env.addLocation(t, "Bin 2")

	tests := []struct {
		name string
		id   string
	}{
		{"no binding", bin.ID},
		{"missing location", "loc-gone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/locations/"+tt.id+"/locate", env.userToken, nil)
			wantStatus(t, w, http.StatusOK)
			if got := decode(t, w)["outcome"]; got != string(locator.OutcomeUnlocatable) {
				t.Errorf("outcome = %v, want unlocatable", got)
			}
		})
	}

	if got := env.wled.requests(); got != 0 {
		t.Errorf("controller requests = %d, want 0", got)
	}

	// The owner was told about both; the plain user was not.
	w := env.do(t, http.MethodGet, "/api/v1/notifications", env.ownerToken, nil)
	wantStatus(t, w, http.StatusOK)
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("owner notifications = %v, want 2", got)
	}
	w = env.do(t, http.MethodGet, "/api/v1/notifications", env.userToken, nil)
	if got := decode(t, w)["count"]; got != float64(0) {
		t.Errorf("user notifications = %v, want 0", got)
	}
}

func TestLocate_ControllerErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, false)
		bin := env.addLocation(t, "Bin 1")
		wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/register/"+bin.ID+"/3", env.ownerToken, nil), http.StatusOK)

		w := env.do(t, http.MethodPost, "/api/v1/locations/"+bin.ID+"/locate", env.userToken, nil)
		wantCode(t, w, http.StatusServiceUnavailable, ErrCodeControllerNotConfigured)
	})

	t.Run("unreachable", func(t *testing.T) {
		env := newTestEnv(t, true)
		bin := env.addLocation(t, "Bin 1")
		wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/register/"+bin.ID+"/3", env.ownerToken, nil), http.StatusOK)
		env.wled.setFail(true)

		w := env.do(t, http.MethodPost, "/api/v1/locations/"+bin.ID+"/locate", env.userToken, nil)
		wantCode(t, w, http.StatusBadGateway, ErrCodeControllerUnreachable)
	})

	t.Run("past the end of the strip", func(t *testing.T) {
		env := newTestEnv(t, true)
		bin := env.addLocation(t, "Bin 1")
		// Registration only warns; illumination refuses.
		wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/register/"+bin.ID+"/75", env.ownerToken, nil), http.StatusOK)

		w := env.do(t, http.MethodPost, "/api/v1/locations/"+bin.ID+"/locate", env.userToken, nil)
		wantCode(t, w, http.StatusServiceUnavailable, ErrCodeControllerNotConfigured)
		if got := env.wled.requests(); got != 0 {
			t.Errorf("controller requests = %d, want 0", got)
		}
	})
}

func TestLEDsOff(t *testing.T) {
	env := newTestEnv(t, true)

	wantCode(t, env.do(t, http.MethodPost, "/api/v1/leds/off", env.userToken, nil), http.StatusForbidden, ErrCodeForbidden)
	if got := env.wled.requests(); got != 0 {
		t.Fatalf("controller requests after forbidden off = %d", got)
	}

	w := env.do(t, http.MethodPost, "/api/v1/leds/off", env.ownerToken, nil)
	wantStatus(t, w, http.StatusOK)
	if got := env.wled.requests(); got != 1 {
		t.Errorf("controller requests = %d, want 1 clear", got)
	}
}

func TestUnregisterAndList(t *testing.T) {
	env := newTestEnv(t, true)
	a := env.addLocation(t, "Bin A")
	b := env.addLocation(t, "Bin B")

	for id, led := range map[string]string{a.ID: "1", b.ID: "2"} {
		wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/register/"+id+"/"+led, env.ownerToken, nil), http.StatusOK)
	}

	w := env.do(t, http.MethodGet, "/api/v1/leds", env.userToken, nil)
	wantStatus(t, w, http.StatusOK)
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Fatalf("registrations = %v, want 2", got)
	}

	wantCode(t, env.do(t, http.MethodPost, "/api/v1/leds/unregister/"+a.ID, env.userToken, nil), http.StatusForbidden, ErrCodeForbidden)

	// Unregistering twice succeeds both times.
	for range 2 {
		wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/unregister/"+a.ID, env.ownerToken, nil), http.StatusOK)
	}
	wantCode(t, env.do(t, http.MethodPost, "/api/v1/leds/unregister/loc-none", env.ownerToken, nil), http.StatusNotFound, ErrCodeNotFound)

	w = env.do(t, http.MethodGet, "/api/v1/leds", env.userToken, nil)
	resp := decode(t, w)
	regs, _ := resp["registrations"].([]any)
	if len(regs) != 1 {
		t.Fatalf("registrations = %v, want 1", regs)
	}
	if row, _ := regs[0].(map[string]any); row["id"] != b.ID || row["led"] != "2" {
		t.Errorf("row = %v", row)
	}
}

// ─── Locations, notifications, users, audit ────────────────────────

func TestLocations(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodPost, "/api/v1/locations", env.ownerToken, map[string]string{"name": "Shelf A"})
	wantStatus(t, w, http.StatusCreated)
	shelf := decode(t, w)
	shelfID, _ := shelf["id"].(string)

	w = env.do(t, http.MethodPost, "/api/v1/locations", env.ownerToken,
		map[string]string{"name": "Bin 1", "parent_id": shelfID})
	wantStatus(t, w, http.StatusCreated)
	if got := decode(t, w)["pathstring"]; got != "Shelf A/Bin 1" {
		t.Errorf("pathstring = %v", got)
	}

	wantCode(t, env.do(t, http.MethodPost, "/api/v1/locations", env.userToken, map[string]string{"name": "X"}),
		http.StatusForbidden, ErrCodeForbidden)
	wantCode(t, env.do(t, http.MethodPost, "/api/v1/locations", env.ownerToken, map[string]string{"name": "a/b"}),
		http.StatusBadRequest, ErrCodeValidation)
	wantCode(t, env.do(t, http.MethodPost, "/api/v1/locations", env.ownerToken,
		map[string]string{"name": "Orphan", "parent_id": "loc-nope"}), http.StatusBadRequest, ErrCodeValidation)

	w = env.do(t, http.MethodGet, "/api/v1/locations", env.userToken, nil)
	wantStatus(t, w, http.StatusOK)
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("count = %v, want 2", got)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/locations/"+shelfID, env.userToken, nil), http.StatusOK)
	wantCode(t, env.do(t, http.MethodGet, "/api/v1/locations/loc-nope", env.userToken, nil), http.StatusNotFound, ErrCodeNotFound)

	wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/register/"+shelfID+"/4", env.ownerToken, nil), http.StatusOK)
	w = env.do(t, http.MethodGet, "/api/v1/locations?has_led=true", env.userToken, nil)
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("has_led count = %v, want 1", got)
	}

	wantStatus(t, env.do(t, http.MethodDelete, "/api/v1/locations/"+shelfID, env.ownerToken, nil), http.StatusNoContent)
	wantStatus(t, env.do(t, http.MethodDelete, "/api/v1/locations/"+shelfID, env.ownerToken, nil), http.StatusNotFound)
}

func TestNotifications_MarkRead(t *testing.T) {
	env := newTestEnv(t, true)
	bin := env.addLocation(t, "Bin 9")
	wantStatus(t, env.do(t, http.MethodPost, "/api/v1/locations/"+bin.ID+"/locate", env.userToken, nil), http.StatusOK)

	w := env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", env.ownerToken, nil)
	notes, _ := decode(t, w)["notifications"].([]any)
	if len(notes) != 1 {
		t.Fatalf("unread = %v, want 1", notes)
	}
	note, _ := notes[0].(map[string]any)
	id, _ := note["id"].(string)
	if note["name"] != "No location for Bin 9" || note["target_id"] != bin.ID {
		t.Errorf("notification = %v", note)
	}

	// Someone else's notification looks missing.
	wantCode(t, env.do(t, http.MethodPost, "/api/v1/notifications/"+id+"/read", env.userToken, nil), http.StatusNotFound, ErrCodeNotFound)

	wantStatus(t, env.do(t, http.MethodPost, "/api/v1/notifications/"+id+"/read", env.ownerToken, nil), http.StatusOK)
	w = env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", env.ownerToken, nil)
	if got := decode(t, w)["count"]; got != float64(0) {
		t.Errorf("unread after mark = %v, want 0", got)
	}
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t, true)
	_, adminToken := env.addUser(t, "manager", auth.RoleAdmin)

	wantCode(t, env.do(t, http.MethodGet, "/api/v1/users", env.userToken, nil), http.StatusForbidden, ErrCodeForbidden)

	w := env.do(t, http.MethodGet, "/api/v1/users", adminToken, nil)
	wantStatus(t, w, http.StatusOK)
	if got := decode(t, w)["count"]; got != float64(3) {
		t.Errorf("users = %v, want 3", got)
	}

	tests := []struct {
		name       string
		token      string
		body       map[string]string
		wantStatus int
	}{
		{"admin creates user", adminToken, map[string]string{"username": "packer", "display_name": "Packer", "password": "long-enough"}, http.StatusCreated},
		{"duplicate", adminToken, map[string]string{"username": "packer", "display_name": "Packer", "password": "long-enough"}, http.StatusConflict},
		{"short password", adminToken, map[string]string{"username": "shorty", "display_name": "S", "password": "short"}, http.StatusBadRequest},
		{"bad role", adminToken, map[string]string{"username": "odd", "display_name": "O", "password": "long-enough", "role": "root"}, http.StatusBadRequest},
		{"admin cannot create owner", adminToken, map[string]string{"username": "boss", "display_name": "B", "password": "long-enough", "role": "owner"}, http.StatusForbidden},
		{"owner creates owner", env.ownerToken, map[string]string{"username": "boss", "display_name": "B", "password": "long-enough", "role": "owner"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, env.do(t, http.MethodPost, "/api/v1/users", tt.token, tt.body), tt.wantStatus)
		})
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/users/"+env.member.ID, adminToken, nil), http.StatusOK)
	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/users/usr-missing", adminToken, nil), http.StatusNotFound)
}

func TestUsers_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t, true)
	admin, adminToken := env.addUser(t, "manager", auth.RoleAdmin)
	path := "/api/v1/users/"

	w := env.do(t, http.MethodPatch, path+env.member.ID, adminToken,
		map[string]any{"display_name": "  Night Picker ", "role": "admin"})
	wantStatus(t, w, http.StatusOK)
	if got := decode(t, w); got["display_name"] != "Night Picker" || got["role"] != "admin" {
		t.Errorf("patched user = %v", got)
	}

	tests := []struct {
		name       string
		method     string
		target     string
		token      string
		body       any
		wantStatus int
	}{
		{"own role", http.MethodPatch, admin.ID, adminToken, map[string]any{"role": "user"}, http.StatusForbidden},
		{"deactivate self", http.MethodPatch, admin.ID, adminToken, map[string]any{"is_active": false}, http.StatusForbidden},
		{"admin edits owner", http.MethodPatch, env.owner.ID, adminToken, map[string]any{"display_name": "x"}, http.StatusForbidden},
		{"admin grants owner", http.MethodPatch, env.member.ID, adminToken, map[string]any{"role": "owner"}, http.StatusForbidden},
		{"bad role", http.MethodPatch, env.member.ID, adminToken, map[string]any{"role": "root"}, http.StatusBadRequest},
		{"blank name", http.MethodPatch, env.member.ID, adminToken, map[string]any{"display_name": " "}, http.StatusBadRequest},
		{"missing", http.MethodPatch, "usr-missing", adminToken, map[string]any{}, http.StatusNotFound},
		{"delete self", http.MethodDelete, admin.ID, adminToken, nil, http.StatusForbidden},
		{"admin deletes owner", http.MethodDelete, env.owner.ID, adminToken, nil, http.StatusForbidden},
		{"plain user", http.MethodDelete, admin.ID, env.userToken, nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, env.do(t, tt.method, path+tt.target, tt.token, tt.body), tt.wantStatus)
		})
	}

	wantStatus(t, env.do(t, http.MethodPatch, path+admin.ID, env.ownerToken, map[string]any{"is_active": false}), http.StatusOK)
	if u, err := env.users.GetByID(t.Context(), admin.ID); err != nil || u.IsActive {
		t.Errorf("after deactivate: %+v, %v", u, err)
	}

	wantStatus(t, env.do(t, http.MethodDelete, path+admin.ID, env.ownerToken, nil), http.StatusNoContent)
	wantStatus(t, env.do(t, http.MethodGet, path+admin.ID, env.ownerToken, nil), http.StatusNotFound)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, true)
	path := "/api/v1/auth/password"

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"missing", map[string]string{"new_password": "brand-new-pass"}, http.StatusBadRequest},
		{"too short", map[string]string{"current_password": "test-password", "new_password": "short"}, http.StatusBadRequest},
		{"wrong current", map[string]string{"current_password": "guess-again", "new_password": "brand-new-pass"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, env.do(t, http.MethodPost, path, env.userToken, tt.body), tt.wantStatus)
		})
	}

	wantStatus(t, env.do(t, http.MethodPost, path, env.userToken,
		map[string]string{"current_password": "test-password", "new_password": "brand-new-pass"}), http.StatusNoContent)

	login := func(pw string) int {
		return env.do(t, http.MethodPost, "/api/v1/auth/login", "",
			map[string]string{"username": "picker", "password": pw}).Code
	}
	if got := login("test-password"); got != http.StatusUnauthorized {
		t.Errorf("old password login = %d, want 401", got)
	}
	if got := login("brand-new-pass"); got != http.StatusOK {
		t.Errorf("new password login = %d, want 200", got)
	}
}

func TestLogin_UpgradesWeakHash(t *testing.T) {
	env := newTestEnv(t, true)

	// A hash made with cheaper settings than HashPassword uses.
	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("legacy-pass"), salt, 1, 1024, 1, 32)
	b64 := base64.RawStdEncoding
	weak := fmt.Sprintf("$argon2id$v=%d$m=1024,t=1,p=1$%s$%s", argon2.Version,
		b64.EncodeToString(salt), b64.EncodeToString(key))
	if !auth.NeedsRehash(weak) {
		t.Fatal("test hash should need a rehash")
	}
	if err := env.users.UpdatePassword(t.Context(), env.member.ID, weak); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "picker", "password": "legacy-pass"})
	wantStatus(t, w, http.StatusOK)

	u, err := env.users.GetByID(t.Context(), env.member.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.PasswordHash == weak || auth.NeedsRehash(u.PasswordHash) {
		t.Errorf("hash not upgraded: %s", u.PasswordHash)
	}
	if ok, _ := auth.VerifyPassword("legacy-pass", u.PasswordHash); !ok {
		t.Error("upgraded hash does not verify")
	}
}

func TestListAuditLogs(t *testing.T) {
	env := newTestEnv(t, true)

	if err := env.audit.Create(t.Context(), &audit.Entry{
		Action:     audit.ActionRegister,
		EntityType: audit.EntityLocation,
		EntityID:   "loc-1",
		Source:     audit.SourceLocator,
	}); err != nil {
		t.Fatalf("audit Create: %v", err)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/audit", env.userToken, nil), http.StatusForbidden)

	w := env.do(t, http.MethodGet, "/api/v1/audit?action=register&limit=10", env.ownerToken, nil)
	wantStatus(t, w, http.StatusOK)
	if got := decode(t, w)["total"]; got != float64(1) {
		t.Errorf("total = %v, want 1", got)
	}
}

func TestListAuditLogs_BadQuery(t *testing.T) {
	env := newTestEnv(t, true)

	for _, q := range []string{"limit=ten", "offset=-x", "since=yesterday"} {
		w := env.do(t, http.MethodGet, "/api/v1/audit?"+q, env.ownerToken, nil)
		wantStatus(t, w, http.StatusBadRequest)
	}
}

func TestAuditQueue_FlushesOnShutdown(t *testing.T) {
	env := newTestEnv(t, true)
	q := newAuditQueue(env.audit, logging.Default())

	for _, id := range []string{"usr-1", "usr-2", "usr-3"} {
		q.enqueue(&audit.Entry{Action: "login", EntityType: "user", EntityID: id, UserID: id, Source: "api"})
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	q.run(ctx)

	page, err := env.audit.List(t.Context(), audit.Filter{Action: "login"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestWebSocket_RelaysLocatorEvents(t *testing.T) {
	env := newTestEnv(t, true)
	bin := env.addLocation(t, "Bin 5")
	wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/register/"+bin.ID+"/5", env.ownerToken, nil), http.StatusOK)

	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", env.userToken, nil)
	wantStatus(t, w, http.StatusOK)
	ticket, _ := decode(t, w)["ticket"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	sub := Frame{Type: FrameSubscribe, ID: "1", Payload: Channels{Channels: []string{string(locator.EventLocated)}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != FrameAck || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	wantStatus(t, env.do(t, http.MethodPost, "/api/v1/locations/"+bin.ID+"/locate", env.userToken, nil), http.StatusOK)

	var ev Frame
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.Type != FrameEvent || ev.EventType != string(locator.EventLocated) {
		t.Fatalf("event = %+v", ev)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["location_id"] != bin.ID || payload["led"] != float64(5) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Frames(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", env.ownerToken, nil)
	ticket, _ := decode(t, w)["ticket"].(string)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	roundTrip := func(out any) Frame {
		t.Helper()
		if err := conn.WriteJSON(out); err != nil {
			t.Fatalf("write: %v", err)
		}
		var in Frame
		if err := conn.ReadJSON(&in); err != nil {
			t.Fatalf("read: %v", err)
		}
		return in
	}

	if f := roundTrip(Frame{Type: FramePing, ID: "p1"}); f.Type != FramePong || f.ID != "p1" {
		t.Errorf("ping reply = %+v", f)
	}
	if f := roundTrip(Frame{Type: "shout", ID: "x"}); f.Type != FrameError {
		t.Errorf("unknown type reply = %+v", f)
	}
	if f := roundTrip(Frame{Type: FrameSubscribe, ID: "s"}); f.Type != FrameError {
		t.Errorf("subscribe without channels = %+v", f)
	}
	if f := roundTrip(Frame{Type: FrameSubscribe, ID: "s2", Payload: Channels{Channels: []string{AllEvents}}}); f.Type != FrameAck {
		t.Errorf("wildcard subscribe = %+v", f)
	}

	// The wildcard receives event types it never named.
	wantStatus(t, env.do(t, http.MethodPost, "/api/v1/leds/off", env.ownerToken, nil), http.StatusOK)
	var ev Frame
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.EventType != string(locator.EventOff) {
		t.Errorf("event = %+v, want %s", ev, locator.EventOff)
	}

	f := roundTrip(Frame{Type: FrameUnsubscribe, ID: "u", Payload: Channels{Channels: []string{AllEvents}}})
	if p, _ := f.Payload.(map[string]any); f.Type != FrameAck || p["unsubscribed"] == nil {
		t.Errorf("unsubscribe reply = %+v", f)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t, true)

	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/ws", "", nil), http.StatusUnauthorized)
	wantStatus(t, env.do(t, http.MethodGet, "/api/v1/ws?ticket=bogus", "", nil), http.StatusUnauthorized)

	// Tickets are single use.
	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", env.userToken, nil)
	ticket, _ := decode(t, w)["ticket"].(string)
	p, ok := env.srv.tickets.redeem(ticket, time.Now())
	if !ok || p.UserID != env.member.ID {
		t.Fatalf("fresh ticket: principal %+v ok %v", p, ok)
	}
	if _, ok := env.srv.tickets.redeem(ticket, time.Now()); ok {
		t.Error("ticket accepted twice")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	ts := newTicketStore()
	now := time.Now()
	p := auth.Principal{UserID: "usr-1", Role: auth.RoleUser}

	stale := ts.issue(p, now.Add(-2*ticketTTL))
	fresh := ts.issue(p, now)
	ts.sweep(now)
	if n := ts.len(); n != 1 {
		t.Fatalf("after sweep len = %d, want 1", n)
	}
	if _, ok := ts.redeem(stale, now); ok {
		t.Error("expired ticket redeemed")
	}
	if _, ok := ts.redeem(fresh, now.Add(ticketTTL)); ok {
		t.Error("ticket redeemed at its expiry instant")
	}
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"12"`, "12", false},
		{`12`, "12", false},
		{`2.5`, "2.5", false},
		{`-3`, "-3", false},
		{`true`, "", true},
		{`[1]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var f flexString
			err := json.Unmarshal([]byte(tt.in), &f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(f) != tt.want {
				t.Errorf("got %q, want %q", f, tt.want)
			}
		})
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, true)
	if env.srv.Addr() != nil {
		t.Fatal("Addr() before Start should be nil")
	}
	if err := env.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := http.Get("http://" + env.srv.Addr().String() + "/api/v1/health"); err == nil {
		t.Error("server still answering after Close")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	env := newTestEnv(t, false)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// Entries queued by requests that complete during shutdown are on disk by
// the time Close returns.
func TestServer_CloseFlushesAudit(t *testing.T) {
	env := newTestEnv(t, true)
	if err := env.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	body := strings.NewReader(`{"username":"picker","password":"test-password"}`)
	resp, err := http.Post("http://"+env.srv.Addr().String()+"/api/v1/auth/login", "application/json", body)
	if err != nil {
		t.Fatalf("POST /auth/login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	page, err := env.audit.List(t.Context(), audit.Filter{Action: "login"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("login audit rows after Close = %d, want 1", page.Total)
	}
}
