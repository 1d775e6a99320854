package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/tripbook/internal/kv"
	"github.com/starford/tripbook/internal/sse"
)

func testHandler(t *testing.T, backend kv.Backend) http.Handler {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Images.Dir = t.TempDir()
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	store := newStore(cfg, backend, nil, nil)
	return newRouter(cfg, backend, store, broker, nil)
}

func TestRouter_Health(t *testing.T) {
	h := testHandler(t, kv.NewMemory())
	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}
}

type downBackend struct{ kv.Backend }

func (downBackend) Keys(context.Context, string) ([]string, error) {
	return nil, errors.New("disk gone")
}

func TestRouter_ReadyReportsBackendFailure(t *testing.T) {
	h := testHandler(t, downBackend{kv.NewMemory()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d, want 503", w.Code)
	}
}

func TestRouter_APIMounted(t *testing.T) {
	h := testHandler(t, kv.NewMemory())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/trips", strings.NewReader(`{"fields":{"title":"x"}}`)))
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, loc, nil))
	if w.Code != http.StatusOK {
		t.Errorf("get %s = %d", loc, w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/missing.png", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing image = %d, want 404", w.Code)
	}
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()
	cases := []StoreConfig{
		{Backend: BackendFS, Path: filepath.Join(dir, "trips")},
		{Backend: BackendSQLite, Path: filepath.Join(dir, "db", "trips.db")},
		{Backend: BackendMemory},
	}
	for _, cfg := range cases {
		t.Run(cfg.Backend, func(t *testing.T) {
			b, err := openBackend(cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer b.Close()
			ctx := context.Background()
			if err := b.Set(ctx, "trip_a", []byte(`{}`)); err != nil {
				t.Fatalf("set: %v", err)
			}
			keys, err := b.Keys(ctx, "trip_")
			if err != nil || len(keys) != 1 {
				t.Errorf("keys = %v, %v", keys, err)
			}
		})
	}

	if _, err := openBackend(StoreConfig{Backend: "redis"}); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Error("Run without config should fail")
	}
	if err := RunMCP(context.Background()); err == nil {
		t.Error("RunMCP without config should fail")
	}
}
