package applier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rotarr/internal/engine"
	"rotarr/pkg/logx"
)

func TestHTTPApply(t *testing.T) {
	t.Parallel()

	var (
		gotBody atomic.Value
		gotKey  atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		gotKey.Store(r.Header.Get("X-Api-Key"))
		b, _ := io.ReadAll(r.Body)
		gotBody.Store(string(b))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := NewHTTP(Config{Endpoint: srv.URL, APIKey: "secret"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	sel := engine.Selection{
		Kind:  engine.SelectionApply,
		Items: []engine.ContentRef{{ID: "m1", Title: "Alien"}, {ID: "m2"}},
		Mode:  engine.ModeRandom,
	}
	if err := h.Apply(context.Background(), sel); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if gotKey.Load() != "secret" {
		t.Errorf("api key header = %v", gotKey.Load())
	}

	var decoded engine.Selection
	if err := json.Unmarshal([]byte(gotBody.Load().(string)), &decoded); err != nil {
		t.Fatalf("decode posted body: %v", err)
	}
	if decoded.Kind != sel.Kind || decoded.Mode != sel.Mode || len(decoded.Items) != 2 {
		t.Errorf("posted selection = %+v, want %+v", decoded, sel)
	}
}

func TestHTTPApplyErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "substitution locked", http.StatusConflict)
	}))
	defer srv.Close()

	h, err := NewHTTP(Config{Endpoint: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	err = h.Apply(context.Background(), engine.Clear())
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "substitution locked") {
		t.Errorf("error = %v, want status and body echoed", err)
	}
}

func TestHTTPApplyContextCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	h, err := NewHTTP(Config{Endpoint: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.Apply(ctx, engine.Noop()); err == nil {
		t.Fatal("expected error when context deadline passes")
	}
}

func TestNewHTTPRequiresEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := NewHTTP(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestLogApplierNeverFails(t *testing.T) {
	t.Parallel()
	l := NewLog(logx.Logger{})
	if err := l.Apply(context.Background(), engine.Selection{
		Kind:  engine.SelectionApply,
		Items: []engine.ContentRef{{ID: "x"}},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}
