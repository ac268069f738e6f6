package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rotarr/internal/config"
	"rotarr/internal/engine"
	"rotarr/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rotarr.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
		"logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}},
		"storage": {"driver": "memory", "path": ""},
		"applier": {"dry_run": true, "endpoint": ""}
	}`)

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the first engine tick happen.
	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsMissingEndpoint(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
		"logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}},
		"storage": {"driver": "memory", "path": ""},
		"applier": {"dry_run": false, "endpoint": ""}
	}`)
	if _, err := New(path); err == nil {
		t.Fatal("expected error: http applier without endpoint")
	}
}

func TestMapStoreConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		want    store.Config
		wantErr bool
	}{
		{
			name: "memory",
			in:   config.StorageConfig{Driver: "memory"},
			want: store.Config{Driver: "memory"},
		},
		{
			name: "sqlite with busy timeout",
			in:   config.StorageConfig{Driver: "sqlite", Path: "/tmp/r.db", BusyTimeout: "3s"},
			want: store.Config{Driver: "sqlite", Path: "/tmp/r.db", BusyTimeout: 3 * time.Second},
		},
		{
			name: "sqlite defaults busy timeout",
			in:   config.StorageConfig{Driver: "", Path: "/tmp/r.db"},
			want: store.Config{Driver: "", Path: "/tmp/r.db", BusyTimeout: time.Second},
		},
		{
			name:    "sqlite requires path",
			in:      config.StorageConfig{Driver: "sqlite"},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			in:      config.StorageConfig{Driver: "postgres"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStoreConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()
	got, err := mapEngineConfig(&config.Config{
		Engine: config.EngineConfig{ApplyTimeout: "20s", FailureLogEvery: "1m"},
	})
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	want := engine.Config{ApplyTimeout: 20 * time.Second, FailureLogEvery: time.Minute}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := mapEngineConfig(&config.Config{
		Engine: config.EngineConfig{ApplyTimeout: "soon"},
	}); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
