// Package applier pushes engine selections to the media platform.
//
// The wire surface is deliberately tiny: one POST carrying the full selection
// value. The platform treats every call as a complete replacement of its
// substitution field, which is what makes blind retries safe.
package applier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rotarr/internal/engine"
	"rotarr/pkg/logx"
)

// Config configures the HTTP applier.
type Config struct {
	Endpoint string        // POST target, e.g. http://media-host:8080/api/substitution
	APIKey   string        // sent as X-Api-Key when non-empty
	Timeout  time.Duration // per-call timeout; 0 means default
}

const defaultTimeout = 10 * time.Second

// HTTP posts selections to a media platform endpoint.
type HTTP struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) (*HTTP, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("applier endpoint is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTP{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

func (h *HTTP) Apply(ctx context.Context, sel engine.Selection) error {
	b, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", h.cfg.APIKey)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("apply selection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("apply selection: http=%d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("apply selection: http=%d", resp.StatusCode)
	}

	h.log.Debug("selection applied",
		logx.String("kind", string(sel.Kind)),
		logx.Int("items", len(sel.Items)))
	return nil
}

// Log records selections without touching any platform. Used for dry runs.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Apply(_ context.Context, sel engine.Selection) error {
	ids := make([]string, 0, len(sel.Items))
	for _, it := range sel.Items {
		ids = append(ids, it.ID)
	}
	l.log.Info("dry-run selection",
		logx.String("kind", string(sel.Kind)),
		logx.String("mode", string(sel.Mode)),
		logx.Any("items", ids))
	return nil
}
