package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"velgo-hub/client-core/internal/netretry"
)

// ChangeEvent is one row change pushed by the backend's change feed.
type ChangeEvent struct {
	Table  string         `json:"table"`
	Type   string         `json:"type"`
	Record map[string]any `json:"record"`
}

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
)

// Subscription selects a table, an event type and an equality filter on a
// foreign-key column, scoped server-side.
type Subscription struct {
	Table        string `json:"table"`
	Event        string `json:"event"`
	FilterColumn string `json:"filter_column"`
	FilterValue  string `json:"filter_value"`
}

type frame struct {
	Type   string         `json:"type"`
	Table  string         `json:"table,omitempty"`
	Event  string         `json:"event,omitempty"`
	Filter string         `json:"filter,omitempty"`
	Record map[string]any `json:"record,omitempty"`
}

type Config struct {
	URL     string
	AnonKey string

	Heartbeat   time.Duration
	RetryPolicy netretry.Policy

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

type Feed struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewFeed(cfg Config) *Feed {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = netretry.Policy{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Factor:      2.0,
			JitterRatio: 0.2,
		}
	}
	return &Feed{cfg: cfg, dialer: dialer, logger: logger}
}

// Listener is one live subscription set. Close is synchronous: when it
// returns, the handler will not be invoked again, so a new listener for a
// different user can be attached without duplicate delivery.
type Listener struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *websocket.Conn
}

// Subscribe dials the feed and starts dispatching matching change events to
// handler. accessToken authenticates the dial as the signed-in user; the
// feed itself is long-lived while tokens rotate per session, so the token
// travels with each subscription rather than the feed config. The handler
// runs on the listener goroutine; consumers are expected to hand events off
// to their own loop.
func (f *Feed) Subscribe(ctx context.Context, accessToken string, subs []Subscription, handler func(ChangeEvent)) (*Listener, error) {
	runCtx, cancel := context.WithCancel(ctx)
	l := &Listener{cancel: cancel}

	conn, err := f.connect(runCtx, accessToken, subs)
	if err != nil {
		cancel()
		return nil, err
	}
	l.setConn(conn)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		f.run(runCtx, l, accessToken, subs, handler)
	}()
	return l, nil
}

func (l *Listener) Close() {
	l.cancel()
	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Listener) setConn(conn *websocket.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (f *Feed) connect(ctx context.Context, accessToken string, subs []Subscription) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := netretry.Do(ctx, f.cfg.RetryPolicy, func(ctx context.Context) error {
		header := http.Header{}
		if f.cfg.AnonKey != "" {
			header.Set("apikey", f.cfg.AnonKey)
		}
		if accessToken != "" {
			header.Set("Authorization", "Bearer "+accessToken)
		}
		dialed, resp, err := f.dialer.DialContext(ctx, f.cfg.URL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return err
		}
		for _, sub := range subs {
			msg := frame{
				Type:   "subscribe",
				Table:  sub.Table,
				Event:  sub.Event,
				Filter: fmt.Sprintf("%s=eq.%s", sub.FilterColumn, sub.FilterValue),
			}
			if err := dialed.WriteJSON(msg); err != nil {
				_ = dialed.Close()
				return err
			}
		}
		conn = dialed
		return nil
	})
	return conn, err
}

func (f *Feed) run(ctx context.Context, l *Listener, accessToken string, subs []Subscription, handler func(ChangeEvent)) {
	heartbeat := time.NewTicker(f.cfg.Heartbeat)
	defer heartbeat.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-heartbeat.C:
				l.mu.Lock()
				conn := l.conn
				l.mu.Unlock()
				if conn != nil {
					_ = conn.WriteJSON(frame{Type: "heartbeat"})
				}
			}
		}
	}()

	for {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			return
		}

		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("change feed read failed, reconnecting", "error", err.Error())
			replacement, dialErr := f.connect(ctx, accessToken, subs)
			if dialErr != nil {
				f.logger.Warn("change feed reconnect failed", "error", dialErr.Error())
				return
			}
			l.setConn(replacement)
			continue
		}

		var parsed frame
		if err := json.Unmarshal(msg, &parsed); err != nil {
			continue
		}
		if parsed.Type != "change" {
			continue
		}
		handler(ChangeEvent{
			Table:  parsed.Table,
			Type:   parsed.Event,
			Record: parsed.Record,
		})
	}
}
