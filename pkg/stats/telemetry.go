package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ethan/sfu-client/pkg/logger"
)

// ErrTelemetryInactive is returned by Send while no collector is connected
var ErrTelemetryInactive = errors.New("telemetry connection not active")

const (
	DefaultReconnectDelay = 10 * time.Second
	DefaultRate           = rate.Limit(10)

	telemetryWriteTimeout = 5 * time.Second
)

// TelemetryOptions configures a Telemetry sink
type TelemetryOptions struct {
	// ReconnectDelay is the fixed wait between connection attempts
	ReconnectDelay time.Duration
	// Rate bounds sends per second, bursts of one
	Rate   rate.Limit
	Logger *logger.Logger
}

// Telemetry ships reports to a collector over a WebSocket
type Telemetry struct {
	url            string
	reconnectDelay time.Duration
	limiter        *rate.Limiter
	log            *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	dropped uint64
}

// NewTelemetry creates a sink for the collector at url (ws://host:port)
func NewTelemetry(url string, opts TelemetryOptions) *Telemetry {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Telemetry{
		url:            url,
		reconnectDelay: opts.ReconnectDelay,
		limiter:        rate.NewLimiter(opts.Rate, 1),
		log:            log.With("component", "telemetry", "url", url),
	}
}

// Run keeps a connection to the collector until ctx is done
func (t *Telemetry) Run(ctx context.Context) {
	for {
		if err := t.connectAndServe(ctx); err != nil && ctx.Err() == nil {
			t.log.Error("telemetry error", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.reconnectDelay):
		}
	}
}

func (t *Telemetry) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial collector: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.log.Info("telemetry connection established")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
		t.log.Info("telemetry connection closed")
	}()

	// the collector never sends anything we act on
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read collector: %w", err)
		}
	}
}

// Active reports whether a collector is connected
func (t *Telemetry) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes {"reports": reports} to the collector. Sends above the
// configured rate are dropped.
func (t *Telemetry) Send(reports []Report) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrTelemetryInactive
	}
	if !t.limiter.Allow() {
		t.dropped++
		t.log.DebugStats("telemetry rate limited", "dropped", t.dropped)
		return nil
	}

	payload, err := json.Marshal(struct {
		Reports []Report `json:"reports"`
	}{Reports: reports})
	if err != nil {
		return fmt.Errorf("marshal reports: %w", err)
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(telemetryWriteTimeout)); err != nil {
		return err
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send reports: %w", err)
	}

	t.log.DebugStats("sent reports", "count", len(reports), "bytes", len(payload))
	return nil
}
