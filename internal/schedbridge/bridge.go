// Package schedbridge carries outbound signals to the external step
// scheduler: enqueue notifications and advisory drain hints over a
// WebSocket connection, plus the cron-driven requeue sweep.
package schedbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// calculateBackoff returns the delay for a given attempt number using exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// writeWait is time allowed to write a message to the scheduler
const writeWait = 10 * time.Second

// Message is the wire format sent to the scheduler.
type Message struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Bridge maintains a connection to the external scheduler. All sends are
// best-effort: a failed write drops the connection and the next send redials.
type Bridge struct {
	url    string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	attempts int
}

// New creates a Bridge for the given scheduler WebSocket URL.
func New(url string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{url: url, logger: logger}
}

// SignalDrain hints the scheduler to attempt dispatch of at least limit
// pending tasks soon.
func (b *Bridge) SignalDrain(ctx context.Context, limit int) error {
	return b.send(ctx, Message{Type: "drain_hint", Limit: limit})
}

// NotifyEnqueued tells the scheduler a new task id is pending.
func (b *Bridge) NotifyEnqueued(ctx context.Context, taskID string) error {
	return b.send(ctx, Message{Type: "task_enqueued", TaskID: taskID})
}

func (b *Bridge) send(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		if err := b.dialLocked(ctx); err != nil {
			return err
		}
	}

	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.conn.WriteJSON(msg); err != nil {
		// Drop the connection; the next send redials
		b.conn.Close()
		b.conn = nil
		return fmt.Errorf("write to scheduler: %w", err)
	}
	return nil
}

func (b *Bridge) dialLocked(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		delay := calculateBackoff(b.attempts)
		b.attempts++
		return fmt.Errorf("dial scheduler (next retry after %v): %w", delay, err)
	}
	b.attempts = 0
	b.conn = conn
	b.logger.Info("connected to scheduler", "url", b.url)
	return nil
}

// Close shuts the bridge down.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	b.conn.Close()
	b.conn = nil
	return err
}
