package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// activeQueuesChannel is the Postgres NOTIFY channel workers announce newly
// active per-tenant queue names on, so other worker processes attach
// dynamically without restart (§4.9).
const activeQueuesChannel = "voiceci_active_queues"

// reconnectDelay bounds how long the listener backs off after a dropped
// LISTEN connection before retrying.
const reconnectDelay = 2 * time.Second

// QueueAnnouncer publishes a NOTIFY each time a run is enqueued for a
// tenant, and a Listener elsewhere picks it up to attach a worker.
type QueueAnnouncer struct {
	db *sql.DB
}

// NewQueueAnnouncer builds a QueueAnnouncer over db.
func NewQueueAnnouncer(db *sql.DB) *QueueAnnouncer {
	return &QueueAnnouncer{db: db}
}

// Announce publishes queueName on the shared active-queues channel.
func (a *QueueAnnouncer) Announce(ctx context.Context, queueName string) error {
	_, err := a.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", activeQueuesChannel, queueName)
	if err != nil {
		return fmt.Errorf("events: announce queue %q: %w", queueName, err)
	}
	return nil
}

// Listener maintains a dedicated LISTEN connection and invokes a callback
// for every newly announced queue name, reconnecting on drop (§4.9),
// grounded on the teacher's pkg/events/listener.go NotifyListener.
type Listener struct {
	connString string
	logger     *slog.Logger

	mu       sync.Mutex
	onQueue  func(queueName string)
	stopped  bool
}

// NewListener builds a Listener dialing connString directly (LISTEN
// requires a dedicated connection, not a pool).
func NewListener(connString string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{connString: connString, logger: logger}
}

// OnActiveQueue registers the callback invoked for each announced queue
// name. Must be called before Run.
func (l *Listener) OnActiveQueue(fn func(queueName string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onQueue = fn
}

// Run blocks, listening for announcements until ctx is cancelled,
// reconnecting transparently on a dropped connection.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.listenOnce(ctx); err != nil {
			l.logger.Warn("events: listener connection dropped, reconnecting", "error", err)
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("events: listener connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{activeQueuesChannel}.Sanitize())); err != nil {
		return fmt.Errorf("events: LISTEN %s: %w", activeQueuesChannel, err)
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.mu.Lock()
		cb := l.onQueue
		l.mu.Unlock()
		if cb != nil {
			cb(notification.Payload)
		}
	}
}
