package postgres

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/placevisits/internal/domain"
)

// Listener forwards place_visits_changed notifications, including those raised by
// other processes sharing the database, to a change notifier.
type Listener struct {
	pool       *pgxpool.Pool
	target     domain.ChangeNotifier
	retryDelay time.Duration
	logger     *log.Logger
}

// NewListener constructs a Listener.
func NewListener(pool *pgxpool.Pool, target domain.ChangeNotifier, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.New(log.Writer(), "[pg-listener] ", log.LstdFlags|log.Lshortfile)
	}
	return &Listener{pool: pool, target: target, retryDelay: 2 * time.Second, logger: logger}
}

// Run blocks until ctx is cancelled, reconnecting after connection failures.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Printf("listen error, retrying in %s: %v", l.retryDelay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// LISTEN state must not leak back into the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	// A reconnect may have missed notifications.
	l.target.Invalidate()

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		l.target.Invalidate()
	}
}
