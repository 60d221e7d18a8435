package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/placevisits/internal/domain"
	"example.com/placevisits/internal/observability"
	"example.com/placevisits/pkg/events"
)

// ChangeChannel is the NOTIFY channel raised on every visit mutation.
const ChangeChannel = "place_visits_changed"

const visitColumns = `event_key, seq, place_name, kind, ts_millis, COALESCE(place_id, ''), COALESCE(visit_id, ''), source, dwell_millis, recorded_at`

// Repository provides Postgres-backed persistence for visits, outbox events and
// the capture preference.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert writes the visit under its key and records the outbox event inside a single
// transaction. An exact replay overwrites the row and does not add a second outbox entry.
func (r *Repository) Upsert(ctx context.Context, event domain.PlaceVisitEvent) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	now := r.now()
	const upsert = `INSERT INTO place_visits (event_key, place_name, kind, ts_millis, place_id, visit_id, source, dwell_millis, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (event_key) DO UPDATE SET
            place_name = EXCLUDED.place_name,
            kind = EXCLUDED.kind,
            ts_millis = EXCLUDED.ts_millis,
            place_id = EXCLUDED.place_id,
            visit_id = EXCLUDED.visit_id,
            source = EXCLUDED.source,
            dwell_millis = EXCLUDED.dwell_millis,
            recorded_at = EXCLUDED.recorded_at`

	_, err = tx.Exec(ctx, upsert,
		event.ID,
		event.PlaceName,
		string(event.Kind),
		event.Timestamp,
		nullIfEmpty(event.PlaceID),
		nullIfEmpty(event.VisitID),
		string(event.Source),
		event.DwellMillis,
		now,
	)
	if err != nil {
		return rejection(err)
	}

	if err = insertOutbox(ctx, tx, events.PlaceVisitRecordedType, event.ID, event.PlaceName, event.ID, events.PlaceVisitRecorded{
		EventID:     event.ID,
		PlaceName:   event.PlaceName,
		PlaceID:     event.PlaceID,
		VisitID:     event.VisitID,
		Kind:        string(event.Kind),
		Source:      string(event.Source),
		Timestamp:   event.Time(),
		DwellMillis: event.DwellMillis,
	}); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", ChangeChannel, event.ID); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordVisitPersisted(now)
	return nil
}

// QueryAll returns every visit in display order.
func (r *Repository) QueryAll(ctx context.Context) ([]domain.StoredVisit, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+visitColumns+` FROM place_visits ORDER BY ts_millis DESC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.StoredVisit, 0)
	for rows.Next() {
		sv, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sv)
	}
	return results, rows.Err()
}

// List returns one page of visits in display order.
func (r *Repository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.StoredVisit, *domain.Cursor, error) {
	args := []interface{}{limit}
	query := `SELECT ` + visitColumns + ` FROM place_visits`

	if cursor != nil {
		query += ` WHERE ts_millis < $2 OR (ts_millis = $2 AND seq > $3)`
		args = append(args, cursor.Timestamp, cursor.Seq)
	}
	query += ` ORDER BY ts_millis DESC, seq ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.StoredVisit, 0, limit)
	for rows.Next() {
		sv, err := scanVisit(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{Timestamp: last.Timestamp, Seq: last.Seq}
	}
	return results, next, nil
}

// DeleteAll removes every visit and records a cleared event.
func (r *Repository) DeleteAll(ctx context.Context) (removed int64, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM place_visits`)
	if err != nil {
		return 0, err
	}
	removed = tag.RowsAffected()

	// cleared events must be able to emit again when re-recorded
	if _, err = tx.Exec(ctx, `UPDATE outbox SET dedupe_key = NULL WHERE event_type = $1 AND dedupe_key IS NOT NULL`,
		events.PlaceVisitRecordedType); err != nil {
		return 0, err
	}

	now := r.now()
	clearID := uuid.NewString()
	if err = insertOutbox(ctx, tx, events.PlaceVisitsClearedType, clearID, "all", clearID, events.PlaceVisitsCleared{
		ClearID:   clearID,
		Removed:   removed,
		ClearedAt: now,
	}); err != nil {
		return 0, err
	}

	if _, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", ChangeChannel, "cleared"); err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	observability.RecordVisitsCleared(now)
	return removed, nil
}

// LoadCaptureEnabled returns the persisted capture preference, false when never saved.
func (r *Repository) LoadCaptureEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `SELECT enabled FROM capture_state WHERE singleton`).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return enabled, err
}

// SaveCaptureEnabled persists the capture preference.
func (r *Repository) SaveCaptureEnabled(ctx context.Context, enabled bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO capture_state (singleton, enabled, updated_at) VALUES (TRUE, $1, $2)
         ON CONFLICT (singleton) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`,
		enabled, r.now())
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, aggregateID, partitionKey, dedupeID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		"place_visit",
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		fmt.Sprintf("%s:%s", dedupeID, eventType),
	)
	return err
}

func scanVisit(rows pgx.Rows) (domain.StoredVisit, error) {
	var (
		sv     domain.StoredVisit
		kind   string
		source string
	)
	if err := rows.Scan(&sv.ID, &sv.Seq, &sv.PlaceName, &kind, &sv.Timestamp, &sv.PlaceID, &sv.VisitID, &source, &sv.DwellMillis, &sv.RecordedAt); err != nil {
		return domain.StoredVisit{}, err
	}
	sv.Kind = domain.VisitKind(kind)
	sv.Source = domain.CrossingSource(source)
	return sv, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.PlaceVisitRecordedType: {
		Topic:         "place_visit_events",
		SchemaSubject: "place_visit_events-PlaceVisitRecorded",
	},
	events.PlaceVisitsClearedType: {
		Topic:         "place_visit_events",
		SchemaSubject: "place_visit_events-PlaceVisitsCleared",
	},
}

const checkViolation = "23514"

// rejection tags constraint violations so callers can tell them from outages.
func rejection(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
		return fmt.Errorf("%w: %v", domain.ErrRejected, err)
	}
	return err
}
