package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
)

var recordsTracer = otel.Tracer("bookwidget.internal.booking.records")

// DB is the subset of pgxpool.Pool the ledger needs. pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is one confirmed appointment in the local ledger.
type Record struct {
	ID             uuid.UUID
	ClientID       string
	ClientEmail    string
	SessionTypeID  int
	ServiceName    string
	StaffID        *int
	StartTime      time.Time
	ConfirmationID int
	CreatedAt      time.Time
}

// Records persists confirmed bookings. The ledger is informational; the
// upstream API remains the source of truth.
type Records struct {
	db DB
}

// NewRecords creates a booking ledger backed by a pgx pool.
func NewRecords(db DB) *Records {
	if db == nil {
		panic("booking: db required")
	}
	return &Records{db: db}
}

// Insert stores one confirmed booking row.
func (r *Records) Insert(ctx context.Context, rec Record) error {
	ctx, span := recordsTracer.Start(ctx, "booking.records.insert")
	defer span.End()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_records (
			id, client_id, client_email, session_type_id, service_name,
			staff_id, start_time, confirmation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.ClientID, rec.ClientEmail, rec.SessionTypeID, rec.ServiceName,
		rec.StaffID, rec.StartTime, rec.ConfirmationID, rec.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("booking: insert record: %w", err)
	}
	return nil
}

// ListByClient returns a client's confirmed bookings, most recent first.
func (r *Records) ListByClient(ctx context.Context, clientID string) ([]Record, error) {
	ctx, span := recordsTracer.Start(ctx, "booking.records.list_by_client")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT id, client_id, client_email, session_type_id, service_name,
		       staff_id, start_time, confirmation_id, created_at
		FROM booking_records
		WHERE client_id = $1
		ORDER BY start_time DESC
	`, clientID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.ClientID, &rec.ClientEmail, &rec.SessionTypeID, &rec.ServiceName,
			&rec.StaffID, &rec.StartTime, &rec.ConfirmationID, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("booking: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: iterate records: %w", err)
	}
	return records, nil
}
