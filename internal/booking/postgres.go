package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists booking summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			confirmation_number TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			check_in TEXT NOT NULL,
			check_out TEXT NOT NULL,
			room_type TEXT NOT NULL,
			guests INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings (created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) (Record, error) {
	if err := Validate(record.Booking); err != nil {
		return Record{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Booking.ConfirmationNumber = normalizeConfirmation(record.Booking.ConfirmationNumber)

	b := record.Booking
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (confirmation_number, id, session_id, check_in, check_out, room_type, guests, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (confirmation_number) DO UPDATE SET
			id = EXCLUDED.id,
			session_id = EXCLUDED.session_id,
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			room_type = EXCLUDED.room_type,
			guests = EXCLUDED.guests,
			created_at = EXCLUDED.created_at`,
		b.ConfirmationNumber,
		record.ID,
		record.SessionID,
		b.CheckIn,
		b.CheckOut,
		b.RoomType,
		b.Guests,
		record.CreatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("save booking: %w", err)
	}
	return record, nil
}

const selectColumns = `SELECT id, session_id, confirmation_number, check_in, check_out, room_type, guests, created_at FROM bookings`

func (s *PostgresStore) Get(ctx context.Context, confirmation string) (Record, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE confirmation_number=$1`, normalizeConfirmation(confirmation))
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get booking: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent bookings: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&r.Booking.ConfirmationNumber,
		&r.Booking.CheckIn,
		&r.Booking.CheckOut,
		&r.Booking.RoomType,
		&r.Booking.Guests,
		&r.CreatedAt,
	)
	return r, err
}
