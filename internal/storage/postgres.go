package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nova-trade/trading-core/internal/domain"
)

// PostgresStore is the Postgres-backed Store implementation, grounded on
// the same sql.Open-plus-connection-pool-tuning shape used elsewhere for
// Postgres access in this stack. Schema management (migrations) is a host
// concern; PostgresStore assumes the orders, allocation_requests and
// audit_log tables already exist.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig tunes the connection pool atop the DSN.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore opens and pings a Postgres connection pool.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) UpsertOrder(ctx context.Context, o *domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("storage: marshal order: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, symbol, venue, status, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, data = EXCLUDED.data`,
		o.ID, o.AccountID, o.Symbol, o.Venue, string(o.Status), o.CreatedAt, data)
	if err != nil {
		return fmt.Errorf("storage: upsert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get order: %w", err)
	}
	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("storage: unmarshal order: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.Order, error) {
	query := `SELECT data FROM orders WHERE
		($1 = '' OR account_id = $1) AND
		($2 = '' OR symbol = $2) AND
		($3 = '' OR venue = $3) AND
		($4 = '' OR status = $4)
		ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, filter.AccountID, filter.Symbol, filter.Venue, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("storage: list orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("storage: scan order: %w", err)
		}
		var o domain.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("storage: unmarshal order: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAllocationRequest(ctx context.Context, r *domain.AllocationRequest) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("storage: marshal allocation request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO allocation_requests (id, from_venue, to_venue, priority, requested_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		r.ID, r.FromVenue, r.ToVenue, string(r.Priority), r.RequestedAt, data)
	if err != nil {
		return fmt.Errorf("storage: upsert allocation request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAllocationRequestByID(ctx context.Context, id uuid.UUID) (*domain.AllocationRequest, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM allocation_requests WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get allocation request: %w", err)
	}
	var r domain.AllocationRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("storage: unmarshal allocation request: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListAllocationRequests(ctx context.Context, filter AllocationFilter) ([]*domain.AllocationRequest, error) {
	query := `SELECT data FROM allocation_requests WHERE
		($1 = '' OR from_venue = $1) AND
		($2 = '' OR to_venue = $2) AND
		($3 = '' OR priority = $3)
		ORDER BY requested_at ASC`
	rows, err := s.db.QueryContext(ctx, query, filter.FromVenue, filter.ToVenue, string(filter.Priority))
	if err != nil {
		return nil, fmt.Errorf("storage: list allocation requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.AllocationRequest
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("storage: scan allocation request: %w", err)
		}
		var r domain.AllocationRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("storage: unmarshal allocation request: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	fields, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("storage: marshal audit fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, category, message, fields, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Category, entry.Message, fields, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("storage: append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `SELECT id, category, message, fields, recorded_at FROM audit_log WHERE
		($1 = '' OR category = $1) AND
		($2::timestamptz IS NULL OR recorded_at >= $2)
		ORDER BY recorded_at ASC`
	var since interface{}
	if !filter.Since.IsZero() {
		since = filter.Since
	}
	rows, err := s.db.QueryContext(ctx, query, filter.Category, since)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var fields []byte
		if err := rows.Scan(&e.ID, &e.Category, &e.Message, &fields, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("storage: unmarshal audit fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }
