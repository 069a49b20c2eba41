// internal/docstore/postgres.go
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL DEFAULT '{}'::jsonb,
	seq        BIGSERIAL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (collection, seq);
`

// PostgresStore keeps every collection in a single JSONB documents table.
type PostgresStore struct {
	DB *pgxpool.Pool

	schema    Schema
	publisher Publisher
	logger    *logrus.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresSchema makes the store reject fields the schema does not list.
func WithPostgresSchema(s Schema) PostgresOption {
	return func(p *PostgresStore) { p.schema = s }
}

// WithPostgresPublisher forwards every committed mutation to pub.
func WithPostgresPublisher(pub Publisher) PostgresOption {
	return func(p *PostgresStore) { p.publisher = pub }
}

// WithPostgresLogger sets the store logger.
func WithPostgresLogger(l *logrus.Logger) PostgresOption {
	return func(p *PostgresStore) { p.logger = l }
}

// ConnectPostgres opens a pool against connStr and pings it.
func ConnectPostgres(ctx context.Context, connStr string, opts ...PostgresOption) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := &PostgresStore{DB: pool, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.WithField("host", config.ConnConfig.Host).Info("connected to document database")
	return s, nil
}

// Migrate creates the documents table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, createDocumentsTable); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.DB.Close()
}

func (s *PostgresStore) Create(ctx context.Context, collection, id string, fields map[string]interface{}) (*Record, error) {
	if err := s.schema.Check(collection, fields); err != nil {
		return nil, err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	rec := &Record{ID: resolveID(id), Collection: collection, Fields: cloneFields(fields)}

	q := `
	INSERT INTO documents (collection, id, data)
	VALUES ($1, $2, $3::jsonb)
	ON CONFLICT (collection, id) DO NOTHING
	RETURNING created_at, updated_at
	`
	err = pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, collection, rec.ID, string(data)).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, rec.ID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	s.publish(ctx, EventCreated, rec)
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) (*Record, error) {
	if err := s.schema.Check(collection, fields); err != nil {
		return nil, err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	q := `
	UPDATE documents
	SET data = data || $3::jsonb, updated_at = now()
	WHERE collection = $1 AND id = $2
	RETURNING data, created_at, updated_at
	`
	rec, err := s.writeReturning(ctx, collection, id, q, collection, id, string(data))
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventUpdated, rec)
	return rec, nil
}

// Increment performs the addition inside a single UPDATE statement, so two
// concurrent voters never overwrite each other's increment.
func (s *PostgresStore) Increment(ctx context.Context, collection, id, field string, delta int) (*Record, error) {
	q := `
	UPDATE documents
	SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(COALESCE((data->>$3::text)::int, 0) + $4::int)),
	    updated_at = now()
	WHERE collection = $1 AND id = $2
	RETURNING data, created_at, updated_at
	`
	rec, err := s.writeReturning(ctx, collection, id, q, collection, id, field, delta)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventUpdated, rec)
	return rec, nil
}

func (s *PostgresStore) writeReturning(ctx context.Context, collection, id, q string, args ...interface{}) (*Record, error) {
	rec := &Record{ID: id, Collection: collection}
	var raw []byte
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, args...).Scan(&raw, &rec.CreatedAt, &rec.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if rec.Fields, err = decodeFields(raw); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	q := `
	SELECT data, created_at, updated_at
	FROM documents
	WHERE collection = $1 AND id = $2
	`
	rec := &Record{ID: id, Collection: collection}
	var raw []byte
	err := s.DB.QueryRow(ctx, q, collection, id).Scan(&raw, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if rec.Fields, err = decodeFields(raw); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	q := `DELETE FROM documents WHERE collection = $1 AND id = $2 RETURNING data, created_at, updated_at`
	rec := &Record{ID: id, Collection: collection}
	var raw []byte
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, collection, id).Scan(&raw, &rec.CreatedAt, &rec.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if rec.Fields, err = decodeFields(raw); err != nil {
		return err
	}
	s.publish(ctx, EventDeleted, rec)
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection string, filters ...Filter) ([]*Record, error) {
	var (
		sb   strings.Builder
		args = []interface{}{collection}
	)
	sb.WriteString(`SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1`)
	for _, f := range filters {
		args = append(args, f.Field, fmt.Sprint(f.Value))
		fmt.Fprintf(&sb, " AND data->>$%d::text = $%d", len(args)-1, len(args))
	}
	sb.WriteString(" ORDER BY seq")

	rows, err := s.DB.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{Collection: collection}
		var raw []byte
		if err := rows.Scan(&rec.ID, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.Fields, err = decodeFields(raw); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) publish(ctx context.Context, kind EventKind, rec *Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, Event{Kind: kind, Record: rec.Clone()}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"collection": rec.Collection,
			"id":         rec.ID,
			"kind":       kind,
		}).Warnf("failed to publish change event: %v", err)
	}
}

func decodeFields(raw []byte) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return fields, nil
}
