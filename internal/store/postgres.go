package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps flows as JSONB rows in the flows table
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Flow, error) {
	defer observe("postgres", "load", time.Now())
	if err := checkID(id); err != nil {
		return nil, err
	}

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM flows WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return New(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return decode(id, data)
}

func (s *PostgresStore) Save(ctx context.Context, f *Flow) error {
	defer observe("postgres", "save", time.Now())
	if err := checkID(f.ID); err != nil {
		return err
	}

	data, err := encode(f)
	if err != nil {
		return err
	}

	var quoteHash, stage *string
	if f.Quote != nil && f.Quote.Hash != "" {
		quoteHash = &f.Quote.Hash
	}
	if f.Certificate != nil {
		st := string(f.Certificate.Stage)
		stage = &st
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO flows (id, data, quote_hash, stage, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			quote_hash = EXCLUDED.quote_hash,
			stage = EXCLUDED.stage,
			updated_at = EXCLUDED.updated_at`,
		f.ID, data, quoteHash, stage, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// FindByQuoteHash returns the id of the flow whose current quote has hash
func (s *PostgresStore) FindByQuoteHash(ctx context.Context, hash string) (string, error) {
	defer observe("postgres", "find", time.Now())

	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM flows WHERE quote_hash = $1 ORDER BY updated_at DESC LIMIT 1`, hash,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find flow: %w", err)
	}
	return id, nil
}
