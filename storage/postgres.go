package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-products/models"
)

// PostgresStore keeps products in PostgreSQL, for runs that share one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects with dsn and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Setup(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS scrape_data (
		url TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT,
		price DOUBLE PRECISION NOT NULL,
		category TEXT,
		captured_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p *models.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_data (url, title, content, price, category, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			captured_at = EXCLUDED.captured_at
	`, p.URL, p.Title, p.Content, p.Price, p.Category, p.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", p.URL, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, url string) (*models.Product, error) {
	var p models.Product
	err := s.pool.QueryRow(ctx, `
		SELECT url, title, content, price, category, captured_at
		FROM scrape_data
		WHERE url = $1
	`, url).Scan(&p.URL, &p.Title, &p.Content, &p.Price, &p.Category, &p.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", url, err)
	}
	return &p, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM scrape_data").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
