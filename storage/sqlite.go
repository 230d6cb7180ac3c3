package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aluiziolira/go-scrape-products/models"
)

// SQLiteStore keeps products in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.Setup(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Setup creates the scrape_data table if it does not exist.
func (s *SQLiteStore) Setup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS scrape_data (
		url TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT,
		price REAL NOT NULL,
		category TEXT,
		captured_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Upsert inserts p or replaces the existing row for p.URL.
func (s *SQLiteStore) Upsert(ctx context.Context, p *models.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_data (url, title, content, price, category, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			price = excluded.price,
			category = excluded.category,
			captured_at = excluded.captured_at
	`, p.URL, p.Title, p.Content, p.Price, p.Category, p.CapturedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", p.URL, err)
	}
	return nil
}

// Get returns the current record for url.
func (s *SQLiteStore) Get(ctx context.Context, url string) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT url, title, content, price, category, captured_at
		FROM scrape_data
		WHERE url = ?
	`, url).Scan(&p.URL, &p.Title, &p.Content, &p.Price, &p.Category, &p.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", url, err)
	}
	return &p, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scrape_data").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
