// Package storage persists scraped products, one current row per URL.
package storage

import (
	"context"
	"errors"

	"github.com/aluiziolira/go-scrape-products/models"
)

// ErrNotFound is returned by Get when no record exists for a URL.
var ErrNotFound = errors.New("storage: record not found")

// Store is the durable product store. Upsert replaces any prior record for the
// same URL in a single atomic statement.
type Store interface {
	Setup(ctx context.Context) error
	Upsert(ctx context.Context, p *models.Product) error
	Get(ctx context.Context, url string) (*models.Product, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
