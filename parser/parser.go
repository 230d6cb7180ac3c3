package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

// ErrNegativePrice is returned for prices below zero.
var ErrNegativePrice = errors.New("price cannot be negative")

// ErrNotFinite is returned for NaN or infinite prices.
var ErrNotFinite = errors.New("price must be finite")

// decimalPrice accepts plain decimals only: no exponents, hex floats, NaN or Inf.
var decimalPrice = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ValidateProduct ensures the extractor captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product missing title")
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return fmt.Errorf("product %q: %w", p.Title, ErrNotFinite)
	}
	if p.Price < 0 {
		return fmt.Errorf("product %q: %w", p.Title, ErrNegativePrice)
	}
	return nil
}

// NormalizePrice removes a leading currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	for _, symbol := range []string{"US$", "$", "£", "Â£", "€", "¥"} {
		if strings.HasPrefix(price, symbol) {
			price = strings.TrimPrefix(price, symbol)
			break
		}
	}
	return strings.TrimSpace(price)
}

// ParsePrice normalizes text and parses it as a non-negative decimal.
func ParsePrice(text string) (float64, error) {
	normalized := NormalizePrice(text)
	if normalized == "" {
		return 0, fmt.Errorf("empty price")
	}
	if !decimalPrice.MatchString(normalized) {
		return 0, fmt.Errorf("parse price %q: not a plain decimal", text)
	}
	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrNotFinite
	}
	if value < 0 {
		return 0, ErrNegativePrice
	}
	return value, nil
}

func newProduct(url, title, content, category string, price float64, capturedAt time.Time) *models.Product {
	return &models.Product{
		URL:        url,
		Title:      title,
		Content:    content,
		Price:      price,
		Category:   category,
		CapturedAt: capturedAt,
	}
}
