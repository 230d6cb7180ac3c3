// Package parser turns product listing pages into product records.
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-products/models"
)

// Markup of the supported product pages.
const (
	ProductSelector     = "div.product"
	TitleSelector       = "h2.product-title"
	PriceSelector       = "span.price"
	CategorySelector    = "span.category"
	DescriptionSelector = "div.description"
)

// Result is the outcome for one product block: either a Product or a Skip reason.
type Result struct {
	Index   int
	Product *models.Product
	Skip    string
}

// OK reports whether the block produced a product.
func (r Result) OK() bool {
	return r.Product != nil
}

// Extract parses body and returns one Result per product block, in document order.
// A malformed block only skips itself. An error means the document itself could
// not be read.
func Extract(body, pageURL string, capturedAt time.Time) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	blocks := doc.Find(ProductSelector)
	results := make([]Result, 0, blocks.Length())
	blocks.Each(func(i int, block *goquery.Selection) {
		product, reason := extractProduct(block, pageURL, capturedAt)
		results = append(results, Result{Index: i, Product: product, Skip: reason})
	})
	return results, nil
}

// Products returns only the successfully extracted products of results.
func Products(results []Result) []*models.Product {
	out := make([]*models.Product, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Product)
		}
	}
	return out
}

func extractProduct(block *goquery.Selection, pageURL string, capturedAt time.Time) (*models.Product, string) {
	title, ok := childText(block, TitleSelector)
	if !ok {
		return nil, "missing title"
	}
	priceText, ok := childText(block, PriceSelector)
	if !ok {
		return nil, "missing price"
	}
	category, ok := childText(block, CategorySelector)
	if !ok {
		return nil, "missing category"
	}
	content, ok := childText(block, DescriptionSelector)
	if !ok {
		return nil, "missing description"
	}

	price, err := ParsePrice(priceText)
	if err != nil {
		return nil, "invalid price: " + err.Error()
	}

	product := newProduct(pageURL, title, content, category, price, capturedAt)
	if err := ValidateProduct(product); err != nil {
		return nil, err.Error()
	}
	return product, ""
}

func childText(block *goquery.Selection, selector string) (string, bool) {
	found := block.Find(selector).First()
	if found.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(found.Text()), true
}
