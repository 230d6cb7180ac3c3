// Package models defines data structures for the scraper.
package models

import "time"

// Product is one product block scraped from a page.
type Product struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Price      float64   `json:"price"`
	Category   string    `json:"category"`
	CapturedAt time.Time `json:"captured_at"`
}

// Row returns the reduced projection written by the exporter.
func (p *Product) Row() ExportRow {
	return ExportRow{
		URL:      p.URL,
		Title:    p.Title,
		Price:    p.Price,
		Category: p.Category,
	}
}

// ExportRow is the per-record shape of the export artifacts.
type ExportRow struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
}

// ExportPaths lists the three artifacts written for a run.
type ExportPaths struct {
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
	JSON string `json:"json"`
}

// RunProgress reports how many URLs of a run have been processed.
type RunProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Percent returns the integer-truncated completion percentage.
func (p RunProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// RunResult holds the overall result of a pipeline run.
type RunResult struct {
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	TotalURLs     int
	Processed     int
	Fetched       int
	FetchFailed   int
	Records       int
	Skipped       int
	PersistErrors int
	FailedURLs    []string
	Export        *ExportPaths
	ExportErr     error
	Cancelled     bool
}
