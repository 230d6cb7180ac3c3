package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/scraper"
)

func TestReadURLs(t *testing.T) {
	input := `
# seed list
https://shop.example/a

  https://shop.example/b
#https://shop.example/skipped
`
	urls, err := readURLs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read urls: %v", err)
	}
	want := []string{"https://shop.example/a", "https://shop.example/b"}
	if !reflect.DeepEqual(urls, want) {
		t.Fatalf("urls = %v, want %v", urls, want)
	}
}

func TestCollectURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "keeps order",
			input:    []string{"https://a.test/1", "http://b.test/2"},
			expected: []string{"https://a.test/1", "http://b.test/2"},
		},
		{
			name:     "drops duplicates",
			input:    []string{"https://a.test/1", "https://a.test/2", "https://a.test/1"},
			expected: []string{"https://a.test/1", "https://a.test/2"},
		},
		{
			name:     "drops invalid",
			input:    []string{"", "ftp://a.test/x", "not a url", "https://", "https://ok.test"},
			expected: []string{"https://ok.test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := collectURLs(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Fatalf("collectURLs(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	if err := os.WriteFile(path, []byte("workers: 4\noutput_dir: exports\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SCRAPER_WORKERS", "2")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Workers != 2 {
		t.Fatalf("workers = %d, env should win over file", cfg.Workers)
	}
	if cfg.OutputDir != "exports" {
		t.Fatalf("output dir = %q", cfg.OutputDir)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("defaults not kept: max attempts = %d", cfg.MaxAttempts)
	}
}

func TestFanoutHandlerRespectsLevels(t *testing.T) {
	var info, debug bytes.Buffer
	handler := fanoutHandler{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	logger := slog.New(handler).With(slog.String("run_id", "r1"))

	logger.Debug("cache hit")
	logger.Error("fetch failed", slog.String("url", "http://shop/c"))

	if strings.Contains(info.String(), "cache hit") {
		t.Fatalf("info handler received a debug record")
	}
	if !strings.Contains(info.String(), "url=http://shop/c") || !strings.Contains(info.String(), "run_id=r1") {
		t.Fatalf("info output missing attrs: %s", info.String())
	}
	if !strings.Contains(debug.String(), `"msg":"cache hit"`) || !strings.Contains(debug.String(), `"run_id":"r1"`) {
		t.Fatalf("debug output missing record: %s", debug.String())
	}
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("fanout should be enabled when any handler is")
	}
}

func TestNewLoggerAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")
	for i := 0; i < 2; i++ {
		logger, closeLog, err := newLogger(false, path)
		if err != nil {
			t.Fatalf("new logger: %v", err)
		}
		logger.Error("fetch failed", slog.String("url", "http://shop/c"))
		if err := closeLog(); err != nil {
			t.Fatalf("close log: %v", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Count(string(raw), `"url":"http://shop/c"`); got != 2 {
		t.Fatalf("log entries = %d, want 2 (append-only)", got)
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	result := &models.RunResult{
		RunID:      "run-1",
		StartTime:  start,
		EndTime:    start.Add(90 * time.Second),
		TotalURLs:  3,
		Processed:  3,
		Fetched:    2,
		Records:    2,
		FailedURLs: []string{"http://shop/c"},
		Export:     &models.ExportPaths{CSV: "o.csv", XLSX: "o.xlsx", JSON: "o.json"},
	}

	var buf bytes.Buffer
	printSummary(&buf, result, scraper.NewMetrics())
	out := buf.String()
	for _, want := range []string{"Scrape complete", "run-1", "3/3 processed", "http://shop/c", "o.xlsx", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	result.Export = nil
	result.ExportErr = errors.New("disk full")
	printSummary(&buf, result, nil)
	if !strings.Contains(buf.String(), "finished with errors") || !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("summary does not report export failure:\n%s", buf.String())
	}
}
