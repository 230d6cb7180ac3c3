package main

import (
	"fmt"
	"io"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/scraper"
)

func printSummary(w io.Writer, result *models.RunResult, metrics *scraper.Metrics) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Fprintln(w, "\n"+separator)
	switch {
	case result.Cancelled:
		fmt.Fprintln(w, "Scrape cancelled")
	case result.ExportErr != nil:
		fmt.Fprintln(w, "Scrape finished with errors")
	default:
		fmt.Fprintln(w, "Scrape complete")
	}

	fmt.Fprintf(w, "  Run ID:         %s\n", result.RunID)
	fmt.Fprintf(w, "  URLs:           %d/%d processed\n", result.Processed, result.TotalURLs)
	fmt.Fprintf(w, "  Fetched:        %d (cache hits: %d)\n", result.Fetched, metrics.CacheHits())
	fmt.Fprintf(w, "  Retries:        %d\n", metrics.Retries())
	fmt.Fprintf(w, "  Failed URLs:    %d\n", len(result.FailedURLs))
	for _, u := range result.FailedURLs {
		fmt.Fprintf(w, "    - %s\n", u)
	}
	fmt.Fprintf(w, "  Records:        %d\n", result.Records)
	fmt.Fprintf(w, "  Skipped blocks: %d\n", result.Skipped)
	fmt.Fprintf(w, "  Persist errors: %d\n", result.PersistErrors)
	fmt.Fprintf(w, "  Duration:       %v\n", duration.Round(time.Millisecond))
	if result.Export != nil {
		fmt.Fprintf(w, "  CSV:            %s\n", result.Export.CSV)
		fmt.Fprintf(w, "  XLSX:           %s\n", result.Export.XLSX)
		fmt.Fprintf(w, "  JSON:           %s\n", result.Export.JSON)
	}
	if result.ExportErr != nil {
		fmt.Fprintf(w, "  Export error:   %v\n", result.ExportErr)
	}
	fmt.Fprintln(w, separator)
}
