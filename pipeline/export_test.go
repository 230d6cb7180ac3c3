package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-scrape-products/models"
)

var exportClock = func() time.Time { return time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC) }

func sampleRows() []models.ExportRow {
	return []models.ExportRow{
		{URL: "http://shop/a", Title: "Café <Deluxe>", Price: 12.5, Category: "Bebidas"},
		{URL: "http://shop/b", Title: "Wrench", Price: 7, Category: "Tools"},
	}
}

func TestExporterWritesThreeFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	exporter := NewExporter(dir, "datos_scraping", WithExportClock(exportClock))

	paths, err := exporter.Export(sampleRows())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "datos_scraping_20251104_130913.csv"), paths.CSV)
	assert.Equal(t, filepath.Join(dir, "datos_scraping_20251104_130913.xlsx"), paths.XLSX)
	assert.Equal(t, filepath.Join(dir, "datos_scraping_20251104_130913.json"), paths.JSON)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	t.Run("csv", func(t *testing.T) {
		raw, err := os.ReadFile(paths.CSV)
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(raw, utf8BOM), "csv must start with a UTF-8 BOM")

		records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"url", "title", "price", "category"}, records[0])
		assert.Equal(t, []string{"http://shop/a", "Café <Deluxe>", "12.5", "Bebidas"}, records[1])
		assert.Equal(t, []string{"http://shop/b", "Wrench", "7", "Tools"}, records[2])
	})

	t.Run("json", func(t *testing.T) {
		raw, err := os.ReadFile(paths.JSON)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "Café <Deluxe>")
		assert.Contains(t, string(raw), "\n    {\n        \"url\"")

		var rows []models.ExportRow
		require.NoError(t, json.Unmarshal(raw, &rows))
		assert.Equal(t, sampleRows(), rows)
	})

	t.Run("xlsx", func(t *testing.T) {
		book, err := excelize.OpenFile(paths.XLSX)
		require.NoError(t, err)
		defer book.Close()

		rows, err := book.GetRows(book.GetSheetName(book.GetActiveSheetIndex()))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"url", "title", "price", "category"}, rows[0])
		assert.Equal(t, "http://shop/a", rows[1][0])
		assert.Equal(t, "12.5", rows[1][2])
		assert.Equal(t, "Tools", rows[2][3])
	})
}

func TestExporterEmptyRunWritesEmptyArtifacts(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewExporter(dir, "run", WithExportClock(exportClock)).Export(nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))

	raw, err = os.ReadFile(paths.CSV)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExporterDirectoryCreationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	clock := exportClock()
	exporter := NewExporter(dir, "run", WithExportClock(func() time.Time { return clock }))

	_, err := exporter.Export(sampleRows())
	require.NoError(t, err)
	clock = clock.Add(time.Second)
	_, err = exporter.Export(sampleRows())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestExporterSameSecondDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(dir, "run", WithExportClock(exportClock))

	first, err := exporter.Export(sampleRows())
	require.NoError(t, err)
	second, err := exporter.Export(sampleRows()[:1])
	require.NoError(t, err)
	third, err := exporter.Export(nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "run_20251104_130913.csv"), first.CSV)
	assert.Equal(t, filepath.Join(dir, "run_20251104_130913_2.xlsx"), second.XLSX)
	assert.Equal(t, filepath.Join(dir, "run_20251104_130913_3.json"), third.JSON)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 9)

	raw, err := os.ReadFile(first.JSON)
	require.NoError(t, err)
	var rows []models.ExportRow
	require.NoError(t, json.Unmarshal(raw, &rows))
	assert.Len(t, rows, 2, "first export must survive later ones")
}

type failingWriter struct{}

func (failingWriter) Write([]models.ExportRow) error { return errors.New("sheet corrupted") }
func (failingWriter) Close() error                   { return nil }
func (failingWriter) Validate() error                { return nil }

func TestExporterIsAllOrNothing(t *testing.T) {
	formats := DefaultFormats()

	tests := []struct {
		name    string
		replace Format
	}{
		{
			name: "spreadsheet write fails",
			replace: Format{Name: "xlsx", Ext: ".xlsx", Open: func(string) (OutputWriter, error) {
				return failingWriter{}, nil
			}},
		},
		{
			name: "spreadsheet cannot be opened",
			replace: Format{Name: "xlsx", Ext: ".xlsx", Open: func(string) (OutputWriter, error) {
				return nil, errors.New("permission denied")
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			exporter := NewExporter(dir, "run",
				WithExportClock(exportClock),
				WithFormats(formats[0], tt.replace, formats[2]),
			)

			paths, err := exporter.Export(sampleRows())
			require.Error(t, err)
			assert.Nil(t, paths)
			assert.Contains(t, err.Error(), "xlsx")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no artifact may survive a failed export")
		})
	}
}

func TestExporterSnapshotIsIsolated(t *testing.T) {
	rows := sampleRows()
	var seen []models.ExportRow
	capture := Format{Name: "json", Ext: ".json", Open: func(name string) (OutputWriter, error) {
		w, err := NewJSONWriter(name)
		if err != nil {
			return nil, err
		}
		rows[0].Title = "mutated"
		return &captureWriter{OutputWriter: w, seen: &seen}, nil
	}}

	_, err := NewExporter(t.TempDir(), "run", WithExportClock(exportClock), WithFormats(capture)).Export(rows)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "Café <Deluxe>", seen[0].Title)
}

type captureWriter struct {
	OutputWriter
	seen *[]models.ExportRow
}

func (c *captureWriter) Write(rows []models.ExportRow) error {
	*c.seen = append(*c.seen, rows...)
	return c.OutputWriter.Write(rows)
}
