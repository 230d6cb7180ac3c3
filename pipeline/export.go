package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-products/models"
)

// Format is one export artifact: its extension and how to open a writer for it.
type Format struct {
	Name string
	Ext  string
	Open func(filename string) (OutputWriter, error)
}

// DefaultFormats are the three artifacts written at the end of a run.
func DefaultFormats() []Format {
	return []Format{
		{Name: "csv", Ext: ".csv", Open: func(name string) (OutputWriter, error) { return NewCSVWriter(name) }},
		{Name: "xlsx", Ext: ".xlsx", Open: func(name string) (OutputWriter, error) { return NewXLSXWriter(name) }},
		{Name: "json", Ext: ".json", Open: func(name string) (OutputWriter, error) { return NewJSONWriter(name) }},
	}
}

// FileExporter writes every format into dir under a shared timestamped base
// name. Either all files appear or none do, and earlier exports are never
// overwritten.
type FileExporter struct {
	dir     string
	prefix  string
	formats []Format
	now     func() time.Time

	mu sync.Mutex // serializes Export so two calls cannot claim the same base
}

// ExporterOption customises a FileExporter.
type ExporterOption func(*FileExporter)

// WithFormats replaces the exported formats.
func WithFormats(formats ...Format) ExporterOption {
	return func(e *FileExporter) { e.formats = formats }
}

// WithExportClock sets the clock used for the base name.
func WithExportClock(now func() time.Time) ExporterOption {
	return func(e *FileExporter) { e.now = now }
}

// NewExporter builds an exporter writing into dir.
func NewExporter(dir, prefix string, opts ...ExporterOption) *FileExporter {
	e := &FileExporter{
		dir:     dir,
		prefix:  prefix,
		formats: DefaultFormats(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BaseName returns <prefix>_<YYYYMMDD_HHMMSS> for t.
func (e *FileExporter) BaseName(t time.Time) string {
	return e.prefix + "_" + t.Format("20060102_150405")
}

// Export writes rows to every format. Files are first written under temporary
// names and renamed only once all of them succeeded.
func (e *FileExporter) Export(rows []models.ExportRow) (*models.ExportPaths, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %q: %w", e.dir, err)
	}

	snapshot := make([]models.ExportRow, len(rows))
	copy(snapshot, rows)

	base, err := e.freeBase(e.BaseName(e.now()))
	if err != nil {
		return nil, err
	}
	finals := make([]string, len(e.formats))
	temps := make([]string, 0, len(e.formats))
	cleanup := func(paths []string) {
		for _, p := range paths {
			os.Remove(p)
		}
	}

	for i, format := range e.formats {
		finals[i] = filepath.Join(e.dir, base+format.Ext)
		tmp := filepath.Join(e.dir, ".tmp_"+base+format.Ext)
		temps = append(temps, tmp)
		if err := writeAll(format, tmp, snapshot); err != nil {
			cleanup(temps)
			return nil, fmt.Errorf("write %s: %w", format.Name, err)
		}
	}

	renamed := make([]string, 0, len(finals))
	for i := range temps {
		if err := os.Rename(temps[i], finals[i]); err != nil {
			cleanup(renamed)
			cleanup(temps[i:])
			return nil, fmt.Errorf("rename %s: %w", e.formats[i].Name, err)
		}
		renamed = append(renamed, finals[i])
	}

	paths := &models.ExportPaths{}
	for i, format := range e.formats {
		switch format.Name {
		case "csv":
			paths.CSV = finals[i]
		case "xlsx":
			paths.XLSX = finals[i]
		case "json":
			paths.JSON = finals[i]
		}
	}
	return paths, nil
}

// freeBase returns base, or base_2, base_3 ... when any format's file with
// that name already exists in the output directory.
func (e *FileExporter) freeBase(base string) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		taken, err := e.taken(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "_" + strconv.Itoa(n)
	}
}

func (e *FileExporter) taken(base string) (bool, error) {
	for _, format := range e.formats {
		_, err := os.Stat(filepath.Join(e.dir, base+format.Ext))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("check export file: %w", err)
		}
	}
	return false, nil
}

func writeAll(format Format, filename string, rows []models.ExportRow) error {
	w, err := format.Open(filename)
	if err != nil {
		return err
	}
	if err := w.Write(rows); err != nil {
		return errors.Join(err, w.Close())
	}
	if err := w.Close(); err != nil {
		return err
	}
	return w.Validate()
}
