package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-scrape-products/models"
)

// OutputWriter serializes export rows into one file.
type OutputWriter interface {
	Write(rows []models.ExportRow) error
	Close() error
	Validate() error
}

var exportHeader = []string{"url", "title", "price", "category"}

// utf8BOM lets spreadsheet tools detect the encoding of the CSV file.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// CSVWriter writes rows to a delimited text file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates filename and writes the BOM and header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	if _, err := f.Write(utf8BOM); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv bom: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(exportHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows to the CSV output.
func (cw *CSVWriter) Write(rows []models.ExportRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		record := []string{row.URL, row.Title, formatPrice(row.Price), row.Category}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file was written.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// XLSXWriter writes rows to a single-sheet spreadsheet. The workbook is built
// in memory and serialized on Close.
type XLSXWriter struct {
	filename string
	book     *excelize.File
	sheet    string
	next     int
	mu       sync.Mutex
}

// NewXLSXWriter prepares a workbook with the header row.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	book := excelize.NewFile()
	sheet := book.GetSheetName(book.GetActiveSheetIndex())
	xw := &XLSXWriter{
		filename: filename,
		book:     book,
		sheet:    sheet,
		next:     1,
	}
	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := xw.setRow(header); err != nil {
		book.Close()
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}
	return xw, nil
}

// Write appends rows to the sheet.
func (xw *XLSXWriter) Write(rows []models.ExportRow) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, row := range rows {
		if err := xw.setRow([]interface{}{row.URL, row.Title, row.Price, row.Category}); err != nil {
			return fmt.Errorf("write xlsx record: %w", err)
		}
	}
	return nil
}

func (xw *XLSXWriter) setRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, xw.next)
	if err != nil {
		return err
	}
	if err := xw.book.SetSheetRow(xw.sheet, cell, &values); err != nil {
		return err
	}
	xw.next++
	return nil
}

// Close serializes the workbook to disk.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	f, err := os.Create(xw.filename)
	if err != nil {
		xw.book.Close()
		return fmt.Errorf("create xlsx file: %w", err)
	}
	if err := xw.book.Write(f); err != nil {
		f.Close()
		xw.book.Close()
		return fmt.Errorf("write xlsx file: %w", err)
	}
	if err := f.Close(); err != nil {
		xw.book.Close()
		return fmt.Errorf("close xlsx file: %w", err)
	}
	return xw.book.Close()
}

// Validate ensures the workbook reached disk.
func (xw *XLSXWriter) Validate() error {
	info, err := os.Stat(xw.filename)
	if err != nil {
		return fmt.Errorf("stat xlsx file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("xlsx file is empty")
	}
	return nil
}

// JSONWriter writes all rows as one indented JSON array.
type JSONWriter struct {
	file   *os.File
	writer *bufio.Writer
	rows   []models.ExportRow
	mu     sync.Mutex
}

// NewJSONWriter creates filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	return &JSONWriter{
		file:   f,
		writer: bufio.NewWriter(f),
		rows:   make([]models.ExportRow, 0),
	}, nil
}

// Write buffers rows; the array is encoded on Close.
func (jw *JSONWriter) Write(rows []models.ExportRow) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.rows = append(jw.rows, rows...)
	return nil
}

// Close encodes the array, flushes buffers and closes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	encoder := json.NewEncoder(jw.writer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(jw.rows); err != nil {
		jw.file.Close()
		return fmt.Errorf("encode json records: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := os.Stat(jw.file.Name())
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
