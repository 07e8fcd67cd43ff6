package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"batchml/internal/common"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// Format identifies an input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks a format from a file name extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("cannot determine file format for: %s", name)
	}
}

// Load reads a CSV or xlsx file from disk.
func Load(path string, opts Options) (*Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	t, err := Read(file, format, opts)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("file", path).
		Int("rows", t.Rows).
		Int("features", len(t.Features)).
		Strs("dropped", t.Excluded).
		Msg("Data loaded successfully")

	return t, nil
}

// Read parses r according to format.
func Read(r io.Reader, format Format, opts Options) (*Table, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(r, opts)
	case FormatXLSX:
		return ReadXLSX(r, opts)
	default:
		return nil, fmt.Errorf("unsupported data format: %s", format)
	}
}

// ReadCSV parses comma separated input with a header row.
func ReadCSV(r io.Reader, opts Options) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &common.SchemaError{Reason: "empty file"}
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	header = stripBOM(header)

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV records: %w", err)
	}

	return FromRecords(header, records, opts)
}

// ReadXLSX parses the first sheet of a workbook; its first row is the header.
func ReadXLSX(r io.Reader, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close workbook")
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &common.SchemaError{Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, &common.SchemaError{Reason: fmt.Sprintf("sheet %q is empty", sheets[0])}
	}

	return FromRecords(rows[0], rows[1:], opts)
}

func stripBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	return header
}
