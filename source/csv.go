// Package source reads the tabular input into rows keyed by column name.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Row is one input record. Number is 1-based and counts data rows only.
type Row struct {
	Number int
	Fields map[string]string
}

// Get returns the trimmed value of column, or "".
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Fields[column])
}

// Has reports whether column holds a non-blank value.
func (r Row) Has(column string) bool {
	return r.Get(column) != ""
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a header row followed by data rows. Header names are trimmed
// and lowercased; rows with every cell blank are skipped.
func Parse(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv has no header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(name))
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record %d: %w", len(rows)+1, err)
		}
		if blankRecord(record) {
			continue
		}
		fields := make(map[string]string, len(columns))
		for i, column := range columns {
			if column == "" || i >= len(record) {
				continue
			}
			fields[column] = record[i]
		}
		rows = append(rows, Row{Number: len(rows) + 1, Fields: fields})
	}
	return rows, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
