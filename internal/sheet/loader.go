package sheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mjhen/medstock/server/internal/catalog"
)

const (
	sampleCount          = 3
	extractedSampleLimit = 5
)

var ErrEmptyFile = errors.New("spreadsheet is empty")

// ParseError wraps an unreadable or corrupt workbook.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "spreadsheet could not be read: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Column struct {
	Name             string          `json:"name"`
	DataType         catalog.TypeTag `json:"dataType"`
	Samples          []string        `json:"samples"`
	HasCombinedData  bool            `json:"hasCombinedData"`
	ExtractedSamples []Extracted     `json:"extractedSamples,omitempty"`
}

type Spreadsheet struct {
	SheetName string     `json:"sheetName"`
	Columns   []Column   `json:"columns"`
	Rows      [][]string `json:"rows"`
}

// Cell returns the text of a data cell, or "" when the row is short.
func Cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return row[index]
}

func ParseFile(ctx context.Context, path string) (*Spreadsheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()
	return Parse(ctx, f)
}

// Parse reads the first sheet of a workbook. Row 0 holds the headers and the
// remaining rows are data, kept as formatted text.
func Parse(ctx context.Context, r io.Reader) (*Spreadsheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("read sheet %s: %w", sheets[0], err)}
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	headers := rows[0]
	data := rows[1:]
	width := len(headers)
	for _, row := range data {
		if len(row) > width {
			width = len(row)
		}
	}

	columns := make([]Column, width)
	values := make([]string, len(data))
	for i := 0; i < width; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j, row := range data {
			values[j] = Cell(row, i)
		}
		columns[i] = analyzeColumn(Cell(headers, i), i, values)
	}

	if data == nil {
		data = [][]string{}
	}
	return &Spreadsheet{SheetName: sheets[0], Columns: columns, Rows: data}, nil
}

func analyzeColumn(header string, index int, values []string) Column {
	name := strings.TrimSpace(header)
	if name == "" {
		name = "Column " + strconv.Itoa(index+1)
	}

	samples := make([]string, 0, sampleCount)
	for _, v := range values {
		if len(samples) == sampleCount {
			break
		}
		samples = append(samples, v)
	}

	col := Column{
		Name:     name,
		DataType: DetectType(values),
		Samples:  samples,
	}
	for _, v := range values {
		if HasCombinedData(v) {
			col.HasCombinedData = true
			break
		}
	}
	if col.HasCombinedData {
		col.ExtractedSamples = collectExtracted(values)
	}
	return col
}

// collectExtracted keeps at most five distinct values per sub-field. A cell
// that adds a new value to any sub-field is listed with its full extraction.
func collectExtracted(values []string) []Extracted {
	seen := make(map[SubField]map[string]struct{}, len(SubFields))
	for _, f := range SubFields {
		seen[f] = map[string]struct{}{}
	}

	out := []Extracted{}
	for _, v := range values {
		e := ExtractCombined(v)
		if e == nil {
			continue
		}
		useful := false
		for _, f := range SubFields {
			val := e.Get(f)
			if val == "" {
				continue
			}
			if _, dup := seen[f][val]; dup || len(seen[f]) >= extractedSampleLimit {
				continue
			}
			seen[f][val] = struct{}{}
			useful = true
		}
		if useful {
			out = append(out, *e)
		}
	}
	return out
}
