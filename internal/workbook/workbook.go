// Package workbook reads and writes the xlsx files shared with the dashboard
// and with operators who edit them by hand.
package workbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet is one worksheet to write. Rows hold string, bool, int, int64,
// float64, time.Time or nil values; anything else is written with %v.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Options selects the worksheet to read.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of leading rows to drop
}

// Record is a data row keyed by header name.
type Record map[string]string

// Get returns the trimmed value of col, or "" when the column is absent.
func (r Record) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// ReadRows reads a worksheet and returns all rows as string slices.
func ReadRows(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: open %s", path)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// ReadRecords reads the named worksheet, treating its first row as the
// header. Blank rows are skipped and header names are trimmed.
func ReadRecords(path, sheetName string) ([]string, []Record, error) {
	rows, err := ReadRows(path, Options{SheetName: sheetName})
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	var records []Record
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rec := make(Record, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// SheetNames lists the worksheets of the file in order.
func SheetNames(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: open %s", path)
	}
	names := make([]string, len(f.Sheets))
	for i, s := range f.Sheets {
		names[i] = s.Name
	}
	return names, nil
}

// Write creates path (and its parent directory) with the given sheets,
// replacing any existing file.
func Write(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return eris.Errorf("workbook: no sheets for %s", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "workbook: create dir %s", dir)
		}
	}

	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.Name)
		if err != nil {
			return eris.Wrapf(err, "workbook: add sheet %s", s.Name)
		}
		if len(s.Header) > 0 {
			row := sheet.AddRow()
			for _, h := range s.Header {
				row.AddCell().SetString(h)
			}
		}
		for _, values := range s.Rows {
			row := sheet.AddRow()
			for _, v := range values {
				setCell(row.AddCell(), v)
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "workbook: save %s", path)
	}
	return nil
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
		c.SetString("")
	case string:
		c.SetString(x)
	case bool:
		// Written as text so the dashboard and ReadRecords agree on the value.
		if x {
			c.SetString("true")
		} else {
			c.SetString("false")
		}
	case int:
		c.SetInt(x)
	case int64:
		c.SetInt64(x)
	case float64:
		c.SetFloat(x)
	case time.Time:
		c.SetString(x.UTC().Format(time.RFC3339))
	default:
		c.SetString(fmt.Sprintf("%v", x))
	}
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("workbook: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("workbook: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
