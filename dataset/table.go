// Package dataset reads numeric tables from disk and turns them into
// standardized train and test datasets for the training package.
package dataset

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrFormat is returned for tables that cannot be parsed.
var ErrFormat = errors.New("malformed table")

// BostonColumns lists the Boston housing columns in file order. MEDV, the
// median home value in thousands of dollars, is the regression target.
var BostonColumns = []string{
	"CRIM", "ZN", "INDUS", "CHAS", "NOX", "RM", "AGE",
	"DIS", "RAD", "TAX", "PTRATIO", "B", "LSTAT", "MEDV",
}

// Format selects how a table file is split into fields.
type Format int

const (
	// FormatAuto picks CSV when the first data line contains a comma.
	FormatAuto Format = iota
	// FormatWhitespace treats the file as a stream of whitespace separated
	// values. Records may wrap across lines; a record ends after one value
	// per column.
	FormatWhitespace
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatWhitespace:
		return "whitespace"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// ParseFormat parses "auto", "whitespace" or "csv".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "whitespace", "ws", "txt":
		return FormatWhitespace, nil
	case "csv":
		return FormatCSV, nil
	default:
		return 0, errors.Errorf("unknown table format %q", s)
	}
}

// Table is a dense numeric table with named columns.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, error) {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i, nil
		}
	}
	return -1, errors.Errorf("no column %q in %v", name, t.Columns)
}

// XY separates the target column from the features. Feature columns keep
// their table order.
func (t *Table) XY(target string) (x [][]float64, y []float64, features []string, err error) {
	ti, err := t.Index(target)
	if err != nil {
		return nil, nil, nil, err
	}
	for i, c := range t.Columns {
		if i != ti {
			features = append(features, c)
		}
	}
	x = make([][]float64, len(t.Rows))
	y = make([]float64, len(t.Rows))
	for r, row := range t.Rows {
		feats := make([]float64, 0, len(row)-1)
		feats = append(feats, row[:ti]...)
		feats = append(feats, row[ti+1:]...)
		x[r] = feats
		y[r] = row[ti]
	}
	return x, y, features, nil
}

// LoadTable reads the table at path. When columns is set it names the
// columns of a headerless file, or selects and orders columns of a file
// with a header row. Lines starting with # are ignored.
func LoadTable(path string, columns []string, format Format) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open table")
	}
	defer f.Close()

	t, err := ReadTable(f, columns, format)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return t, nil
}

// ReadTable parses a table from r. See LoadTable.
func ReadTable(r io.Reader, columns []string, format Format) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read table")
	}
	if format == FormatAuto {
		format = detectFormat(data)
	}

	var records [][]string
	switch format {
	case FormatCSV:
		cr := csv.NewReader(bytes.NewReader(data))
		cr.Comment = '#'
		cr.TrimLeadingSpace = true
		cr.FieldsPerRecord = -1
		records, err = cr.ReadAll()
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "csv: %v", err)
		}
	case FormatWhitespace:
		records = whitespaceLines(data)
	default:
		return nil, errors.Errorf("unsupported table format %s", format)
	}
	if len(records) == 0 {
		return nil, errors.Wrap(ErrFormat, "empty table")
	}

	var header []string
	if !numericRecord(records[0]) {
		header = records[0]
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, errors.Wrap(ErrFormat, "no data rows")
	}

	names, pick, err := resolveColumns(header, columns, len(records[0]))
	if err != nil {
		return nil, err
	}

	var fields [][]string
	if format == FormatWhitespace && header == nil {
		fields, err = rewrap(records, len(names))
	} else {
		fields, err = records, checkWidths(records, pick)
	}
	if err != nil {
		return nil, err
	}

	t := &Table{Columns: names, Rows: make([][]float64, 0, len(fields))}
	for i, rec := range fields {
		row := make([]float64, len(pick))
		for j, src := range pick {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[src]), 64)
			if err != nil {
				return nil, errors.Wrapf(ErrFormat, "row %d column %s: %v", i+1, names[j], err)
			}
			row[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func detectFormat(data []byte) Format {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if bytes.ContainsRune(line, ',') {
			return FormatCSV
		}
		return FormatWhitespace
	}
	return FormatWhitespace
}

func whitespaceLines(data []byte) [][]string {
	var out [][]string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		out = append(out, strings.Fields(line))
	}
	return out
}

func numericRecord(rec []string) bool {
	for _, f := range rec {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return false
		}
	}
	return true
}

// resolveColumns returns the output column names and, for each, the index
// of the source field it is read from.
func resolveColumns(header, columns []string, width int) ([]string, []int, error) {
	switch {
	case header == nil && columns == nil:
		names := make([]string, width)
		pick := make([]int, width)
		for i := range names {
			names[i] = "col" + strconv.Itoa(i)
			pick[i] = i
		}
		return names, pick, nil
	case header == nil:
		pick := make([]int, len(columns))
		for i := range pick {
			pick[i] = i
		}
		return append([]string(nil), columns...), pick, nil
	case columns == nil:
		pick := make([]int, len(header))
		for i := range pick {
			pick[i] = i
		}
		return append([]string(nil), header...), pick, nil
	}

	pick := make([]int, len(columns))
	for i, name := range columns {
		pick[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				pick[i] = j
				break
			}
		}
		if pick[i] < 0 {
			return nil, nil, errors.Wrapf(ErrFormat, "column %q not in header %v", name, header)
		}
	}
	return append([]string(nil), columns...), pick, nil
}

// rewrap joins whitespace records into rows of exactly width fields.
func rewrap(lines [][]string, width int) ([][]string, error) {
	var tokens []string
	for _, l := range lines {
		tokens = append(tokens, l...)
	}
	if width == 0 || len(tokens)%width != 0 {
		return nil, errors.Wrapf(ErrFormat, "%d values do not divide into rows of %d columns", len(tokens), width)
	}
	rows := make([][]string, 0, len(tokens)/width)
	for i := 0; i < len(tokens); i += width {
		rows = append(rows, tokens[i:i+width])
	}
	return rows, nil
}

func checkWidths(records [][]string, pick []int) error {
	need := 0
	for _, p := range pick {
		if p+1 > need {
			need = p + 1
		}
	}
	for i, rec := range records {
		if len(rec) < need {
			return errors.Wrapf(ErrFormat, "row %d has %d fields, need %d", i+1, len(rec), need)
		}
	}
	return nil
}
