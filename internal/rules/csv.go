package rules

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentic-research/stacgen/api"
)

// Delimiter separates the columns of rule-set and routing files.
const Delimiter = ';'

// columnMap matches canonical column names to their index in a header row.
type columnMap struct {
	names   []string
	indexes []int
}

// newColumnMap locates every wanted column in header. The header must name
// exactly the wanted columns, in order.
func newColumnMap(wanted, header []string) (columnMap, error) {
	if len(header) != len(wanted) {
		return columnMap{}, fmt.Errorf("header has %d columns, want %d (%s)",
			len(header), len(wanted), strings.Join(wanted, string(Delimiter)))
	}
	inverse := make(map[string]int, len(header))
	for idx, name := range header {
		inverse[strings.TrimSpace(name)] = idx
	}
	m := columnMap{names: wanted, indexes: make([]int, len(wanted))}
	for idx, name := range wanted {
		col, ok := inverse[name]
		if !ok {
			return columnMap{}, fmt.Errorf("missing column %q", name)
		}
		if col != idx {
			return columnMap{}, fmt.Errorf("column %q at position %d, want %d", name, col+1, idx+1)
		}
		m.indexes[idx] = col
	}
	return m, nil
}

// values returns the trimmed row values keyed by column name.
func (m columnMap) values(row []string) map[string]string {
	out := make(map[string]string, len(m.names))
	for i, name := range m.names {
		out[name] = strings.TrimSpace(row[m.indexes[i]])
	}
	return out
}

// record is one data row and the line it started on.
type record struct {
	line   int
	values map[string]string
}

// readTable reads a delimited file with a mandatory header. Problems are
// returned as *api.ConfigError located at path:line.
func readTable(path string, wanted []string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &api.ConfigError{Source: path, Msg: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.Comma = Delimiter
	r.Comment = '#'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, api.Configf(path, "empty file, want header %s", strings.Join(wanted, string(Delimiter)))
	}
	if err != nil {
		return nil, &api.ConfigError{Source: path, Msg: "read header", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	line, _ := r.FieldPos(0)
	cols, err := newColumnMap(wanted, header)
	if err != nil {
		return nil, &api.ConfigError{Source: fmt.Sprintf("%s:%d", path, line), Err: err}
	}

	var out []record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, &api.ConfigError{Source: path, Err: err}
		}
		line, _ := r.FieldPos(0)
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) != len(wanted) {
			return nil, api.Configf(fmt.Sprintf("%s:%d", path, line), "row has %d columns, want %d", len(row), len(wanted))
		}
		out = append(out, record{line: line, values: cols.values(row)})
	}
}
