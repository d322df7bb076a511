package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoColumn = errors.New("no such column")
	ErrTooShort = errors.New("not enough samples")
)

// Table is a logged run held in memory, one row per log tick, sorted by time.
type Table struct {
	Columns []string
	Rows    [][]float64

	index map[string]int
}

func NewTable(columns []string, rows [][]float64) *Table {
	t := &Table{Columns: columns, Rows: rows}
	t.index = make(map[string]int, len(columns))
	for i, c := range columns {
		t.index[c] = i
	}
	return t
}

// Load reads a run's CSV. Rows with a missing or non numeric cell are dropped.
func Load(path string) (t *Table, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (t *Table, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows [][]float64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if row, ok := parseRow(record, len(header)); ok {
			rows = append(rows, row)
		}
	}

	t = NewTable(header, rows)
	if c, ok := t.index["time"]; ok {
		sort.SliceStable(t.Rows, func(i, j int) bool {
			return t.Rows[i][c] < t.Rows[j][c]
		})
	}
	return t, nil
}

func parseRow(record []string, width int) (row []float64, ok bool) {
	if len(record) < width {
		return nil, false
	}
	row = make([]float64, width)
	for i := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return nil, false
		}
		row[i] = v
	}
	return row, true
}

func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) Column(name string) ([]float64, error) {
	c, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoColumn, name)
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[c]
	}
	return out, nil
}

// Matching lists the columns starting with prefix, in file order.
func (t *Table) Matching(prefix string) (names []string) {
	for _, c := range t.Columns {
		if strings.HasPrefix(c, prefix) {
			names = append(names, c)
		}
	}
	return
}

// Matrix copies the named columns out as a rows x len(names) matrix, with a leading column of
// ones when intercept is set.
func (t *Table) Matrix(names []string, intercept bool) (*mat.Dense, error) {
	cols := make([]int, len(names))
	for i, name := range names {
		c, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrNoColumn, name)
		}
		cols[i] = c
	}
	if len(t.Rows) == 0 {
		return nil, ErrTooShort
	}

	offset := 0
	if intercept {
		offset = 1
	}
	m := mat.NewDense(len(t.Rows), len(cols)+offset, nil)
	for i, row := range t.Rows {
		if intercept {
			m.Set(i, 0, 1)
		}
		for j, c := range cols {
			m.Set(i, j+offset, row[c])
		}
	}
	return m, nil
}

// Trim drops the first start and the last end seconds, measured from the first row.
func (t *Table) Trim(start, end float64) (*Table, error) {
	times, err := t.Column("time")
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, ErrTooShort
	}

	t0 := times[0]
	duration := times[len(times)-1] - t0
	if duration <= start+end {
		return nil, fmt.Errorf("%w: %.3fs is too short to drop %gs at the start and %gs at the end", ErrTooShort, duration, start, end)
	}

	var rows [][]float64
	for i, row := range t.Rows {
		rel := times[i] - t0
		if rel >= start && rel <= duration-end {
			rows = append(rows, row)
		}
	}
	if len(rows) < 4 {
		return nil, fmt.Errorf("%w after trimming", ErrTooShort)
	}
	return NewTable(t.Columns, rows), nil
}

// Split cuts the table in time order, the first fraction for training and the rest for testing.
func (t *Table) Split(fraction float64) (train, test *Table, err error) {
	mid := int(float64(len(t.Rows)) * fraction)
	if mid == 0 || mid == len(t.Rows) {
		return nil, nil, fmt.Errorf("%w for a %.2f split of %d rows", ErrTooShort, fraction, len(t.Rows))
	}
	return NewTable(t.Columns, t.Rows[:mid]), NewTable(t.Columns, t.Rows[mid:]), nil
}
