package tensor

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrUnknownColumn = errors.New("unknown column")
)

// Matrix is a dense row-major float32 matrix with named columns.
type Matrix struct {
	rows    int
	columns []string
	index   map[string]int
	data    []float32
}

func New(rows int, columns []string) (*Matrix, error) {
	if rows < 0 {
		return nil, fmt.Errorf("%w: negative row count %d", ErrShapeMismatch, rows)
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := index[c]; ok {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	return &Matrix{
		rows:    rows,
		columns: append([]string(nil), columns...),
		index:   index,
		data:    make([]float32, rows*len(columns)),
	}, nil
}

func (m *Matrix) Rows() int { return m.rows }

func (m *Matrix) Cols() int { return len(m.columns) }

func (m *Matrix) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Data exposes the row-major backing slice.
func (m *Matrix) Data() []float32 { return m.data }

func (m *Matrix) At(row, col int) float32 {
	return m.data[row*len(m.columns)+col]
}

func (m *Matrix) Set(row, col int, v float32) {
	m.data[row*len(m.columns)+col] = v
}

func (m *Matrix) Row(row int) []float32 {
	n := len(m.columns)
	return m.data[row*n : (row+1)*n]
}

func (m *Matrix) ColumnIndex(name string) (int, error) {
	i, ok := m.index[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownColumn, name)
	}
	return i, nil
}

// ColumnRange returns the half-open range [start, end) of the columns named
// prefix0 .. prefix{width-1}, which must be contiguous.
func (m *Matrix) ColumnRange(prefix string, width int) (int, int, error) {
	start, err := m.ColumnIndex(fmt.Sprintf("%s%d", prefix, 0))
	if err != nil {
		return 0, 0, err
	}
	for i := 1; i < width; i++ {
		j, err := m.ColumnIndex(fmt.Sprintf("%s%d", prefix, i))
		if err != nil {
			return 0, 0, err
		}
		if j != start+i {
			return 0, 0, fmt.Errorf("columns %s* are not contiguous", prefix)
		}
	}
	return start, start + width, nil
}

// SetRange copies v into row starting at column start.
func (m *Matrix) SetRange(row, start int, v []float32) error {
	if start < 0 || start+len(v) > len(m.columns) {
		return fmt.Errorf("%w: %d values at column %d of %d", ErrShapeMismatch, len(v), start, len(m.columns))
	}
	copy(m.Row(row)[start:start+len(v)], v)
	return nil
}

func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		rows:    m.rows,
		columns: m.columns,
		index:   m.index,
		data:    append([]float32(nil), m.data...),
	}
	return c
}

// OneHot builds a len(values) x len(classes) indicator matrix. Every value
// must be one of classes.
func OneHot(values []string, classes []string) (*Matrix, error) {
	m, err := New(len(values), classes)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		j, ok := m.index[v]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, v)
		}
		m.Set(i, j, 1)
	}
	return m, nil
}
