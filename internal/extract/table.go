package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Table is a rectangular grid of cell text, addressed 0-based by (row, column).
// Cells never set read as the empty string.
type Table struct {
	rows    int
	columns int
	cells   [][]string
}

// NewTable allocates an empty rows×columns grid.
func NewTable(rows, columns int) *Table {
	if rows < 0 {
		rows = 0
	}
	if columns < 0 {
		columns = 0
	}
	cells := make([][]string, rows)
	for r := range cells {
		cells[r] = make([]string, columns)
	}
	return &Table{rows: rows, columns: columns, cells: cells}
}

func (t *Table) Rows() int    { return t.rows }
func (t *Table) Columns() int { return t.columns }

// Set stores text at (row, column); coordinates outside the grid are ignored.
func (t *Table) Set(row, column int, text string) {
	if row < 0 || row >= t.rows || column < 0 || column >= t.columns {
		return
	}
	t.cells[row][column] = text
}

// Cell returns the text at (row, column), or "" when there is none.
func (t *Table) Cell(row, column int) string {
	if row < 0 || row >= t.rows || column < 0 || column >= t.columns {
		return ""
	}
	return t.cells[row][column]
}

// RowObjects materialises the grid row-major, one Row per table row.
func (t *Table) RowObjects() []Row {
	out := make([]Row, t.rows)
	for r := 0; r < t.rows; r++ {
		row := make(Row, t.columns)
		copy(row, t.cells[r])
		out[r] = row
	}
	return out
}

// Row holds one table row's cell text in column order.
// It encodes as {"Column1": ..., "ColumnN": ...} with keys in column order.
type Row []string

// Get returns the value for a 1-based key such as "Column2", and whether the key exists.
func (r Row) Get(key string) (string, bool) {
	n, ok := columnIndex(key)
	if !ok || n > len(r) {
		return "", false
	}
	return r[n-1], true
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"` + ColumnKey(i) + `":`)
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	row := make(Row, len(m))
	for k, v := range m {
		if n, ok := columnIndex(k); ok && n <= len(row) {
			row[n-1] = v
		}
	}
	*r = row
	return nil
}

// ColumnKey names the 0-based column index in output, 1-based: ColumnKey(0) == "Column1".
func ColumnKey(column int) string {
	return "Column" + strconv.Itoa(column+1)
}

func columnIndex(key string) (int, bool) {
	const prefix = "Column"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(key[len(prefix):])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
