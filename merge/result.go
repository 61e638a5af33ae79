// Package merge folds the results of every execution unit into one logical result.
package merge

import (
	"database/sql"

	"github.com/pkg/errors"
)

// QueryResult is a forward-only row cursor.
type QueryResult interface {
	Columns() []string
	Next() bool
	// Values is the current row; the slice is owned by the caller after Next.
	Values() []interface{}
	Err() error
	Close() error
}

// StreamResult reads rows from the connection as they are consumed.
type StreamResult struct {
	rows    *sql.Rows
	columns []string
	current []interface{}
	err     error
}

func NewStreamResult(rows *sql.Rows) (*StreamResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "read columns")
	}
	return &StreamResult{rows: rows, columns: columns}, nil
}

func (r *StreamResult) Columns() []string {
	return r.columns
}

func (r *StreamResult) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	row, err := scanRow(r.rows, len(r.columns))
	if err != nil {
		r.err = err
		return false
	}
	r.current = row
	return true
}

func (r *StreamResult) Values() []interface{} {
	return r.current
}

func (r *StreamResult) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *StreamResult) Close() error {
	return r.rows.Close()
}

func scanRow(rows *sql.Rows, n int) ([]interface{}, error) {
	row := make([]interface{}, n)
	dest := make([]interface{}, n)
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, errors.Wrap(err, "scan row")
	}
	return row, nil
}

// MemoryResult holds every row in memory.
type MemoryResult struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

func NewMemoryResult(columns []string, rows [][]interface{}) *MemoryResult {
	return &MemoryResult{columns: columns, rows: rows, pos: -1}
}

// Materialize drains and closes rows.
func Materialize(rows *sql.Rows) (*MemoryResult, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}
	var data [][]interface{}
	for rows.Next() {
		row, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read rows")
	}
	return NewMemoryResult(columns, data), nil
}

func (r *MemoryResult) Columns() []string {
	return r.columns
}

func (r *MemoryResult) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

func (r *MemoryResult) Values() []interface{} {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}
	return r.rows[r.pos]
}

func (r *MemoryResult) Err() error {
	return nil
}

func (r *MemoryResult) Close() error {
	return nil
}

// Len is the number of buffered rows.
func (r *MemoryResult) Len() int {
	return len(r.rows)
}

// ReadAll drains and closes a result.
func ReadAll(r QueryResult) ([][]interface{}, error) {
	defer r.Close()
	var rows [][]interface{}
	for r.Next() {
		rows = append(rows, r.Values())
	}
	return rows, r.Err()
}
