package merge

import (
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"gorm/shardroute/pagination"
	"gorm/shardroute/statement"
)

var ErrColumnMismatch = errors.New("shard results have different columns")

// Merge combines unit results. One result passes through untouched; otherwise rows are
// grouped, ordered or concatenated in unit order, then cut to the logical window.
// Merge takes ownership of results and closes them on error.
func Merge(results []QueryResult, stmt *statement.Statement, model *pagination.Model, params []interface{}) (QueryResult, error) {
	switch len(results) {
	case 0:
		return NewMemoryResult(nil, nil), nil
	case 1:
		return results[0], nil
	}
	merged, err := merge(results, stmt, model, params)
	if err != nil {
		closeAll(results)
		return nil, err
	}
	return merged, nil
}

func merge(results []QueryResult, stmt *statement.Statement, model *pagination.Model, params []interface{}) (QueryResult, error) {
	columns := results[0].Columns()
	for i, r := range results[1:] {
		if len(r.Columns()) != len(columns) {
			return nil, errors.Wrapf(ErrColumnMismatch, "unit 0 has %d columns, unit %d has %d", len(columns), i+1, len(r.Columns()))
		}
	}

	var merged QueryResult
	switch {
	case len(stmt.GroupBy) > 0 || stmt.HasAggregation():
		m, err := groupBy(results, stmt)
		if err != nil {
			return nil, err
		}
		if err := closeAll(results); err != nil {
			return nil, err
		}
		merged = m
	case len(stmt.OrderBy) > 0:
		cmp, err := OrderByComparator(stmt.OrderBy, columns)
		if err != nil {
			return nil, err
		}
		merged = newOrderedResult(results, cmp)
	default:
		merged = newIteratorResult(results)
	}

	if model.IsUnbounded() {
		return merged, nil
	}
	offset, err := model.Offset(params)
	if err != nil {
		return nil, err
	}
	rowCount, err := model.RowCount(params)
	if err != nil {
		return nil, err
	}
	return &paginatedResult{QueryResult: merged, offset: offset, rowCount: rowCount}, nil
}

func closeAll(results []QueryResult) error {
	var err error
	for _, r := range results {
		if r != nil {
			err = multierr.Append(err, r.Close())
		}
	}
	return err
}

// ExecResult is the merged result of a write fanned out to several units.
type ExecResult struct {
	affected     int64
	lastInsertID int64
}

func (r ExecResult) RowsAffected() (int64, error) {
	return r.affected, nil
}

func (r ExecResult) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

// MergeExec sums affected rows; the last insert id is the first non-zero one.
func MergeExec(results []sql.Result) (sql.Result, error) {
	if len(results) == 1 {
		return results[0], nil
	}
	var out ExecResult
	for _, r := range results {
		n, err := r.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "rows affected")
		}
		out.affected += n
		if out.lastInsertID == 0 {
			if id, err := r.LastInsertId(); err == nil {
				out.lastInsertID = id
			}
		}
	}
	return out, nil
}
