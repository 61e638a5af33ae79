package merge

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorm/shardroute/pagination"
	"gorm/shardroute/statement"
)

type trackedResult struct {
	*MemoryResult
	closed bool
}

func (t *trackedResult) Close() error {
	t.closed = true
	return nil
}

func memory(columns []string, rows ...[]interface{}) *trackedResult {
	return &trackedResult{MemoryResult: NewMemoryResult(columns, rows)}
}

func ids(from, to int64) [][]interface{} {
	var rows [][]interface{}
	for i := from; i < to; i++ {
		rows = append(rows, []interface{}{i, "name"})
	}
	return rows
}

var cols = []string{"id", "name"}

func limitModel(offset, rowCount int64) *pagination.Model {
	return pagination.New(&statement.Statement{Pagination: statement.PaginationSegment{Limit: &statement.LimitSegment{
		Offset:   &statement.NumberSegment{Value: statement.Literal(offset)},
		RowCount: &statement.NumberSegment{Value: statement.Literal(rowCount)},
	}}})
}

func TestMergeSinglePassthrough(t *testing.T) {
	r := memory(cols, []interface{}{int64(1), "a"})
	merged, err := Merge([]QueryResult{r}, &statement.Statement{OrderBy: []statement.OrderByItem{{Column: "id"}}}, limitModel(5, 1), nil)
	require.NoError(t, err)
	assert.Same(t, r, merged)
}

func TestMergeConcatenation(t *testing.T) {
	results := []QueryResult{
		memory(cols, []interface{}{int64(3), "ds_0"}),
		memory(cols, []interface{}{int64(1), "ds_1"}),
		memory(cols),
		memory(cols, []interface{}{int64(2), "ds_3"}),
	}
	merged, err := Merge(results, &statement.Statement{}, pagination.New(&statement.Statement{}), nil)
	require.NoError(t, err)
	assert.Equal(t, cols, merged.Columns())
	rows, err := ReadAll(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(3), "ds_0"}, {int64(1), "ds_1"}, {int64(2), "ds_3"}}, rows)
	for _, r := range results {
		assert.True(t, r.(*trackedResult).closed)
	}
}

func TestMergePaginationWindow(t *testing.T) {
	// each shard was asked for offset+rowCount = 15 rows
	results := []QueryResult{memory(cols, ids(0, 15)...), memory(cols, ids(100, 115)...)}
	merged, err := Merge(results, &statement.Statement{}, limitModel(5, 10), nil)
	require.NoError(t, err)
	rows, err := ReadAll(merged)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, int64(5), rows[0][0], "window starts at logical position 5 of the combined stream")
	assert.Equal(t, int64(14), rows[9][0])

	results = []QueryResult{memory(cols, ids(0, 15)...), memory(cols, ids(100, 115)...)}
	merged, err = Merge(results, &statement.Statement{}, limitModel(25, 10), nil)
	require.NoError(t, err)
	rows, err = ReadAll(merged)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestMergeOrdered(t *testing.T) {
	results := []QueryResult{
		memory(cols, []interface{}{int64(1), "a"}, []interface{}{int64(4), "a"}, []interface{}{int64(9), "a"}),
		memory(cols, []interface{}{int64(2), "b"}, []interface{}{int64(4), "b"}),
		memory(cols, []interface{}{[]byte("3"), "c"}),
	}
	stmt := &statement.Statement{OrderBy: []statement.OrderByItem{{Column: "o.id"}}}
	merged, err := Merge(results, stmt, limitModel(1, 4), nil)
	require.NoError(t, err)
	rows, err := ReadAll(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{
		{int64(2), "b"}, {[]byte("3"), "c"}, {int64(4), "a"}, {int64(4), "b"},
	}, rows)

	desc := []QueryResult{
		memory(cols, []interface{}{int64(9), "a"}, []interface{}{nil, "a"}),
		memory(cols, []interface{}{int64(5), "b"}),
	}
	merged, err = Merge(desc, &statement.Statement{OrderBy: []statement.OrderByItem{{Index: 1, Desc: true}}}, nil, nil)
	require.NoError(t, err)
	rows, err = ReadAll(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(9), "a"}, {int64(5), "b"}, {nil, "a"}}, rows)
}

func TestMergeColumnMismatch(t *testing.T) {
	a := memory(cols)
	b := memory([]string{"id"})
	_, err := Merge([]QueryResult{a, b}, &statement.Statement{}, nil, nil)
	assert.ErrorIs(t, err, ErrColumnMismatch)
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	_, err = Merge([]QueryResult{memory(cols), memory(cols)}, &statement.Statement{OrderBy: []statement.OrderByItem{{Column: "age"}}}, nil, nil)
	assert.ErrorIs(t, err, ErrOrderByColumn)
}

func TestMergeGroupBy(t *testing.T) {
	columns := []string{"status", "cnt", "total", "latest"}
	stmt := &statement.Statement{
		GroupBy: []statement.OrderByItem{{Column: "status"}},
		Projections: []statement.Projection{
			{Expression: "status"},
			{Expression: "COUNT(*)", Alias: "cnt", Aggregation: statement.Count},
			{Expression: "SUM(amount)", Alias: "total", Aggregation: statement.Sum},
			{Expression: "MAX(created)", Alias: "latest", Aggregation: statement.Max},
		},
	}
	results := []QueryResult{
		memory(columns, []interface{}{"paid", int64(2), []byte("10.5"), int64(7)}, []interface{}{"new", int64(1), []byte("1"), int64(3)}),
		memory(columns, []interface{}{"paid", int64(3), []byte("4.5"), int64(9)}, []interface{}{"void", int64(1), nil, nil}),
	}
	merged, err := Merge(results, stmt, nil, nil)
	require.NoError(t, err)
	rows, err := ReadAll(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{
		{"new", int64(1), int64(1), int64(3)},
		{"paid", int64(5), 15.0, int64(9)},
		{"void", int64(1), nil, nil},
	}, rows)

	count := &statement.Statement{Projections: []statement.Projection{{Expression: "COUNT(*)", Aggregation: statement.Count}}}
	merged, err = Merge([]QueryResult{memory([]string{"COUNT(*)"}, []interface{}{int64(4)}), memory([]string{"COUNT(*)"}, []interface{}{int64(6)})}, count, nil, nil)
	require.NoError(t, err)
	rows, err = ReadAll(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(10)}}, rows)

	avg := &statement.Statement{Projections: []statement.Projection{{Expression: "AVG(x)", Aggregation: statement.Avg}}}
	_, err = Merge([]QueryResult{memory([]string{"AVG(x)"}), memory([]string{"AVG(x)"})}, avg, nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedAggregation)
}

func TestStreamResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name FROM t_order_0").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), "a").AddRow(int64(2), "b"))
	mock.ExpectQuery("SELECT id, name FROM t_order_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), "c"))

	rows0, err := db.Query("SELECT id, name FROM t_order_0")
	require.NoError(t, err)
	s0, err := NewStreamResult(rows0)
	require.NoError(t, err)
	rows1, err := db.Query("SELECT id, name FROM t_order_1")
	require.NoError(t, err)
	m1, err := Materialize(rows1)
	require.NoError(t, err)
	assert.Equal(t, 1, m1.Len())

	merged, err := Merge([]QueryResult{s0, m1}, &statement.Statement{}, nil, nil)
	require.NoError(t, err)
	out, err := ReadAll(merged)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"}}, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeExec(t *testing.T) {
	merged, err := MergeExec([]sql.Result{sqlmock.NewResult(0, 2), sqlmock.NewResult(11, 3)})
	require.NoError(t, err)
	n, err := merged.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	id, err := merged.LastInsertId()
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	_, err = MergeExec([]sql.Result{sqlmock.NewResult(0, 1), sqlmock.NewErrorResult(sql.ErrConnDone)})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
