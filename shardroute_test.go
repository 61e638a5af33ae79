package shardroute

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"gorm/shardroute/merge"
	"gorm/shardroute/readwrite"
	"gorm/shardroute/rule"
	"gorm/shardroute/strategy"
)

func newMock(t *testing.T) (gorm.ConnPool, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func orderRule(t *testing.T) *rule.ShardingRule {
	r, err := rule.New(&rule.Config{
		Tables: []rule.TableConfig{{
			LogicTable:       "t_order",
			ActualDataNodes:  "ds_${0..1}.t_order",
			DatabaseStrategy: &strategy.Config{ShardingColumn: "user_id", Expression: "ds_${user_id % 2}"},
		}},
	}, []string{"ds_0", "ds_1"})
	require.NoError(t, err)
	return r
}

func newShardRoute(t *testing.T, cfg Config) (*ShardRoute, map[string]sqlmock.Sqlmock) {
	mocks := make(map[string]sqlmock.Sqlmock)
	if cfg.DataSources == nil {
		cfg.DataSources = make(map[string]gorm.ConnPool)
		for _, name := range []string{"ds_0", "ds_1"} {
			cfg.DataSources[name], mocks[name] = newMock(t)
		}
	}
	if cfg.Rule == nil {
		cfg.Rule = orderRule(t)
	}
	cfg.PoolSize = 4
	sr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(sr.Close)
	return sr, mocks
}

func expectationsMet(t *testing.T, mocks map[string]sqlmock.Sqlmock) {
	for name, m := range mocks {
		assert.NoError(t, m.ExpectationsWereMet(), name)
	}
}

func TestInsertThenSelect(t *testing.T) {
	sr, mocks := newShardRoute(t, Config{})
	ctx := context.Background()

	mocks["ds_1"].ExpectExec("INSERT INTO t_order (user_id, status) VALUES (?, ?)").
		WithArgs(int64(3), "new").WillReturnResult(sqlmock.NewResult(7, 1))
	res, err := sr.Exec(ctx, "INSERT INTO t_order (user_id, status) VALUES (?, ?)", int64(3), "new")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	routed, err := sr.Route(ctx, "SELECT * FROM t_order WHERE user_id = 3")
	require.NoError(t, err)
	require.Len(t, routed.Units, 1)
	assert.Equal(t, "(ds_1, t_order)", routed.Units[0].String())

	mocks["ds_0"].ExpectQuery("SELECT * FROM t_order").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "status"}).AddRow(int64(2), "paid"))
	mocks["ds_1"].ExpectQuery("SELECT * FROM t_order").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "status"}).AddRow(int64(3), "new"))
	result, err := sr.Query(ctx, "SELECT * FROM t_order")
	require.NoError(t, err)
	rows, err := merge.ReadAll(result)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(2), "paid"}, {int64(3), "new"}}, rows)
	expectationsMet(t, mocks)
}

func TestPaginationAcrossShards(t *testing.T) {
	sr, mocks := newShardRoute(t, Config{})
	ctx := context.Background()

	units, err := sr.Rewrite(ctx, "SELECT id FROM t_order LIMIT 10 OFFSET 5")
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, "SELECT id FROM t_order LIMIT 15 OFFSET 0", u.SQL)
	}

	units, err = sr.Rewrite(ctx, "SELECT id FROM t_order LIMIT 5, 9223372036854775807")
	require.NoError(t, err)
	for _, u := range units {
		assert.Equal(t, "SELECT id FROM t_order LIMIT 0, 9223372036854775807", u.SQL)
	}

	for i, name := range []string{"ds_0", "ds_1"} {
		rows := sqlmock.NewRows([]string{"id"})
		for id := 0; id < 15; id++ {
			rows.AddRow(int64(i*100 + id))
		}
		mocks[name].ExpectQuery("SELECT id FROM t_order LIMIT 15 OFFSET 0").WillReturnRows(rows)
	}
	result, err := sr.Query(ctx, "SELECT id FROM t_order LIMIT 10 OFFSET 5")
	require.NoError(t, err)
	rows, err := merge.ReadAll(result)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for i, row := range rows {
		assert.Equal(t, int64(5+i), row[0])
	}
	expectationsMet(t, mocks)
}

func TestGroupByLimitAcrossShards(t *testing.T) {
	sr, mocks := newShardRoute(t, Config{})
	query := "SELECT status, SUM(amount) AS s FROM t_order GROUP BY status ORDER BY s DESC LIMIT 1"
	sent := "SELECT status, SUM(amount) AS s FROM t_order GROUP BY status ORDER BY s DESC LIMIT 9223372036854775807"
	mocks["ds_0"].ExpectQuery(sent).
		WillReturnRows(sqlmock.NewRows([]string{"status", "s"}).AddRow("A", int64(10)).AddRow("B", int64(9)))
	mocks["ds_1"].ExpectQuery(sent).
		WillReturnRows(sqlmock.NewRows([]string{"status", "s"}).AddRow("B", int64(9)).AddRow("A", int64(1)))

	result, err := sr.Query(context.Background(), query)
	require.NoError(t, err)
	rows, err := merge.ReadAll(result)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"B", int64(18)}}, rows)
	expectationsMet(t, mocks)
}

func TestPreviewSplitsInsert(t *testing.T) {
	sr, _ := newShardRoute(t, Config{})
	plan, err := sr.Preview(context.Background(), "INSERT INTO t_order (user_id, status) VALUES (1, 'a'), (2, 'b'), (5, 'c')")
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "ds_0", plan.Units[0].DataSource)
	assert.Equal(t, "INSERT INTO t_order (user_id, status) VALUES (2, 'b')", plan.Units[0].SQL)
	assert.Equal(t, "ds_1", plan.Units[1].DataSource)
	assert.Equal(t, "INSERT INTO t_order (user_id, status) VALUES (1, 'a'), (5, 'c')", plan.Units[1].SQL)
}

func TestDollarPlaceholders(t *testing.T) {
	sr, _ := newShardRoute(t, Config{DollarDataSources: []string{"ds_1"}})
	units, err := sr.Rewrite(context.Background(), "SELECT * FROM t_order WHERE user_id IN (?, ?)", int64(2), int64(3))
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "SELECT * FROM t_order WHERE user_id IN (?, ?)", units[0].SQL)
	assert.Equal(t, "SELECT * FROM t_order WHERE user_id IN ($1, $2)", units[1].SQL)
}

func TestReadWriteSplitting(t *testing.T) {
	rw, err := readwrite.New([]readwrite.Config{
		{Name: "ds_0", Primary: "ds_0_primary", Replicas: []string{"ds_0_replica"}},
		{Name: "ds_1", Primary: "ds_1_primary", Replicas: []string{"ds_1_replica"}},
	}, nil)
	require.NoError(t, err)
	pools := make(map[string]gorm.ConnPool)
	mocks := make(map[string]sqlmock.Sqlmock)
	for _, name := range rw.PhysicalDataSourceNames() {
		pools[name], mocks[name] = newMock(t)
	}
	sr, _ := newShardRoute(t, Config{DataSources: pools, ReadWrite: rw})
	ctx := context.Background()

	mocks["ds_1_replica"].ExpectQuery("SELECT status FROM t_order WHERE user_id = ?").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("new"))
	result, err := sr.Query(ctx, "SELECT status FROM t_order WHERE user_id = ?", int64(3))
	require.NoError(t, err)
	rows, err := merge.ReadAll(result)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"new"}}, rows)

	mocks["ds_1_primary"].ExpectExec("UPDATE t_order SET status = ? WHERE user_id = ?").WithArgs("paid", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = sr.Exec(ctx, "UPDATE t_order SET status = ? WHERE user_id = ?", "paid", int64(3))
	require.NoError(t, err)
	expectationsMet(t, mocks)
}

type order struct {
	ID     int64
	UserID int64
	Status string
}

func (order) TableName() string {
	return "t_order"
}

func openGorm(t *testing.T, sr *ShardRoute) (*gorm.DB, sqlmock.Sqlmock) {
	conn, mock := newMock(t)
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: conn, SkipInitializeWithVersion: true}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, db.Use(sr))
	return db, mock
}

func TestGormPlugin(t *testing.T) {
	sr, mocks := newShardRoute(t, Config{})
	db, main := openGorm(t, sr)

	mocks["ds_1"].ExpectQuery("SELECT * FROM `t_order` WHERE user_id = ?").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(int64(1), int64(3), "new"))
	var orders []order
	require.NoError(t, db.Where("user_id = ?", int64(3)).Find(&orders).Error)
	assert.Equal(t, []order{{ID: 1, UserID: 3, Status: "new"}}, orders)

	mocks["ds_0"].ExpectExec("INSERT INTO `t_order` (`user_id`,`status`) VALUES (?,?)").WithArgs(int64(4), "new").
		WillReturnResult(sqlmock.NewResult(11, 1))
	created := order{UserID: 4, Status: "new"}
	require.NoError(t, db.Create(&created).Error)
	assert.Equal(t, int64(11), created.ID)

	for _, name := range []string{"ds_0", "ds_1"} {
		mocks[name].ExpectExec("UPDATE t_order SET status = ?").WithArgs("void").WillReturnResult(sqlmock.NewResult(0, 2))
	}
	tx := db.Exec("UPDATE t_order SET status = ?", "void")
	require.NoError(t, tx.Error)
	assert.Equal(t, int64(4), tx.RowsAffected)

	err := db.Find(&orders).Error
	assert.ErrorIs(t, err, ErrScatterQuery)

	main.ExpectQuery("SELECT * FROM `users`").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	var users []map[string]interface{}
	require.NoError(t, db.Table("users").Find(&users).Error)

	expectationsMet(t, mocks)
	assert.NoError(t, main.ExpectationsWereMet())
}

func TestGormEmptyRoute(t *testing.T) {
	sr, mocks := newShardRoute(t, Config{})
	db, main := openGorm(t, sr)

	orders := []order{{ID: 99}}
	require.NoError(t, db.Where("user_id = 1 AND user_id = 2").Find(&orders).Error)
	assert.Empty(t, orders)

	tx := db.Exec("UPDATE t_order SET status = ? WHERE user_id = 1 AND user_id = 2", "void")
	require.NoError(t, tx.Error)
	assert.Equal(t, int64(0), tx.RowsAffected)

	// no expectation is set, a statement reaching any mock fails the call
	expectationsMet(t, mocks)
	assert.NoError(t, main.ExpectationsWereMet())
}

func TestGormHintClauses(t *testing.T) {
	rw, err := readwrite.New([]readwrite.Config{
		{Name: "ds_0", Primary: "ds_0_primary", Replicas: []string{"ds_0_replica"}},
		{Name: "ds_1", Primary: "ds_1_primary", Replicas: []string{"ds_1_replica"}},
	}, nil)
	require.NoError(t, err)
	pools := make(map[string]gorm.ConnPool)
	mocks := make(map[string]sqlmock.Sqlmock)
	for _, name := range rw.PhysicalDataSourceNames() {
		pools[name], mocks[name] = newMock(t)
	}
	sr, _ := newShardRoute(t, Config{DataSources: pools, ReadWrite: rw})
	db, _ := openGorm(t, sr)

	mocks["ds_0_primary"].ExpectQuery("SELECT * FROM `t_order`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(int64(8), int64(2), "paid"))
	var orders []order
	require.NoError(t, db.Clauses(Hint("t_order", []interface{}{int64(2)}, nil), ForcePrimary()).Find(&orders).Error)
	assert.Equal(t, []order{{ID: 8, UserID: 2, Status: "paid"}}, orders)
	expectationsMet(t, mocks)
}

func TestCall(t *testing.T) {
	sr, _ := newShardRoute(t, Config{})
	var names []string
	require.NoError(t, sr.Call(func(name string, _ gorm.ConnPool) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"ds_0", "ds_1"}, names)
}
