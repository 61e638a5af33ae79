package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gorm/shardroute/execute"
)

const sample = `
trace-route-mode = true

[data-sources.ds_0_primary]
db-type = "mysql"
dsn = "root:root@tcp(127.0.0.1:3306)/ds_0"
max-open-conns = 20

[data-sources.ds_0_replica]
dsn = "root:root@tcp(127.0.0.1:3307)/ds_0"

[data-sources.ds_1]
db-type = "postgres"
dsn = "host=127.0.0.1 user=root dbname=ds_1"

[[read-write]]
name = "ds_0"
primary = "ds_0_primary"
replicas = ["ds_0_replica"]
policy = "round-robin"

[rule]
broadcast-tables = ["t_config"]

[[rule.tables]]
logic-table = "t_order"
actual-data-nodes = "ds_${0..1}.t_order_${0..1}"

[rule.tables.database-strategy]
sharding-column = "user_id"
expression = "ds_${user_id % 2}"

[rule.tables.table-strategy]
sharding-column = "order_id"
expression = "t_order_${order_id % 2}"

[executor]
pool-size = 8
connection-mode = "CONNECTION_STRICTLY"
wait-all = true

[log]
log-level = "warn"
`

func TestDecode(t *testing.T) {
	cfg, err := Decode(sample)
	require.NoError(t, err)
	assert.True(t, cfg.TraceRouteMode)
	assert.Equal(t, 20, cfg.DataSources["ds_0_primary"].MaxOpenConns)
	assert.Equal(t, []string{"ds_0", "ds_1"}, cfg.LogicDataSources())
	assert.Equal(t, []string{"ds_1"}, cfg.DollarDataSources())
	require.Len(t, cfg.Rule.Tables, 1)
	assert.Equal(t, "user_id", cfg.Rule.Tables[0].DatabaseStrategy.ShardingColumn)

	opts, err := cfg.Executor.Options()
	require.NoError(t, err)
	assert.Equal(t, execute.ConnectionStrictly, opts.Mode)
	assert.Equal(t, execute.WaitAll, opts.Failure)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.LogLevel)

	require.NoError(t, os.WriteFile(path, []byte(sample+"\nunknown-key = 1\n"), 0o600))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecodeJSON(t *testing.T) {
	cfg, err := DecodeJSON(`{
		"data-sources": {"ds_0": {"dsn": "a"}, "ds_1": {"dsn": "b"}},
		"rule": {"default-data-source": "ds_0", "tables": [{"logic-table": "t_user", "actual-data-nodes": "ds_${0..1}.t_user"}]}
	}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_0", "ds_1"}, cfg.LogicDataSources())
	assert.Equal(t, "ds_0", cfg.Rule.DefaultDataSource)

	_, err = DecodeJSON(`{"data-sources": {"ds_0": {"dsn": "a", "max-conns": 5}}}`)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = DecodeJSON(`{"data-sources": `)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(sample + "\nunknown-key = 1\n")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "unknown-key")

	_, err = Decode(`
[data-sources.ds_0]
dsn = "a"
max-conns = 5
`)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "data-sources.ds_0.max-conns")
}

func TestApplyPool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	DBConfig{MaxOpenConns: 7, MaxIdleConns: 3, MaxLifetime: 60}.applyPool(db)
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)

	// zero settings keep what the pool already has
	DBConfig{}.applyPool(db)
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)

	// a pool without connection settings is ignored
	assert.NotPanics(t, func() { DBConfig{MaxOpenConns: 1}.applyPool(&gorm.PreparedStmtDB{}) })
}

func TestValidate(t *testing.T) {
	_, err := Decode(`
[data-sources.ds_0]
db-type = "oracle"
`)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Decode(`
[data-sources.ds_0]
dsn = "a"

[[read-write]]
name = "ds"
primary = "ds_0"
replicas = ["ds_9"]
`)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Decode(`
[executor]
connection-mode = "FAST"
`)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuildPreview(t *testing.T) {
	cfg, err := Decode(sample)
	require.NoError(t, err)
	sr, err := cfg.Build(nil, nil)
	require.NoError(t, err)
	defer sr.Close()

	plan, err := sr.Preview(context.Background(), "SELECT * FROM t_order WHERE user_id = ? AND order_id = ?", int64(1), int64(3))
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "ds_1", plan.Units[0].DataSource)
	assert.Equal(t, "SELECT * FROM t_order_1 WHERE user_id = $1 AND order_id = $2", plan.Units[0].SQL)

	plan, err = sr.Preview(context.Background(), "SELECT * FROM t_order WHERE user_id = 2 AND order_id = 4")
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	// read-write group resolves to its replica on reads
	assert.Equal(t, "ds_0_replica", plan.Units[0].DataSource)
	assert.Equal(t, "SELECT * FROM t_order_0 WHERE user_id = 2 AND order_id = 4", plan.Units[0].SQL)
}
