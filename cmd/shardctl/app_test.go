package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shardToml = `
[data-sources.ds_0]
dsn = "root:root@tcp(127.0.0.1:3306)/ds_0"

[data-sources.ds_1]
dsn = "root:root@tcp(127.0.0.1:3306)/ds_1"

[[rule.tables]]
logic-table = "t_order"
actual-data-nodes = "ds_${0..1}.t_order"

[rule.tables.database-strategy]
sharding-column = "user_id"
expression = "ds_${user_id % 2}"
`

func run(t *testing.T, args ...string) (string, error) {
	path := filepath.Join(t.TempDir(), "shard.toml")
	require.NoError(t, os.WriteFile(path, []byte(shardToml), 0o600))
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", path))
	err := root.Execute()
	return out.String(), err
}

func TestPreviewCommand(t *testing.T) {
	out, err := run(t, "preview", "--sql", "SELECT * FROM t_order WHERE user_id = ?", "--param", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "DATASOURCE")
	assert.Contains(t, out, "ds_1")
	assert.Contains(t, out, "t_order:t_order")
	assert.NotContains(t, out, "ds_0")
}

func TestPreviewCommandNeedsSQL(t *testing.T) {
	_, err := run(t, "preview")
	assert.Error(t, err)
}

func TestCheckCommand(t *testing.T) {
	out, err := run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "ds_0")
	assert.Contains(t, out, "ds_1")
}

func TestParseParams(t *testing.T) {
	assert.Equal(t, []interface{}{int64(3), 1.5, nil, "abc"}, parseParams([]string{"3", "1.5", "NULL", "abc"}))
}
