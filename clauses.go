package shardroute

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gorm/shardroute/hint"
)

// Hint routes table by the given values instead of the values in the SQL.
// A nil slice leaves that axis to the SQL.
func Hint(table string, databaseValues, tableValues []interface{}) clause.Expression {
	return hinted{table: table, dbValues: databaseValues, tbValues: tableValues}
}

type hinted struct {
	table    string
	dbValues []interface{}
	tbValues []interface{}
}

// ModifyStatement carries the values in the statement context
func (h hinted) ModifyStatement(stmt *gorm.Statement) {
	if h.dbValues != nil {
		stmt.Context = hint.WithDatabaseValues(stmt.Context, h.table, h.dbValues...)
	}
	if h.tbValues != nil {
		stmt.Context = hint.WithTableValues(stmt.Context, h.table, h.tbValues...)
	}
}

// Build implements clause.Expression interface
func (hinted) Build(clause.Builder) {
}

// ForcePrimary sends reads to the primary of every read-write group.
func ForcePrimary() clause.Expression {
	return primary{}
}

type primary struct{}

func (primary) ModifyStatement(stmt *gorm.Statement) {
	stmt.Context = hint.WithPrimary(stmt.Context)
}

func (primary) Build(clause.Builder) {
}
