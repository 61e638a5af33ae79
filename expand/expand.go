// Package expand builds gorm statements before the gorm callbacks run, so that the SQL
// can be routed and rewritten first.
package expand

import (
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

var builders = map[string]func(db *gorm.DB) bool{
	"INSERT": buildCreate,
	"UPDATE": buildUpdate,
	"SELECT": buildQuery,
	"DELETE": buildDelete,
}

// PreBuildSql
//
//	@Description: 提前构造SQL，用于路由；Raw/Exec 已带SQL，不处理
//	@param db
//	@return bool 是否得到SQL
func PreBuildSql(db *gorm.DB) bool {
	stmt := db.Statement
	if stmt.SQL.Len() > 0 {
		return true
	}
	if len(stmt.BuildClauses) == 0 {
		return false
	}
	build, ok := builders[stmt.BuildClauses[0]]
	if !ok {
		return false
	}
	return build(db) && stmt.SQL.Len() > 0
}

func buildCreate(db *gorm.DB) bool {
	stmt := db.Statement
	stmt.SQL.Grow(180)
	stmt.AddClauseIfNotExists(clause.Insert{})
	stmt.AddClause(callbacks.ConvertToCreateValues(stmt))
	stmt.Build(stmt.BuildClauses...)
	return true
}

func buildUpdate(db *gorm.DB) bool {
	stmt := db.Statement
	stmt.SQL.Grow(180)
	stmt.AddClauseIfNotExists(clause.Update{})
	if _, ok := stmt.Clauses["SET"]; !ok {
		set := callbacks.ConvertToAssignments(stmt)
		if len(set) == 0 {
			// nothing to update, gorm reports it
			return false
		}
		stmt.AddClause(set)
	}
	stmt.Build(stmt.BuildClauses...)
	return true
}

func buildQuery(db *gorm.DB) bool {
	callbacks.BuildQuerySQL(db)
	return true
}

func buildDelete(db *gorm.DB) bool {
	stmt := db.Statement
	stmt.SQL.Grow(100)
	stmt.AddClauseIfNotExists(clause.Delete{})
	if stmt.Schema != nil {
		// delete by the primary keys of the destination, then of the model
		addPrimaryKeyCondition(stmt, stmt.ReflectValue)
		if stmt.ReflectValue.CanAddr() && stmt.Dest != stmt.Model && stmt.Model != nil {
			addPrimaryKeyCondition(stmt, reflect.ValueOf(stmt.Model))
		}
	}
	stmt.AddClauseIfNotExists(clause.From{})
	stmt.Build(stmt.BuildClauses...)
	return true
}

func addPrimaryKeyCondition(stmt *gorm.Statement, value reflect.Value) {
	_, queryValues := schema.GetIdentityFieldValuesMap(stmt.Context, value, stmt.Schema.PrimaryFields)
	column, values := schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, queryValues)
	if len(values) > 0 {
		stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.IN{Column: column, Values: values}}})
	}
}
