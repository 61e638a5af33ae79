package shardroute

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"gorm/shardroute/expand"
	"gorm/shardroute/rule"
	"gorm/shardroute/sqlparse"
	"gorm/shardroute/statement"
)

const callbackName = "gorm:shard_route"

func (sr *ShardRoute) registerCallbacks(db *gorm.DB) {
	db.Callback().Create().Before("*").Register(callbackName, sr.switchConn)
	db.Callback().Query().Before("*").Register(callbackName, sr.switchConn)
	db.Callback().Update().Before("*").Register(callbackName, sr.switchConn)
	db.Callback().Delete().Before("*").Register(callbackName, sr.switchConn)
	db.Callback().Row().Before("*").Register(callbackName, sr.switchConn)
	db.Callback().Raw().Before("*").Register(callbackName, sr.switchConn)
}

// switchConn builds the SQL early, routes and rewrites it, then points the statement at the
// routed pool. Statements inside a transaction run untouched on the transaction.
func (sr *ShardRoute) switchConn(db *gorm.DB) {
	if db.Error != nil || isTransaction(db.Statement.ConnPool) {
		return
	}
	if !expand.PreBuildSql(db) {
		return
	}

	plan, err := sr.Preview(db.Statement.Context, db.Statement.SQL.String(), db.Statement.Vars...)
	if err != nil {
		if (errors.Is(err, rule.ErrTableNotFound) || errors.Is(err, sqlparse.ErrParse)) && !sr.touchesRule(db.Statement) {
			// none of our tables, stays on the gorm pool
			return
		}
		_ = db.AddError(err)
		return
	}
	switch {
	case len(plan.Units) == 0:
		db.Statement.ConnPool = sr.empty
	case len(plan.Units) == 1:
		u := plan.Units[0]
		pool, err := sr.pool(u.DataSource)
		if err != nil {
			_ = db.AddError(err)
			return
		}
		var sql strings.Builder
		sql.WriteString(u.SQL)
		db.Statement.SQL = sql
		db.Statement.Vars = u.Params
		db.Statement.ConnPool = pool
	case plan.Statement.Kind == statement.Select:
		_ = db.AddError(ErrScatterQuery)
		return
	default:
		db.Statement.ConnPool = &scatterConnPool{sr: sr, plan: plan}
	}
	sr.mark(db.Statement, plan)
}

// touchesRule reports whether the statement names a table the sharding rule knows.
func (sr *ShardRoute) touchesRule(stmt *gorm.Statement) bool {
	var tables []string
	if stmt.Table != "" {
		tables = append(tables, stmt.Table)
	}
	if stmt.Schema != nil {
		tables = append(tables, stmt.Schema.Table)
	}
	if parsed, err := sqlparse.Parse(stmt.SQL.String()); err == nil {
		tables = append(tables, parsed.TableNames()...)
	}
	for _, name := range tables {
		if _, ok := sr.rule.FindTableRule(name); ok || sr.rule.IsBroadcastTable(name) {
			return true
		}
	}
	return false
}

func isTransaction(connPool gorm.ConnPool) bool {
	_, ok := connPool.(gorm.TxCommitter)
	return ok
}
