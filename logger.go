package shardroute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type routeModeKey struct{}

type routeModeLogger struct {
	logger.Interface
}

// Trace prefixes the SQL with the units it was routed to.
func (l routeModeLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	var splitFn = func() (sql string, rowsAffected int64) {
		sql, rowsAffected = fc()
		if units, ok := ctx.Value(routeModeKey{}).(string); ok {
			sql = fmt.Sprintf("[%s] %s", units, sql)
		}
		return
	}
	l.Interface.Trace(ctx, begin, splitFn, err)
}

func (l routeModeLogger) LogMode(level logger.LogLevel) logger.Interface {
	return routeModeLogger{Interface: l.Interface.LogMode(level)}
}

func NewRouteModeLogger(l logger.Interface) logger.Interface {
	if _, ok := l.(routeModeLogger); ok {
		return l
	}
	return routeModeLogger{
		Interface: l,
	}
}

func (sr *ShardRoute) mark(stmt *gorm.Statement, plan *Plan) {
	if _, ok := stmt.Logger.(routeModeLogger); !ok {
		return
	}
	units := make([]string, len(plan.Units))
	for i, u := range plan.Units {
		units[i] = u.Unit.String()
	}
	stmt.Context = context.WithValue(stmt.Context, routeModeKey{}, strings.Join(units, " "))
}
