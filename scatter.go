package shardroute

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// scatterConnPool runs a planned write on every unit. gorm hands it the logic SQL, which
// is ignored in favor of the plan.
type scatterConnPool struct {
	sr   *ShardRoute
	plan *Plan
}

func (p *scatterConnPool) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, errors.Wrap(ErrScatterQuery, "prepare")
}

func (p *scatterConnPool) ExecContext(ctx context.Context, _ string, _ ...interface{}) (sql.Result, error) {
	return p.sr.exec(ctx, p.plan)
}

func (p *scatterConnPool) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, ErrScatterQuery
}

// QueryRowContext answers from the first unit; single-row reads never reach a scatter.
func (p *scatterConnPool) QueryRowContext(ctx context.Context, _ string, _ ...interface{}) *sql.Row {
	u := p.plan.Units[0]
	return p.sr.pools[u.DataSource].QueryRowContext(ctx, u.SQL, u.Params...)
}
