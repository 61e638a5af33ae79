package shardroute

import (
	"context"
	"database/sql"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gorm/shardroute/execute"
	"gorm/shardroute/merge"
	"gorm/shardroute/pagination"
	"gorm/shardroute/readwrite"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
	"gorm/shardroute/sqlparse"
	"gorm/shardroute/statement"
)

var (
	// ErrScatterQuery rejects gorm queries routed to more than one unit; use ShardRoute.Query.
	ErrScatterQuery = errors.New("query spans several shards")
	ErrNoPool       = errors.New("no connection pool")
)

type ShardRoute struct {
	*gorm.DB
	rule     *rule.ShardingRule
	router   *route.Router
	rewriter *rewrite.Engine
	executor *execute.Executor
	pools    map[string]gorm.ConnPool
	// empty serves statements routed to no unit
	empty    *sql.DB
	dollar   map[string]bool
	options  execute.Options
	// 打印路由信息
	traceRouteMode bool
	log            *zap.Logger
}

type Config struct {
	Rule *rule.ShardingRule
	// DataSources maps every physical datasource, replicas included, to its pool.
	DataSources map[string]gorm.ConnPool
	// DollarDataSources take $n placeholders (postgres).
	DollarDataSources []string
	ReadWrite         *readwrite.Rule
	Executor          execute.Options
	PoolSize          int
	TraceRouteMode    bool
	Logger            *zap.Logger
}

// Plan is a routed and rewritten statement, ready to run.
type Plan struct {
	Statement  *statement.Statement
	Params     []interface{}
	Route      *route.Result
	Pagination *pagination.Model
	Units      []rewrite.ExecutionUnit
}

func New(cfg Config) (*ShardRoute, error) {
	if cfg.Rule == nil {
		return nil, errors.Wrap(rule.ErrInvalidConfig, "no sharding rule")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var decorators []route.Decorator
	if cfg.ReadWrite != nil {
		decorators = append(decorators, cfg.ReadWrite)
	}
	executor, err := execute.NewExecutor(cfg.DataSources, execute.WithPoolSize(cfg.PoolSize), execute.WithLogger(log))
	if err != nil {
		return nil, err
	}
	sr := &ShardRoute{
		rule:           cfg.Rule,
		router:         route.NewRouter(cfg.Rule, log, decorators...),
		rewriter:       rewrite.NewEngine(log),
		executor:       executor,
		pools:          cfg.DataSources,
		empty:          newEmptyPool(),
		dollar:         make(map[string]bool, len(cfg.DollarDataSources)),
		options:        cfg.Executor,
		traceRouteMode: cfg.TraceRouteMode,
		log:            log,
	}
	for _, ds := range cfg.DollarDataSources {
		sr.dollar[ds] = true
	}
	return sr, nil
}

func (sr *ShardRoute) Name() string {
	return "gorm:shard_route"
}

func (sr *ShardRoute) Initialize(db *gorm.DB) error {
	sr.DB = db
	sr.registerCallbacks(db)
	if sr.traceRouteMode {
		db.Logger = NewRouteModeLogger(db.Logger)
	}
	return nil
}

// Close releases the worker pool. Connection pools belong to the caller.
func (sr *ShardRoute) Close() {
	sr.executor.Close()
	_ = sr.empty.Close()
}

// Call runs fc on every datasource pool in name order.
func (sr *ShardRoute) Call(fc func(name string, pool gorm.ConnPool) error) error {
	names := make([]string, 0, len(sr.pools))
	for name := range sr.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := fc(name, sr.pools[name]); err != nil {
			return errors.WithMessagef(err, "datasource %s", name)
		}
	}
	return nil
}

// Route parses and routes a statement.
func (sr *ShardRoute) Route(ctx context.Context, query string, params ...interface{}) (*route.Result, error) {
	stmt, err := sqlparse.Parse(query)
	if err != nil {
		return nil, err
	}
	return sr.router.Route(ctx, stmt, params)
}

// Rewrite returns the execution units of a statement.
func (sr *ShardRoute) Rewrite(ctx context.Context, query string, params ...interface{}) ([]rewrite.ExecutionUnit, error) {
	plan, err := sr.Preview(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return plan.Units, nil
}

// Preview parses, routes and rewrites a statement without touching any connection.
func (sr *ShardRoute) Preview(ctx context.Context, query string, params ...interface{}) (*Plan, error) {
	stmt, err := sqlparse.Parse(query)
	if err != nil {
		return nil, err
	}
	result, err := sr.router.Route(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	model := pagination.New(stmt)
	units, err := sr.rewriter.Rewrite(stmt, params, result, model)
	if err != nil {
		return nil, err
	}
	for i := range units {
		if !sr.dollar[units[i].DataSource] {
			continue
		}
		if units[i].SQL, err = sqlparse.Rebind(units[i].SQL); err != nil {
			return nil, err
		}
	}
	return &Plan{Statement: stmt, Params: params, Route: result, Pagination: model, Units: units}, nil
}

// Query runs a read on every routed unit and merges the results into one stream.
func (sr *ShardRoute) Query(ctx context.Context, query string, params ...interface{}) (merge.QueryResult, error) {
	plan, err := sr.Preview(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return sr.query(ctx, plan)
}

func (sr *ShardRoute) query(ctx context.Context, plan *Plan) (merge.QueryResult, error) {
	results, err := sr.executor.Query(ctx, plan.Units, sr.options)
	if err != nil {
		return nil, err
	}
	return merge.Merge(results, plan.Statement, plan.Pagination, plan.Params)
}

// Exec runs a write on every routed unit.
func (sr *ShardRoute) Exec(ctx context.Context, query string, params ...interface{}) (sql.Result, error) {
	plan, err := sr.Preview(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	return sr.exec(ctx, plan)
}

func (sr *ShardRoute) exec(ctx context.Context, plan *Plan) (sql.Result, error) {
	results, err := sr.executor.Exec(ctx, plan.Units, sr.options)
	if err != nil {
		return nil, err
	}
	return merge.MergeExec(results)
}

func (sr *ShardRoute) pool(name string) (gorm.ConnPool, error) {
	pool, ok := sr.pools[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoPool, "%s", name)
	}
	return pool, nil
}
