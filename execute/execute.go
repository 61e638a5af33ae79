// Package execute runs rewritten units on the physical datasources.
package execute

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gorm/shardroute/merge"
	"gorm/shardroute/rewrite"
)

var ErrUnknownDataSource = errors.New("no connection pool for datasource")

// ConnectionMode trades connections held at once for memory.
type ConnectionMode int

const (
	// MemoryStrictly opens one connection per unit and streams rows.
	MemoryStrictly ConnectionMode = iota
	// ConnectionStrictly runs the units of a datasource serially on one connection and
	// buffers their rows.
	ConnectionStrictly
)

func (m ConnectionMode) String() string {
	if m == ConnectionStrictly {
		return "CONNECTION_STRICTLY"
	}
	return "MEMORY_STRICTLY"
}

// ParseConnectionMode accepts the names printed by String, case-sensitively.
func ParseConnectionMode(s string) (ConnectionMode, error) {
	switch s {
	case "", "MEMORY_STRICTLY":
		return MemoryStrictly, nil
	case "CONNECTION_STRICTLY":
		return ConnectionStrictly, nil
	}
	return 0, errors.Errorf("unknown connection mode %q", s)
}

type FailurePolicy int

const (
	// FailFast cancels in-flight siblings on the first failure.
	FailFast FailurePolicy = iota
	// WaitAll lets siblings finish and discards their results.
	WaitAll
)

type Options struct {
	Mode    ConnectionMode
	Failure FailurePolicy
	// CollectErrors reports every unit failure instead of the first one.
	CollectErrors bool
}

// UnitError is the failure of one execution unit.
type UnitError struct {
	DataSource string
	SQL        string
	Err        error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("execute on %s [%s]: %v", e.DataSource, e.SQL, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

type connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Executor fans units out to a bounded worker pool.
type Executor struct {
	pools  map[string]gorm.ConnPool
	worker *ants.Pool
	log    *zap.Logger
}

type Option func(*config)

type config struct {
	size int
	log  *zap.Logger
}

// WithPoolSize bounds the number of units running at once.
func WithPoolSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.size = n
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

func NewExecutor(pools map[string]gorm.ConnPool, opts ...Option) (*Executor, error) {
	c := &config{size: runtime.NumCPU() * 2, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	e := &Executor{pools: pools, log: c.log}
	worker, err := ants.NewPool(c.size, ants.WithNonblocking(false), ants.WithPanicHandler(func(v interface{}) {
		e.log.Error("execute worker panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "new execute pool")
	}
	e.worker = worker
	return e, nil
}

// Close releases the worker pool.
func (e *Executor) Close() {
	e.worker.Release()
}

// unitFunc runs one unit on conn and keeps its outcome at index i.
type unitFunc func(ctx context.Context, conn gorm.ConnPool, u rewrite.ExecutionUnit, i int) error

// Query runs every unit and returns one result per unit, in unit order. On failure
// every opened result is closed.
func (e *Executor) Query(ctx context.Context, units []rewrite.ExecutionUnit, opts Options) ([]merge.QueryResult, error) {
	if len(units) == 0 {
		return nil, nil
	}
	results := make([]merge.QueryResult, len(units))
	runCtx, cancel := context.WithCancel(ctx)
	err := e.run(runCtx, cancel, units, opts, func(ctx context.Context, conn gorm.ConnPool, u rewrite.ExecutionUnit, i int) error {
		rows, err := conn.QueryContext(ctx, u.SQL, u.Params...)
		if err != nil {
			return err
		}
		if opts.Mode == ConnectionStrictly && len(units) > 1 {
			results[i], err = merge.Materialize(rows)
		} else {
			results[i], err = merge.NewStreamResult(rows)
		}
		return err
	})
	if err != nil {
		for _, r := range results {
			if r != nil {
				_ = r.Close()
			}
		}
		cancel()
		return nil, err
	}
	// streamed rows die with their context, cancel once every result is closed
	remaining := int32(len(results))
	release := func() {
		if atomic.AddInt32(&remaining, -1) == 0 {
			cancel()
		}
	}
	for i, r := range results {
		results[i] = &releasingResult{QueryResult: r, release: release}
	}
	return results, nil
}

// Exec runs a write on every unit.
func (e *Executor) Exec(ctx context.Context, units []rewrite.ExecutionUnit, opts Options) ([]sql.Result, error) {
	if len(units) == 0 {
		return nil, nil
	}
	results := make([]sql.Result, len(units))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := e.run(runCtx, cancel, units, opts, func(ctx context.Context, conn gorm.ConnPool, u rewrite.ExecutionUnit, i int) error {
		res, err := conn.ExecContext(ctx, u.SQL, u.Params...)
		results[i] = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, units []rewrite.ExecutionUnit, opts Options, fn unitFunc) error {
	var (
		mu    sync.Mutex
		errs  = make([]error, len(units))
		first error
	)
	fail := func(i int, err error) {
		var ue *UnitError
		if !errors.As(err, &ue) {
			err = &UnitError{DataSource: units[i].DataSource, SQL: units[i].SQL, Err: err}
		}
		mu.Lock()
		errs[i] = err
		if first == nil {
			first = err
		}
		mu.Unlock()
		if opts.Failure == FailFast {
			cancel()
		}
	}

	groups := group(units, opts.Mode)
	if len(groups) == 1 {
		e.runGroup(ctx, units, groups[0], opts.Mode, fn, fail)
	} else {
		var wg sync.WaitGroup
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				for _, i := range g {
					fail(i, err)
				}
				continue
			}
			g := g
			wg.Add(1)
			err := e.worker.Submit(func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						fail(g[0], errors.Errorf("panic: %v", r))
					}
				}()
				e.runGroup(ctx, units, g, opts.Mode, fn, fail)
			})
			if err != nil {
				wg.Done()
				fail(g[0], errors.Wrap(err, "submit"))
			}
		}
		wg.Wait()
	}

	if first == nil {
		return nil
	}
	if opts.CollectErrors {
		return multierr.Combine(errs...)
	}
	return first
}

func (e *Executor) runGroup(ctx context.Context, units []rewrite.ExecutionUnit, idx []int, mode ConnectionMode, fn unitFunc, fail func(int, error)) {
	ds := units[idx[0]].DataSource
	pool, ok := e.pools[ds]
	if !ok {
		for _, i := range idx {
			fail(i, errors.Wrapf(ErrUnknownDataSource, "%s", ds))
		}
		return
	}
	conn := pool
	if mode == ConnectionStrictly && len(idx) > 1 {
		if c, ok := pool.(connector); ok {
			pinned, err := c.Conn(ctx)
			if err != nil {
				for _, i := range idx {
					fail(i, errors.Wrap(err, "acquire connection"))
				}
				return
			}
			defer pinned.Close()
			conn = pinned
		}
	}
	for _, i := range idx {
		if err := ctx.Err(); err != nil {
			fail(i, err)
			continue
		}
		u := units[i]
		e.log.Debug("execute", zap.String("datasource", u.DataSource), zap.String("sql", u.SQL), zap.Any("params", u.Params))
		if err := fn(ctx, conn, u, i); err != nil {
			fail(i, err)
		}
	}
}

// group splits unit indexes into tasks: one per unit, or one per datasource when the
// connection is held strictly.
func group(units []rewrite.ExecutionUnit, mode ConnectionMode) [][]int {
	if mode != ConnectionStrictly {
		groups := make([][]int, len(units))
		for i := range units {
			groups[i] = []int{i}
		}
		return groups
	}
	var groups [][]int
	index := make(map[string]int)
	for i, u := range units {
		g, ok := index[u.DataSource]
		if !ok {
			g = len(groups)
			index[u.DataSource] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// releasingResult cancels the shared execution context after the last result closes.
type releasingResult struct {
	merge.QueryResult
	once    sync.Once
	release func()
}

func (r *releasingResult) Close() error {
	err := r.QueryResult.Close()
	r.once.Do(r.release)
	return err
}
