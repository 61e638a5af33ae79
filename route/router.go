// Package route resolves the physical (datasource, table) units a statement must touch.
package route

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
	"gorm/shardroute/strategy"
)

var ErrNoDataSource = errors.New("no datasource to route to")

// TableError is a routing failure of one logic table.
type TableError struct {
	Table string
	Axis  string
	Err   error
}

func (e *TableError) Error() string {
	if e.Axis == "" {
		return fmt.Sprintf("route table %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("route table %s (%s): %v", e.Table, e.Axis, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

type Router struct {
	rule       *rule.ShardingRule
	decorators []Decorator
	log        *zap.Logger
}

func NewRouter(r *rule.ShardingRule, log *zap.Logger, decorators ...Decorator) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{rule: r, decorators: decorators, log: log}
}

// tableValue is a sharding value extracted for one table ("" applies to every table).
type tableValue struct {
	table string
	value strategy.Value
}

type conditionGroup struct {
	values []tableValue
	// insertRow is the VALUES row the group came from, -1 otherwise
	insertRow int
}

// Route runs ExtractPredicates → ResolveDatabaseTargets → ResolveTableTargets →
// ApplyBindingOptimization → Finalize, then the decorators.
func (r *Router) Route(ctx context.Context, stmt *statement.Statement, params []interface{}) (*Result, error) {
	result := &Result{}
	tables := stmt.TableNames()
	if len(tables) == 0 {
		ds := r.rule.DefaultDataSource()
		if ds == "" {
			names := r.rule.DataSourceNames()
			if len(names) == 0 {
				return nil, ErrNoDataSource
			}
			ds = names[0]
		}
		result.Units = []RouteUnit{{DataSource: RouteMapper{LogicName: ds, ActualName: ds}}}
		return r.finalize(ctx, stmt, result)
	}

	groups, err := r.extract(stmt, params, tables, result)
	if err != nil {
		return nil, err
	}

	var units []RouteUnit
	index := make(map[string]int)
	for _, g := range groups {
		routed, err := r.routeGroup(ctx, tables, g)
		if err != nil {
			return nil, err
		}
		for _, u := range routed {
			if g.insertRow >= 0 {
				u.InsertRows = []int{g.insertRow}
			}
			if i, ok := index[u.key()]; ok {
				units[i].InsertRows = append(units[i].InsertRows, u.InsertRows...)
				continue
			}
			index[u.key()] = len(units)
			units = append(units, u)
		}
	}

	if stmt.Kind == statement.Select && r.allBroadcast(tables) && len(units) > 1 {
		// broadcast tables hold identical data, one copy is enough to read
		units = units[:1]
	}
	sortUnits(units)
	result.Units = units
	return r.finalize(ctx, stmt, result)
}

func (r *Router) finalize(ctx context.Context, stmt *statement.Statement, result *Result) (*Result, error) {
	for _, d := range r.decorators {
		if err := d.DecorateRoute(ctx, stmt, result); err != nil {
			return nil, errors.WithMessagef(err, "%s route decorator", d.Name())
		}
	}
	if ce := r.log.Check(zap.DebugLevel, "route"); ce != nil {
		units := make([]string, len(result.Units))
		for i, u := range result.Units {
			units[i] = u.String()
		}
		ce.Write(zap.String("kind", stmt.Kind.String()), zap.Strings("units", units))
	}
	return result, nil
}

func (r *Router) allBroadcast(tables []string) bool {
	for _, t := range tables {
		if !r.rule.IsBroadcastTable(t) {
			return false
		}
	}
	return true
}

// extract turns WHERE groups or INSERT rows into sharding values.
func (r *Router) extract(stmt *statement.Statement, params []interface{}, tables []string, result *Result) ([]conditionGroup, error) {
	if stmt.Kind == statement.Insert && stmt.Insert != nil {
		return r.extractInsert(stmt, params, tables[0], result)
	}
	if len(stmt.Where) == 0 {
		return []conditionGroup{{insertRow: -1}}, nil
	}
	groups := make([]conditionGroup, 0, len(stmt.Where))
	for _, cg := range stmt.Where {
		g := conditionGroup{insertRow: -1}
		for _, c := range cg {
			if !r.isShardingColumn(tables, c.Table, c.Column) {
				continue
			}
			v, err := toValue(c, params)
			if err != nil {
				return nil, err
			}
			g.values = append(g.values, tableValue{table: c.Table, value: v})
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (r *Router) isShardingColumn(tables []string, table, column string) bool {
	if table != "" {
		return r.rule.IsShardingColumn(table, column)
	}
	for _, t := range tables {
		if r.rule.IsShardingColumn(t, column) {
			return true
		}
	}
	return false
}

func (r *Router) extractInsert(stmt *statement.Statement, params []interface{}, table string, result *Result) ([]conditionGroup, error) {
	ins := stmt.Insert
	keyColumn := ""
	if tr, ok := r.rule.FindTableRule(table); ok && tr.GenerateKeyColumn != "" && ins.ColumnsStop >= 0 && !containsFold(ins.Columns, tr.GenerateKeyColumn) {
		keyColumn = tr.GenerateKeyColumn
		result.GeneratedKey = &GeneratedKey{Column: keyColumn}
	}
	groups := make([]conditionGroup, 0, len(ins.Rows))
	for i, row := range ins.Rows {
		if len(row.Values) != len(ins.Columns) && len(ins.Columns) > 0 {
			return nil, errors.Errorf("insert row %d has %d values for %d columns", i, len(row.Values), len(ins.Columns))
		}
		g := conditionGroup{insertRow: i}
		for j, col := range ins.Columns {
			if !r.rule.IsShardingColumn(table, col) {
				continue
			}
			v, err := row.Values[j].Resolve(params)
			if err != nil {
				return nil, err
			}
			g.values = append(g.values, tableValue{table: table, value: strategy.PreciseValue(col, v)})
		}
		if keyColumn != "" {
			_, key, _, err := r.rule.NextKey(table)
			if err != nil {
				return nil, err
			}
			result.GeneratedKey.Values = append(result.GeneratedKey.Values, key)
			if r.rule.IsShardingColumn(table, keyColumn) {
				g.values = append(g.values, tableValue{table: table, value: strategy.PreciseValue(keyColumn, key)})
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func toValue(c statement.Condition, params []interface{}) (strategy.Value, error) {
	vals := make([]interface{}, 0, len(c.Values))
	for _, e := range c.Values {
		v, err := e.Resolve(params)
		if err != nil {
			return strategy.Value{}, errors.WithMessagef(err, "condition on %s", c.Column)
		}
		vals = append(vals, v)
	}
	need := 1
	if c.Operator == statement.Between {
		need = 2
	}
	if len(vals) < need {
		return strategy.Value{}, errors.Errorf("condition %s %s needs %d values, got %d", c.Column, c.Operator, need, len(vals))
	}
	switch c.Operator {
	case statement.Equal, statement.In:
		return strategy.PreciseValue(c.Column, vals...), nil
	case statement.Between:
		return strategy.RangeValue(c.Column, strategy.Range{Lower: vals[0], LowerType: strategy.Closed, Upper: vals[1], UpperType: strategy.Closed}), nil
	case statement.LessThan:
		return strategy.RangeValue(c.Column, strategy.Range{Upper: vals[0], UpperType: strategy.Open}), nil
	case statement.LessEqual:
		return strategy.RangeValue(c.Column, strategy.Range{Upper: vals[0], UpperType: strategy.Closed}), nil
	case statement.GreaterThan:
		return strategy.RangeValue(c.Column, strategy.Range{Lower: vals[0], LowerType: strategy.Open}), nil
	case statement.GreaterEqual:
		return strategy.RangeValue(c.Column, strategy.Range{Lower: vals[0], LowerType: strategy.Closed}), nil
	}
	return strategy.Value{}, errors.Errorf("unsupported sharding operator %q", c.Operator)
}

// valuesFor collects the values of the strategy's columns for table, intersecting repeats.
func (g conditionGroup) valuesFor(table string, s *strategy.Strategy) []strategy.Value {
	var out []strategy.Value
	for _, col := range s.Columns() {
		var (
			merged strategy.Value
			found  bool
		)
		for _, tv := range g.values {
			if tv.table != "" && !strings.EqualFold(tv.table, table) {
				continue
			}
			if !strings.EqualFold(tv.value.Column, col) {
				continue
			}
			if !found {
				merged, found = tv.value, true
				continue
			}
			merged = merged.Intersect(tv.value)
		}
		if found {
			out = append(out, merged)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
