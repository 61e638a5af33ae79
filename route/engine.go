package route

import (
	"context"
	"strings"

	"gorm/shardroute/hint"
	"gorm/shardroute/rule"
	"gorm/shardroute/strategy"
)

// part is one routed piece of a table group on one datasource.
type part struct {
	dataSource string
	mappers    []RouteMapper
}

// routeGroup routes every referenced table for one condition group. Binding tables are
// routed once through their first member and replicated by node index; independent table
// groups are combined per datasource as a cartesian product.
func (r *Router) routeGroup(ctx context.Context, tables []string, g conditionGroup) ([]RouteUnit, error) {
	binding := r.rule.FilterBindingTables(tables)
	var groups [][]part
	if len(binding) > 0 {
		parts, err := r.routeBinding(ctx, binding, g)
		if err != nil {
			return nil, err
		}
		groups = append(groups, parts)
	}
	for _, t := range tables {
		if containsFold(binding, t) {
			continue
		}
		parts, err := r.routeSingle(ctx, t, g)
		if err != nil {
			return nil, err
		}
		groups = append(groups, parts)
	}

	if len(groups) == 1 {
		units := make([]RouteUnit, 0, len(groups[0]))
		for _, p := range groups[0] {
			units = append(units, RouteUnit{DataSource: RouteMapper{LogicName: p.dataSource, ActualName: p.dataSource}, Tables: p.mappers})
		}
		return units, nil
	}
	return cartesian(groups), nil
}

func (r *Router) routeSingle(ctx context.Context, table string, g conditionGroup) ([]part, error) {
	tr, err := r.rule.ResolveTableRule(table)
	if err != nil {
		return nil, &TableError{Table: table, Err: err}
	}
	nodes, err := r.routeTable(ctx, tr, g)
	if err != nil {
		return nil, err
	}
	parts := make([]part, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, part{dataSource: n.DataSource, mappers: []RouteMapper{{LogicName: table, ActualName: n.Table}}})
	}
	return parts, nil
}

func (r *Router) routeBinding(ctx context.Context, binding []string, g conditionGroup) ([]part, error) {
	primary := binding[0]
	tr, err := r.rule.ResolveTableRule(primary)
	if err != nil {
		return nil, &TableError{Table: primary, Err: err}
	}
	br, _ := r.rule.FindBindingTableRule(primary)
	nodes, err := r.routeTable(ctx, tr, r.bindTo(tr, binding[1:], g))
	if err != nil {
		return nil, err
	}
	parts := make([]part, 0, len(nodes))
	for _, n := range nodes {
		p := part{dataSource: n.DataSource, mappers: []RouteMapper{{LogicName: primary, ActualName: n.Table}}}
		for _, other := range binding[1:] {
			actual, err := br.BindingActualTable(n.DataSource, other, primary, n.Table)
			if err != nil {
				return nil, &TableError{Table: other, Err: err}
			}
			p.mappers = append(p.mappers, RouteMapper{LogicName: other, ActualName: actual})
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// bindTo moves values qualified by another binding table onto the primary table's
// sharding columns, pairing strategy columns by axis and position.
func (r *Router) bindTo(primary *rule.TableRule, others []string, g conditionGroup) conditionGroup {
	out := conditionGroup{insertRow: g.insertRow, values: make([]tableValue, 0, len(g.values))}
	for _, tv := range g.values {
		if tv.table == "" || !containsFold(others, tv.table) {
			out.values = append(out.values, tv)
			continue
		}
		other, err := r.rule.ResolveTableRule(tv.table)
		if err != nil {
			continue
		}
		axes := [][2]*strategy.Strategy{
			{r.rule.DatabaseStrategy(other), r.rule.DatabaseStrategy(primary)},
			{r.rule.TableStrategy(other), r.rule.TableStrategy(primary)},
		}
		for _, axis := range axes {
			from, to := axis[0].Columns(), axis[1].Columns()
			for i, col := range from {
				if i >= len(to) || !strings.EqualFold(col, tv.value.Column) {
					continue
				}
				v := tv.value
				v.Column = to[i]
				out.values = append(out.values, tableValue{table: primary.LogicTable, value: v})
			}
		}
	}
	return out
}

// routeTable resolves database targets, then table targets within each of them.
func (r *Router) routeTable(ctx context.Context, tr *rule.TableRule, g conditionGroup) ([]rule.DataNode, error) {
	dbStrategy := r.rule.DatabaseStrategy(tr)
	dataSources, err := dbStrategy.Route(tr.DataSourceNames(), r.shardingValues(ctx, tr, dbStrategy, g, hint.DatabaseValues))
	if err != nil {
		return nil, &TableError{Table: tr.LogicTable, Axis: "database", Err: err}
	}
	tbStrategy := r.rule.TableStrategy(tr)
	tableValues := r.shardingValues(ctx, tr, tbStrategy, g, hint.TableValues)
	var nodes []rule.DataNode
	for _, ds := range dataSources {
		actual, err := tbStrategy.Route(tr.ActualTableNames(ds), tableValues)
		if err != nil {
			return nil, &TableError{Table: tr.LogicTable, Axis: "table", Err: err}
		}
		for _, t := range actual {
			nodes = append(nodes, rule.DataNode{DataSource: ds, Table: t})
		}
	}
	return nodes, nil
}

// shardingValues prefers hint values over the ones found in the SQL.
func (r *Router) shardingValues(ctx context.Context, tr *rule.TableRule, s *strategy.Strategy, g conditionGroup,
	hinted func(context.Context, string) ([]interface{}, bool)) []strategy.Value {
	if vals, ok := hinted(ctx, tr.LogicTable); ok && s.Kind() != strategy.KindNone {
		column := ""
		if cols := s.Columns(); len(cols) > 0 {
			column = cols[0]
		}
		return []strategy.Value{strategy.PreciseValue(column, vals...)}
	}
	if s.Kind() == strategy.KindHint {
		return nil
	}
	return g.valuesFor(tr.LogicTable, s)
}

// cartesian combines table groups on the datasources every group reaches.
func cartesian(groups [][]part) []RouteUnit {
	var dataSources []string
	for _, p := range groups[0] {
		if !containsFold(dataSources, p.dataSource) {
			dataSources = append(dataSources, p.dataSource)
		}
	}
	var units []RouteUnit
	for _, ds := range dataSources {
		combos := [][]RouteMapper{nil}
		for _, parts := range groups {
			var next [][]RouteMapper
			for _, combo := range combos {
				for _, p := range parts {
					if !strings.EqualFold(p.dataSource, ds) {
						continue
					}
					m := make([]RouteMapper, 0, len(combo)+len(p.mappers))
					m = append(append(m, combo...), p.mappers...)
					next = append(next, m)
				}
			}
			combos = next
		}
		for _, combo := range combos {
			units = append(units, RouteUnit{DataSource: RouteMapper{LogicName: ds, ActualName: ds}, Tables: combo})
		}
	}
	return units
}
