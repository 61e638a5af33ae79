package route

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm/shardroute/statement"
)

// RouteMapper maps a logic name to the physical one.
type RouteMapper struct {
	LogicName  string
	ActualName string
}

// RouteUnit is one physical target of a statement.
type RouteUnit struct {
	DataSource RouteMapper
	Tables     []RouteMapper
	// InsertRows are the indexes of the VALUES rows routed to this unit, nil for other statements.
	InsertRows []int
}

// ActualTable finds the physical table of a logic table in this unit.
func (u RouteUnit) ActualTable(logic string) (string, bool) {
	for _, m := range u.Tables {
		if strings.EqualFold(m.LogicName, logic) {
			return m.ActualName, true
		}
	}
	return "", false
}

// LogicTableOf finds the logic table of a physical table in this unit.
func (u RouteUnit) LogicTableOf(actual string) (string, bool) {
	for _, m := range u.Tables {
		if strings.EqualFold(m.ActualName, actual) {
			return m.LogicName, true
		}
	}
	return "", false
}

func (u RouteUnit) tableKey() string {
	names := make([]string, len(u.Tables))
	for i, m := range u.Tables {
		names[i] = m.ActualName
	}
	return strings.Join(names, ",")
}

func (u RouteUnit) key() string {
	return u.DataSource.LogicName + "|" + u.DataSource.ActualName + "|" + u.tableKey()
}

func (u RouteUnit) String() string {
	return fmt.Sprintf("(%s, %s)", u.DataSource.ActualName, u.tableKey())
}

// GeneratedKey holds the keys filled in for INSERT rows, one per row.
type GeneratedKey struct {
	Column string
	Values []interface{}
}

type Result struct {
	Units        []RouteUnit
	GeneratedKey *GeneratedKey
}

func (r *Result) IsEmpty() bool {
	return len(r.Units) == 0
}

// IsSingle reports a single-shard route, which needs neither pagination revision nor merge.
func (r *Result) IsSingle() bool {
	return len(r.Units) == 1
}

// DataSourceNames lists the distinct actual datasources in unit order.
func (r *Result) DataSourceNames() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, u := range r.Units {
		if _, ok := seen[u.DataSource.ActualName]; ok {
			continue
		}
		seen[u.DataSource.ActualName] = struct{}{}
		out = append(out, u.DataSource.ActualName)
	}
	return out
}

// sortUnits orders units by (datasource, tables) so routing is reproducible.
func sortUnits(units []RouteUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].DataSource.LogicName != units[j].DataSource.LogicName {
			return units[i].DataSource.LogicName < units[j].DataSource.LogicName
		}
		return units[i].tableKey() < units[j].tableKey()
	})
}

// Decorator is a rule applied after sharding, in a fixed order, on the same result.
type Decorator interface {
	Name() string
	DecorateRoute(ctx context.Context, stmt *statement.Statement, result *Result) error
}
