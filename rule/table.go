package rule

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/keygen"
	"gorm/shardroute/strategy"
)

// DataNode is a physical (datasource, table) pair.
type DataNode struct {
	DataSource string
	Table      string
}

func ParseDataNode(s string) (DataNode, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return DataNode{}, errors.Wrapf(ErrInvalidDataNode, "%q", s)
	}
	return DataNode{DataSource: parts[0], Table: parts[1]}, nil
}

func (n DataNode) String() string {
	return n.DataSource + "." + n.Table
}

// TableRule 逻辑表与真实数据节点的映射
type TableRule struct {
	LogicTable      string
	ActualDataNodes []DataNode
	// nil strategies fall back to the rule-set defaults
	DatabaseStrategy  *strategy.Strategy
	TableStrategy     *strategy.Strategy
	GenerateKeyColumn string
	KeyGenerator      keygen.Generator

	broadcast   bool
	dataSources []string
}

func newTableRule(logic string, nodes []DataNode) *TableRule {
	t := &TableRule{LogicTable: logic, ActualDataNodes: nodes}
	for _, n := range nodes {
		if !containsFold(t.dataSources, n.DataSource) {
			t.dataSources = append(t.dataSources, n.DataSource)
		}
	}
	return t
}

// DataSourceNames lists the datasources of the actual data nodes in node order.
func (t *TableRule) DataSourceNames() []string {
	return t.dataSources
}

// ActualTableNames lists the physical tables of the rule in one datasource.
func (t *TableRule) ActualTableNames(dataSource string) []string {
	var out []string
	for _, n := range t.ActualDataNodes {
		if strings.EqualFold(n.DataSource, dataSource) {
			out = append(out, n.Table)
		}
	}
	return out
}

// IndexOf returns the position of node in ActualDataNodes, or -1.
func (t *TableRule) IndexOf(node DataNode) int {
	for i, n := range t.ActualDataNodes {
		if strings.EqualFold(n.DataSource, node.DataSource) && strings.EqualFold(n.Table, node.Table) {
			return i
		}
	}
	return -1
}

func (t *TableRule) IsBroadcast() bool {
	return t.broadcast
}

// BindingTableRule groups logic tables that shard identically.
type BindingTableRule struct {
	tables []*TableRule
}

func (b *BindingTableRule) LogicTables() []string {
	out := make([]string, len(b.tables))
	for i, t := range b.tables {
		out[i] = t.LogicTable
	}
	return out
}

func (b *BindingTableRule) HasLogicTable(name string) bool {
	return b.table(name) != nil
}

func (b *BindingTableRule) table(name string) *TableRule {
	for _, t := range b.tables {
		if strings.EqualFold(t.LogicTable, name) {
			return t
		}
	}
	return nil
}

// BindingActualTable maps otherActual of otherLogic to the table of logic at the same node index.
func (b *BindingTableRule) BindingActualTable(dataSource, logic, otherLogic, otherActual string) (string, error) {
	target, other := b.table(logic), b.table(otherLogic)
	if target == nil || other == nil {
		return "", errors.Wrapf(ErrUnknownBindingTable, "%s or %s", logic, otherLogic)
	}
	idx := other.IndexOf(DataNode{DataSource: dataSource, Table: otherActual})
	if idx < 0 {
		return "", errors.Wrapf(ErrInvalidDataNode, "%s.%s is not a node of %s", dataSource, otherActual, otherLogic)
	}
	return target.ActualDataNodes[idx].Table, nil
}

func (b *BindingTableRule) validate() error {
	first := b.tables[0]
	for _, t := range b.tables[1:] {
		if len(t.ActualDataNodes) != len(first.ActualDataNodes) {
			return errors.Wrapf(ErrBindingTableMismatch, "%s has %d nodes, %s has %d",
				first.LogicTable, len(first.ActualDataNodes), t.LogicTable, len(t.ActualDataNodes))
		}
		for i, n := range t.ActualDataNodes {
			if !strings.EqualFold(n.DataSource, first.ActualDataNodes[i].DataSource) {
				return errors.Wrapf(ErrBindingTableMismatch, "node %d of %s is in %s, of %s in %s",
					i, t.LogicTable, n.DataSource, first.LogicTable, first.ActualDataNodes[i].DataSource)
			}
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
