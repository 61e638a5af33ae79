// Package rule is the immutable sharding rule model: logic tables, their data nodes,
// strategies, binding groups and broadcast tables.
package rule

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"

	"gorm/shardroute/expression"
	"gorm/shardroute/keygen"
	"gorm/shardroute/strategy"
)

var (
	ErrTableNotFound        = errors.New("table rule not found")
	ErrDuplicateLogicTable  = errors.New("duplicate logic table")
	ErrUnknownBindingTable  = errors.New("binding group references unknown table")
	ErrBindingTableMismatch = errors.New("binding tables do not shard identically")
	ErrInvalidDataNode      = errors.New("invalid data node")
	ErrUnknownDataSource    = errors.New("unknown datasource")
	ErrInvalidConfig        = errors.New("invalid sharding rule config")
)

// ShardingRule is built once and shared read-only by every statement.
type ShardingRule struct {
	tables                  map[string]*TableRule
	bindings                []*BindingTableRule
	broadcast               *strset.Set
	dataSources             []string
	defaultDataSource       string
	defaultDatabaseStrategy *strategy.Strategy
	defaultTableStrategy    *strategy.Strategy
}

// New validates cfg against the configured datasource names and builds the rule.
func New(cfg *Config, dataSources []string) (*ShardingRule, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &ShardingRule{
		tables:            make(map[string]*TableRule, len(cfg.Tables)),
		broadcast:         strset.New(),
		dataSources:       dataSources,
		defaultDataSource: cfg.DefaultDataSource,
	}
	known := strset.New()
	for _, ds := range dataSources {
		known.Add(strings.ToLower(ds))
	}
	if r.defaultDataSource == "" && len(dataSources) == 1 {
		r.defaultDataSource = dataSources[0]
	}
	if r.defaultDataSource != "" && !known.Has(strings.ToLower(r.defaultDataSource)) {
		return nil, errors.Wrapf(ErrUnknownDataSource, "default datasource %s", r.defaultDataSource)
	}

	var err error
	if r.defaultDatabaseStrategy, err = strategy.FromConfig(cfg.DefaultDatabaseStrategy); err != nil {
		return nil, errors.WithMessage(err, "default database strategy")
	}
	if r.defaultTableStrategy, err = strategy.FromConfig(cfg.DefaultTableStrategy); err != nil {
		return nil, errors.WithMessage(err, "default table strategy")
	}

	var defaultGenerator keygen.Generator
	for _, tc := range cfg.Tables {
		key := strings.ToLower(tc.LogicTable)
		if key == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "empty logic table")
		}
		if _, ok := r.tables[key]; ok {
			return nil, errors.Wrapf(ErrDuplicateLogicTable, "%s", tc.LogicTable)
		}
		t, err := r.buildTableRule(tc, known)
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s", tc.LogicTable)
		}
		if kc := tc.KeyGenerator; kc != nil {
			if kc.Column == "" {
				return nil, errors.Wrapf(ErrInvalidConfig, "table %s: key generator without column", tc.LogicTable)
			}
			t.GenerateKeyColumn = kc.Column
			if kc.Type == "" && kc.Generator == nil && cfg.DefaultKeyGenerator != nil {
				if defaultGenerator == nil {
					if defaultGenerator, err = keygen.New(cfg.DefaultKeyGenerator); err != nil {
						return nil, err
					}
				}
				t.KeyGenerator = defaultGenerator
			} else if t.KeyGenerator, err = keygen.New(kc); err != nil {
				return nil, errors.WithMessagef(err, "table %s", tc.LogicTable)
			}
		}
		r.tables[key] = t
	}

	for _, name := range cfg.BroadcastTables {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := r.tables[key]; ok {
			return nil, errors.Wrapf(ErrDuplicateLogicTable, "broadcast table %s is also sharded", name)
		}
		nodes := make([]DataNode, 0, len(dataSources))
		for _, ds := range dataSources {
			nodes = append(nodes, DataNode{DataSource: ds, Table: strings.TrimSpace(name)})
		}
		t := newTableRule(strings.TrimSpace(name), nodes)
		t.broadcast = true
		r.tables[key] = t
		r.broadcast.Add(key)
	}

	for _, group := range cfg.BindingTables {
		b := &BindingTableRule{}
		for _, name := range strings.Split(group, ",") {
			t, ok := r.tables[strings.ToLower(strings.TrimSpace(name))]
			if !ok || t.broadcast {
				return nil, errors.Wrapf(ErrUnknownBindingTable, "%q in %q", strings.TrimSpace(name), group)
			}
			b.tables = append(b.tables, t)
		}
		if len(b.tables) < 2 {
			return nil, errors.Wrapf(ErrInvalidConfig, "binding group %q needs at least two tables", group)
		}
		if err := b.validate(); err != nil {
			return nil, err
		}
		r.bindings = append(r.bindings, b)
	}
	return r, nil
}

func (r *ShardingRule) buildTableRule(tc TableConfig, known *strset.Set) (*TableRule, error) {
	var nodes []DataNode
	if tc.ActualDataNodes == "" {
		// dynamic mode
		for _, ds := range r.dataSources {
			nodes = append(nodes, DataNode{DataSource: ds, Table: tc.LogicTable})
		}
	} else {
		expanded, err := expression.Expand(tc.ActualDataNodes)
		if err != nil {
			return nil, err
		}
		for _, s := range expanded {
			n, err := ParseDataNode(s)
			if err != nil {
				return nil, err
			}
			if known.Size() > 0 && !known.Has(strings.ToLower(n.DataSource)) {
				return nil, errors.Wrapf(ErrUnknownDataSource, "%s in %s", n.DataSource, s)
			}
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil, errors.Wrap(ErrInvalidDataNode, "no actual data nodes")
	}
	t := newTableRule(tc.LogicTable, nodes)
	var err error
	if t.DatabaseStrategy, err = strategy.FromConfig(tc.DatabaseStrategy); err != nil {
		return nil, errors.WithMessage(err, "database strategy")
	}
	if t.TableStrategy, err = strategy.FromConfig(tc.TableStrategy); err != nil {
		return nil, errors.WithMessage(err, "table strategy")
	}
	return t, nil
}

// FindTableRule looks up a configured table rule, case-insensitively.
func (r *ShardingRule) FindTableRule(logicTable string) (*TableRule, bool) {
	t, ok := r.tables[strings.ToLower(logicTable)]
	return t, ok
}

// ResolveTableRule returns the configured rule or, when a default datasource exists, a
// single-node rule on it.
func (r *ShardingRule) ResolveTableRule(logicTable string) (*TableRule, error) {
	if t, ok := r.FindTableRule(logicTable); ok {
		return t, nil
	}
	if r.defaultDataSource != "" {
		t := newTableRule(logicTable, []DataNode{{DataSource: r.defaultDataSource, Table: logicTable}})
		t.DatabaseStrategy, t.TableStrategy = strategy.None(), strategy.None()
		return t, nil
	}
	return nil, errors.Wrapf(ErrTableNotFound, "%s", logicTable)
}

// DatabaseStrategy is the effective database strategy, never nil.
func (r *ShardingRule) DatabaseStrategy(t *TableRule) *strategy.Strategy {
	switch {
	case t.broadcast:
		return strategy.None()
	case t.DatabaseStrategy != nil:
		return t.DatabaseStrategy
	case r.defaultDatabaseStrategy != nil:
		return r.defaultDatabaseStrategy
	}
	return strategy.None()
}

// TableStrategy is the effective table strategy, never nil.
func (r *ShardingRule) TableStrategy(t *TableRule) *strategy.Strategy {
	switch {
	case t.broadcast:
		return strategy.None()
	case t.TableStrategy != nil:
		return t.TableStrategy
	case r.defaultTableStrategy != nil:
		return r.defaultTableStrategy
	}
	return strategy.None()
}

// IsShardingColumn reports whether column drives either axis of the table's routing.
func (r *ShardingRule) IsShardingColumn(table, column string) bool {
	t, ok := r.FindTableRule(table)
	if !ok {
		return false
	}
	return r.DatabaseStrategy(t).HasColumn(column) || r.TableStrategy(t).HasColumn(column)
}

func (r *ShardingRule) IsBroadcastTable(table string) bool {
	return r.broadcast.Has(strings.ToLower(table))
}

func (r *ShardingRule) FindBindingTableRule(table string) (*BindingTableRule, bool) {
	for _, b := range r.bindings {
		if b.HasLogicTable(table) {
			return b, true
		}
	}
	return nil, false
}

// FilterBindingTables returns the largest subset of tables, at least two, bound by one group.
func (r *ShardingRule) FilterBindingTables(tables []string) []string {
	var best []string
	for _, b := range r.bindings {
		var members []string
		for _, t := range tables {
			if b.HasLogicTable(t) && !containsFold(members, t) {
				members = append(members, t)
			}
		}
		if len(members) >= 2 && len(members) > len(best) {
			best = members
		}
	}
	return best
}

// IsAllBindingTables reports whether every distinct table belongs to one binding group.
func (r *ShardingRule) IsAllBindingTables(tables []string) bool {
	if len(tables) == 0 {
		return false
	}
	distinct := strset.New()
	for _, t := range tables {
		distinct.Add(strings.ToLower(t))
	}
	return distinct.Size() >= 2 && len(r.FilterBindingTables(tables)) == distinct.Size()
}

func (r *ShardingRule) DataSourceNames() []string {
	return r.dataSources
}

func (r *ShardingRule) DefaultDataSource() string {
	return r.defaultDataSource
}

// NextKey generates a key for the table's generated key column.
func (r *ShardingRule) NextKey(table string) (string, interface{}, bool, error) {
	t, ok := r.FindTableRule(table)
	if !ok || t.GenerateKeyColumn == "" || t.KeyGenerator == nil {
		return "", nil, false, nil
	}
	v, err := t.KeyGenerator.Next()
	if err != nil {
		return "", nil, false, errors.Wrapf(err, "generate key for %s.%s", table, t.GenerateKeyColumn)
	}
	return t.GenerateKeyColumn, v, true, nil
}
