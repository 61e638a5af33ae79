package rule

import (
	"gorm/shardroute/keygen"
	"gorm/shardroute/strategy"
)

// Config 分片规则配置
type Config struct {
	Tables                  []TableConfig    `toml:"tables" json:"tables"`
	BindingTables           []string         `toml:"binding-tables" json:"binding-tables"`
	BroadcastTables         []string         `toml:"broadcast-tables" json:"broadcast-tables"`
	DefaultDataSource       string           `toml:"default-data-source" json:"default-data-source"`
	DefaultDatabaseStrategy *strategy.Config `toml:"default-database-strategy" json:"default-database-strategy"`
	DefaultTableStrategy    *strategy.Config `toml:"default-table-strategy" json:"default-table-strategy"`
	// DefaultKeyGenerator supplies the generator for tables whose key generator only names a column.
	DefaultKeyGenerator *keygen.Config `toml:"default-key-generator" json:"default-key-generator"`
}

// TableConfig 逻辑表配置
type TableConfig struct {
	LogicTable string `toml:"logic-table" json:"logic-table"`
	// ActualDataNodes is an inline expression like ds_${0..1}.t_order_${0..1};
	// empty means one node per datasource named like the logic table.
	ActualDataNodes  string           `toml:"actual-data-nodes" json:"actual-data-nodes"`
	DatabaseStrategy *strategy.Config `toml:"database-strategy" json:"database-strategy"`
	TableStrategy    *strategy.Config `toml:"table-strategy" json:"table-strategy"`
	KeyGenerator     *keygen.Config   `toml:"key-generator" json:"key-generator"`
}
