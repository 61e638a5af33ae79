package config

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gorm/shardroute"
	"gorm/shardroute/logger"
	"gorm/shardroute/readwrite"
	"gorm/shardroute/rule"
)

// DBConfig database config
type DBConfig struct {
	DBType       string `toml:"db-type" json:"db-type"`
	DSN          string `toml:"dsn" json:"dsn"`
	MaxOpenConns int    `toml:"max-open-conns" json:"max-open-conns"`
	MaxIdleConns int    `toml:"max-idle-conns" json:"max-idle-conns"`
	// MaxLifetime and MaxIdleTime in seconds
	MaxLifetime int `toml:"max-lifetime" json:"max-lifetime"`
	MaxIdleTime int `toml:"max-idle-time" json:"max-idle-time"`
}

// OrmConfig orm global config
type OrmConfig struct {
	TablePrefix   string `toml:"table-prefix" json:"table-prefix"`
	SingularTable bool   `toml:"singular-table" json:"singular-table"`
}

func dialectorOf(cfg DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "mysql":
		return mysql.Open(cfg.DSN), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	}
	return nil, errors.Wrapf(ErrInvalidConfig, "unknown db type %q", cfg.DBType)
}

func (c *Config) gormConfig(log *zap.Logger) *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.Orm.TablePrefix,
			SingularTable: c.Orm.SingularTable,
		},
		Logger: logger.NewGormLogger(log, c.Log.LogLevel, c.Log.SlowThreshold),
	}
}

// Databases holds the opened datasources.
type Databases struct {
	DBs   map[string]*gorm.DB
	Pools map[string]gorm.ConnPool
}

// Close closes every datasource.
func (d *Databases) Close() error {
	var err error
	for name, db := range d.DBs {
		sqlDB, e := db.DB()
		if e == nil {
			e = sqlDB.Close()
		}
		if e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "close %s", name))
		}
	}
	return err
}

// Open opens every datasource and applies its pool settings.
func (c *Config) Open(log *zap.Logger) (*Databases, error) {
	dbs := &Databases{DBs: make(map[string]*gorm.DB), Pools: make(map[string]gorm.ConnPool)}
	for name, ds := range c.DataSources {
		dialector, err := dialectorOf(ds)
		if err != nil {
			return nil, multierr.Append(err, dbs.Close())
		}
		db, err := gorm.Open(dialector, c.gormConfig(log))
		if err != nil {
			return nil, multierr.Append(errors.Wrapf(err, "open datasource %s", name), dbs.Close())
		}
		pool := db.Config.ConnPool
		if prepared, ok := pool.(*gorm.PreparedStmtDB); ok {
			pool = prepared.ConnPool
		}
		// 配置参数
		ds.applyPool(pool)
		dbs.DBs[name] = db
		dbs.Pools[name] = pool
	}
	return dbs, nil
}

// Build assembles a ShardRoute on pools; nil pools builds one that can only preview.
func (c *Config) Build(pools map[string]gorm.ConnPool, log *zap.Logger) (*shardroute.ShardRoute, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r, err := rule.New(&c.Rule, c.LogicDataSources())
	if err != nil {
		return nil, err
	}
	opts, err := c.Executor.Options()
	if err != nil {
		return nil, err
	}
	cfg := shardroute.Config{
		Rule:              r,
		DataSources:       pools,
		DollarDataSources: c.DollarDataSources(),
		Executor:          opts,
		PoolSize:          c.Executor.PoolSize,
		TraceRouteMode:    c.TraceRouteMode,
		Logger:            log,
	}
	if len(c.ReadWrite) > 0 {
		if cfg.ReadWrite, err = readwrite.New(c.ReadWrite, log); err != nil {
			return nil, err
		}
	}
	if cfg.DataSources == nil {
		cfg.DataSources = map[string]gorm.ConnPool{}
	}
	return shardroute.New(cfg)
}

// NewOrmDB opens every datasource and returns a gorm DB on the first logic datasource with
// the ShardRoute plugin installed.
func (c *Config) NewOrmDB(log *zap.Logger) (*gorm.DB, *Databases, error) {
	if log == nil {
		log = logger.New(&c.Log)
	}
	dbs, err := c.Open(log)
	if err != nil {
		return nil, nil, err
	}
	sr, err := c.Build(dbs.Pools, log)
	if err != nil {
		return nil, nil, multierr.Append(err, dbs.Close())
	}
	names := c.LogicDataSources()
	if len(names) == 0 {
		return nil, nil, multierr.Append(errors.Wrap(ErrInvalidConfig, "no datasource"), dbs.Close())
	}
	home := names[0]
	if g, ok := findGroup(c.ReadWrite, home); ok {
		home = g.Primary
	}
	db := dbs.DBs[home]
	if err := db.Use(sr); err != nil {
		return nil, nil, multierr.Append(err, dbs.Close())
	}
	return db, dbs, nil
}

func findGroup(groups []readwrite.Config, name string) (readwrite.Config, bool) {
	for _, g := range groups {
		if g.Name == name {
			return g, true
		}
	}
	return readwrite.Config{}, false
}
