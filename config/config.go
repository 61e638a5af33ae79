// Package config loads a sharding deployment from TOML or JSON and builds a ShardRoute.
package config

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"

	"gorm/shardroute/execute"
	"gorm/shardroute/logger"
	"gorm/shardroute/readwrite"
	"gorm/shardroute/rule"
	"gorm/shardroute/util/str"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// DataSources 物理数据源，key 为数据源名称
	DataSources map[string]DBConfig `toml:"data-sources" json:"data-sources"`
	// ReadWrite 读写分离组，组名即逻辑数据源
	ReadWrite      []readwrite.Config `toml:"read-write" json:"read-write"`
	Rule           rule.Config        `toml:"rule" json:"rule"`
	Executor       ExecutorConfig     `toml:"executor" json:"executor"`
	Log            logger.Config      `toml:"log" json:"log"`
	Orm            OrmConfig          `toml:"orm" json:"orm"`
	TraceRouteMode bool               `toml:"trace-route-mode" json:"trace-route-mode"`
}

type ExecutorConfig struct {
	PoolSize int `toml:"pool-size" json:"pool-size"`
	// ConnectionMode is MEMORY_STRICTLY or CONNECTION_STRICTLY.
	ConnectionMode string `toml:"connection-mode" json:"connection-mode"`
	// WaitAll lets sibling units finish after a failure.
	WaitAll       bool `toml:"wait-all" json:"wait-all"`
	CollectErrors bool `toml:"collect-errors" json:"collect-errors"`
}

// Options converts the executor settings.
func (c ExecutorConfig) Options() (execute.Options, error) {
	mode, err := execute.ParseConnectionMode(c.ConnectionMode)
	if err != nil {
		return execute.Options{}, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	opts := execute.Options{Mode: mode, CollectErrors: c.CollectErrors}
	if c.WaitAll {
		opts.Failure = execute.WaitAll
	}
	return opts, nil
}

// Load reads a TOML file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return cfg, cfg.Validate()
}

func checkUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	return errors.Wrapf(ErrInvalidConfig, "unknown keys %s", strings.Join(keys, ", "))
}

// Decode reads a TOML document.
func Decode(data string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// DecodeJSON reads a JSON document.
func DecodeJSON(data string) (*Config, error) {
	cfg := &Config{}
	if err := str.ConvertStrToStructStrict(data, cfg); err != nil {
		// well-formed but strict decoding failed: a key the config does not declare
		if str.ConvertStrToStruct(data, &Config{}) == nil {
			return nil, errors.Wrap(ErrInvalidConfig, err.Error())
		}
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	for _, g := range c.ReadWrite {
		for _, ds := range append([]string{g.Primary}, g.Replicas...) {
			if _, ok := c.DataSources[ds]; !ok {
				return errors.Wrapf(ErrInvalidConfig, "read-write group %s: unknown datasource %s", g.Name, ds)
			}
		}
	}
	for name, ds := range c.DataSources {
		if _, err := dialectorOf(ds); err != nil {
			return errors.WithMessagef(err, "datasource %s", name)
		}
	}
	_, err := c.Executor.Options()
	return err
}

// LogicDataSources are the names the sharding rule refers to: every read-write group and
// every datasource outside of a group.
func (c *Config) LogicDataSources() []string {
	grouped := strset.New()
	names := strset.New()
	for _, g := range c.ReadWrite {
		names.Add(g.Name)
		grouped.Add(g.Primary)
		grouped.Add(g.Replicas...)
	}
	for name := range c.DataSources {
		if !grouped.Has(name) {
			names.Add(name)
		}
	}
	out := names.List()
	sort.Strings(out)
	return out
}

// DollarDataSources are the postgres datasources.
func (c *Config) DollarDataSources() []string {
	var out []string
	for name, ds := range c.DataSources {
		if strings.EqualFold(ds.DBType, "postgres") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
