// Package readwrite splits reads to replicas and writes to the primary of a logic datasource.
package readwrite

import (
	"context"
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"

	"gorm/shardroute/hint"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

var ErrInvalidGroup = errors.New("invalid read-write group")

const (
	PolicyRandom     = "random"
	PolicyRoundRobin = "round-robin"
)

// Config 读写分离配置
type Config struct {
	// Name is the logic datasource the sharding rules refer to.
	Name     string   `toml:"name" json:"name"`
	Primary  string   `toml:"primary" json:"primary"`
	Replicas []string `toml:"replicas" json:"replicas"`
	// Policy is random (default) or round-robin.
	Policy string `toml:"policy" json:"policy"`
}

// Policy 从库选择策略
type Policy interface {
	Resolve(replicas []string) string
}

// RandomPolicy 随机路由
type RandomPolicy struct{}

func (RandomPolicy) Resolve(replicas []string) string {
	return replicas[rand.Intn(len(replicas))]
}

// RoundRobinPolicy 轮询路由
type RoundRobinPolicy struct {
	next uint64
}

func (p *RoundRobinPolicy) Resolve(replicas []string) string {
	n := atomic.AddUint64(&p.next, 1) - 1
	return replicas[n%uint64(len(replicas))]
}

func newPolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", PolicyRandom:
		return RandomPolicy{}, nil
	case PolicyRoundRobin:
		return &RoundRobinPolicy{}, nil
	}
	return nil, errors.Wrapf(ErrInvalidGroup, "unknown policy %q", name)
}

type Group struct {
	Name     string
	Primary  string
	Replicas []string
	policy   Policy
}

// Rule is the read-write splitting route decorator.
type Rule struct {
	groups map[string]*Group
	log    *zap.Logger
}

func New(configs []Config, log *zap.Logger) (*Rule, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Rule{groups: make(map[string]*Group, len(configs)), log: log}
	for _, c := range configs {
		if c.Name == "" || c.Primary == "" {
			return nil, errors.Wrapf(ErrInvalidGroup, "group %q needs a name and a primary", c.Name)
		}
		key := strings.ToLower(c.Name)
		if _, ok := r.groups[key]; ok {
			return nil, errors.Wrapf(ErrInvalidGroup, "duplicate group %s", c.Name)
		}
		policy, err := newPolicy(c.Policy)
		if err != nil {
			return nil, errors.WithMessagef(err, "group %s", c.Name)
		}
		r.groups[key] = &Group{Name: c.Name, Primary: c.Primary, Replicas: c.Replicas, policy: policy}
	}
	return r, nil
}

// Group returns the group of a logic datasource.
func (r *Rule) Group(name string) (*Group, bool) {
	g, ok := r.groups[strings.ToLower(name)]
	return g, ok
}

// DataSourceNames lists the logic datasources of every group.
func (r *Rule) DataSourceNames() []string {
	out := make([]string, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.Name)
	}
	return out
}

// PhysicalDataSourceNames lists every primary and replica, each once.
func (r *Rule) PhysicalDataSourceNames() []string {
	set := strset.New()
	for _, g := range r.groups {
		set.Add(g.Primary)
		set.Add(g.Replicas...)
	}
	return set.List()
}

func (r *Rule) Name() string {
	return "readwrite-splitting"
}

// IsPrimary reports whether the statement must run on a primary: writes, locking reads,
// unknown statements and contexts forced with hint.WithPrimary.
func IsPrimary(ctx context.Context, stmt *statement.Statement) bool {
	return hint.IsPrimaryForced(ctx) || stmt.Kind != statement.Select || stmt.ForUpdate
}

// DecorateRoute replaces the actual datasource of every unit in a group. All the units of
// one logic datasource land on the same replica.
func (r *Rule) DecorateRoute(ctx context.Context, stmt *statement.Statement, result *route.Result) error {
	primary := IsPrimary(ctx, stmt)
	chosen := make(map[string]string)
	for i := range result.Units {
		ds := &result.Units[i].DataSource
		g, ok := r.groups[strings.ToLower(ds.LogicName)]
		if !ok {
			continue
		}
		actual, ok := chosen[g.Name]
		if !ok {
			actual = g.Primary
			if !primary && len(g.Replicas) > 0 {
				actual = g.policy.Resolve(g.Replicas)
			}
			chosen[g.Name] = actual
			r.log.Debug("read-write split", zap.String("group", g.Name), zap.String("datasource", actual), zap.Bool("primary", primary))
		}
		ds.ActualName = actual
	}
	return nil
}
