package strategy

import (
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/expression"
)

// Config describes a strategy. Type may be left empty and is then inferred from the
// other fields. The algorithm fields allow programmatic algorithms next to named ones.
type Config struct {
	Type                string   `toml:"type" json:"type"`
	ShardingColumn      string   `toml:"sharding-column" json:"sharding-column"`
	ShardingColumns     []string `toml:"sharding-columns" json:"sharding-columns"`
	Algorithm           string   `toml:"algorithm" json:"algorithm"`
	Expression          string   `toml:"expression" json:"expression"`
	ShardingCount       int      `toml:"sharding-count" json:"sharding-count"`
	RangeLimit          int      `toml:"range-limit" json:"range-limit"`
	AllowRangeBroadcast bool     `toml:"allow-range-broadcast" json:"allow-range-broadcast"`

	Precise PreciseAlgorithm `toml:"-" json:"-"`
	Range   RangeAlgorithm   `toml:"-" json:"-"`
	Complex ComplexAlgorithm `toml:"-" json:"-"`
	Hint    HintAlgorithm    `toml:"-" json:"-"`
}

func (c *Config) kind() (Kind, error) {
	if c.ShardingColumn != "" && len(c.ShardingColumns) > 0 {
		return 0, errors.Wrapf(ErrAmbiguousStrategy, "both sharding-column %q and sharding-columns %v", c.ShardingColumn, c.ShardingColumns)
	}
	if c.Hint != nil && (c.ShardingColumn != "" || len(c.ShardingColumns) > 0) {
		return 0, errors.Wrapf(ErrAmbiguousStrategy, "hint algorithm with sharding columns")
	}
	switch strings.ToLower(c.Type) {
	case "none":
		return KindNone, nil
	case "standard":
		return KindStandard, nil
	case "complex":
		return KindComplex, nil
	case "hint":
		return KindHint, nil
	case "inline":
		return KindInline, nil
	case "":
	default:
		return 0, errors.Wrapf(ErrInvalidStrategy, "unknown type %q", c.Type)
	}
	switch {
	case c.Hint != nil:
		return KindHint, nil
	case len(c.ShardingColumns) > 0:
		return KindComplex, nil
	case c.ShardingColumn != "" && c.Precise == nil && c.Algorithm == "" && c.Expression != "":
		return KindInline, nil
	case c.ShardingColumn != "":
		return KindStandard, nil
	}
	return KindNone, nil
}

// FromConfig builds a strategy; a nil config yields nil so callers can fall back to a default.
func FromConfig(c *Config) (*Strategy, error) {
	if c == nil {
		return nil, nil
	}
	kind, err := c.kind()
	if err != nil {
		return nil, err
	}
	var opts []Option
	if c.RangeLimit > 0 {
		opts = append(opts, WithRangeLimit(c.RangeLimit))
	}
	if c.AllowRangeBroadcast {
		opts = append(opts, WithRangeBroadcast())
	}

	switch kind {
	case KindNone:
		return None(), nil
	case KindInline:
		if c.ShardingColumn == "" || c.Expression == "" {
			return nil, errors.Wrap(ErrInvalidStrategy, "inline strategy needs sharding-column and expression")
		}
		return NewInline(c.ShardingColumn, c.Expression, opts...)
	case KindStandard:
		if c.ShardingColumn == "" {
			return nil, errors.Wrap(ErrInvalidStrategy, "standard strategy needs sharding-column")
		}
		precise := c.Precise
		if precise == nil {
			if precise, err = c.preciseAlgorithm(); err != nil {
				return nil, err
			}
		}
		return NewStandard(c.ShardingColumn, precise, c.Range, opts...), nil
	case KindComplex:
		if len(c.ShardingColumns) == 0 {
			return nil, errors.Wrap(ErrInvalidStrategy, "complex strategy needs sharding-columns")
		}
		alg := c.Complex
		if alg == nil {
			if c.Expression == "" {
				return nil, errors.Wrap(ErrInvalidStrategy, "complex strategy needs an algorithm or expression")
			}
			t, err := expression.Compile(c.Expression)
			if err != nil {
				return nil, err
			}
			alg = InlineComplexAlgorithm{Columns: c.ShardingColumns, Template: t}
		}
		return NewComplex(c.ShardingColumns, alg), nil
	case KindHint:
		alg := c.Hint
		if alg == nil {
			var t *expression.Template
			if c.Expression != "" {
				if t, err = expression.Compile(c.Expression); err != nil {
					return nil, err
				}
			}
			alg = ValueHintAlgorithm{Template: t}
		}
		return NewHint(alg), nil
	}
	return nil, errors.Wrapf(ErrInvalidStrategy, "kind %v", kind)
}

func (c *Config) preciseAlgorithm() (PreciseAlgorithm, error) {
	switch strings.ToLower(c.Algorithm) {
	case "mod":
		return ModAlgorithm{Count: c.ShardingCount}, nil
	case "hash-mod":
		return HashModAlgorithm{Count: c.ShardingCount}, nil
	case "expression":
		if c.Expression == "" {
			return nil, errors.Wrap(ErrInvalidStrategy, "expression algorithm needs an expression")
		}
		if _, err := expression.New(c.Expression); err != nil {
			return nil, err
		}
		return ExpressionAlgorithm{Expression: c.Expression}, nil
	case "":
		return nil, errors.Wrapf(ErrInvalidStrategy, "standard strategy on %s needs an algorithm", c.ShardingColumn)
	}
	return nil, errors.Wrapf(ErrInvalidStrategy, "unknown algorithm %q", c.Algorithm)
}
