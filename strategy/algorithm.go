package strategy

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/expression"
	"gorm/shardroute/util/str"
)

// ModAlgorithm picks the target suffixed with value % Count. With Count 0 the value
// indexes the target list directly.
type ModAlgorithm struct {
	Count int
}

func (m ModAlgorithm) DoPreciseSharding(targets []string, column string, value interface{}) (string, error) {
	n, err := expression.ToInt64(value)
	if err != nil {
		return "", errors.Wrapf(err, "mod sharding on %s", column)
	}
	if m.Count <= 0 {
		if len(targets) == 0 {
			return "", ErrNoTargetFound
		}
		return targets[absMod(n, len(targets))], nil
	}
	return suffixTarget(targets, strconv.Itoa(absMod(n, m.Count)))
}

// absMod is |n| % k, in uint64 so that MinInt64 stays in range.
func absMod(n int64, k int) int {
	u := uint64(n)
	if n < 0 {
		u = -u
	}
	return int(u % uint64(k))
}

// HashModAlgorithm hashes the text of the value like java's String#hashCode.
type HashModAlgorithm struct {
	Count int
}

func (h HashModAlgorithm) DoPreciseSharding(targets []string, column string, value interface{}) (string, error) {
	if h.Count <= 0 {
		return "", errors.Wrapf(ErrInvalidStrategy, "hash-mod on %s needs a sharding count", column)
	}
	return suffixTarget(targets, strconv.Itoa(str.HashMode(expression.Format(value), int32(h.Count))))
}

// suffixTarget prefers `<name>_<suffix>` over a bare suffix match.
func suffixTarget(targets []string, suffix string) (string, error) {
	for _, t := range targets {
		if strings.HasSuffix(t, "_"+suffix) {
			return t, nil
		}
	}
	for _, t := range targets {
		if strings.HasSuffix(t, suffix) {
			return t, nil
		}
	}
	return "", errors.Wrapf(ErrNoTargetFound, "suffix %s in %v", suffix, targets)
}

// ExpressionAlgorithm evaluates a govaluate expression, e.g. parse('ds_', mod(user_id, 2)).
type ExpressionAlgorithm struct {
	Expression string
}

func (e ExpressionAlgorithm) DoPreciseSharding(_ []string, column string, value interface{}) (string, error) {
	return expression.Evaluate(e.Expression, column, value)
}

// InlineComplexAlgorithm renders a template over every combination of precise values.
// A missing column or a range routes to all targets.
type InlineComplexAlgorithm struct {
	Columns  []string
	Template *expression.Template
}

func (a InlineComplexAlgorithm) DoComplexSharding(targets []string, values map[string]Value) ([]string, error) {
	combos := []map[string]interface{}{{}}
	for _, c := range a.Columns {
		v, ok := values[c]
		if !ok || v.IsRange() {
			return targets, nil
		}
		next := make([]map[string]interface{}, 0, len(combos)*len(v.Precise))
		for _, combo := range combos {
			for _, p := range v.Precise {
				m := make(map[string]interface{}, len(combo)+1)
				for k, x := range combo {
					m[k] = x
				}
				m[c] = p
				next = append(next, m)
			}
		}
		combos = next
	}
	out := make([]string, 0, len(combos))
	for _, combo := range combos {
		t, err := a.Template.Execute(combo)
		if err != nil {
			return nil, err
		}
		if !contains(targets, t) {
			return nil, errors.Wrapf(ErrNoTargetFound, "%v maps to %q", combo, t)
		}
		out = append(out, t)
	}
	return out, nil
}

// ValueHintAlgorithm treats hint values as target names, or renders Template with the
// variable `value` when set.
type ValueHintAlgorithm struct {
	Template *expression.Template
}

func (a ValueHintAlgorithm) DoHintSharding(targets []string, values []interface{}) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		t := expression.Format(v)
		if a.Template != nil {
			var err error
			if t, err = a.Template.Execute(map[string]interface{}{"value": v}); err != nil {
				return nil, err
			}
		}
		if !contains(targets, t) {
			return nil, errors.Wrapf(ErrNoTargetFound, "hint %v maps to %q", v, t)
		}
		out = append(out, t)
	}
	return out, nil
}
