package merge

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/statement"
)

var ErrUnsupportedAggregation = errors.New("aggregation cannot be merged across shards")

// aggregator folds the value of one column over the rows of a group.
type aggregator func(acc, v interface{}) interface{}

func aggregatorOf(t statement.AggregationType) (aggregator, error) {
	switch t {
	case "":
		return func(acc, v interface{}) interface{} { return acc }, nil
	case statement.Count, statement.Sum:
		return add, nil
	case statement.Min:
		return func(acc, v interface{}) interface{} {
			if v != nil && (acc == nil || Compare(v, acc) < 0) {
				return v
			}
			return acc
		}, nil
	case statement.Max:
		return func(acc, v interface{}) interface{} {
			if v != nil && (acc == nil || Compare(v, acc) > 0) {
				return v
			}
			return acc
		}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedAggregation, "%s", t)
}

// add sums integers as int64 and everything else as float64; NULL is ignored.
func add(acc, v interface{}) interface{} {
	if v == nil {
		return acc
	}
	if acc == nil {
		if f, ok := toFloat(v); ok {
			if i, ok := toInt(v); ok {
				return i
			}
			return f
		}
		return v
	}
	if x, ok := toInt(acc); ok {
		if y, ok := toInt(v); ok {
			return x + y
		}
	}
	x, _ := toFloat(acc)
	y, _ := toFloat(v)
	return x + y
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case []byte:
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// groupBy merges every row in memory: rows sharing the GROUP BY values collapse into one
// and aggregate columns are folded. Without GROUP BY all rows form one group.
func groupBy(results []QueryResult, stmt *statement.Statement) (*MemoryResult, error) {
	columns := results[0].Columns()
	aggs, err := columnAggregators(stmt.Projections, columns)
	if err != nil {
		return nil, err
	}
	keys := make([]int, 0, len(stmt.GroupBy))
	for _, item := range stmt.GroupBy {
		i, err := columnIndex(item, columns)
		if err != nil {
			return nil, err
		}
		keys = append(keys, i)
	}

	var (
		order  []string
		groups = make(map[string][]interface{})
	)
	for _, r := range results {
		for r.Next() {
			row := r.Values()
			key := groupKey(row, keys)
			acc, ok := groups[key]
			if !ok {
				acc = append([]interface{}(nil), row...)
				for i, agg := range aggs {
					if agg != nil {
						acc[i] = agg(nil, row[i])
					}
				}
				groups[key] = acc
				order = append(order, key)
				continue
			}
			for i, agg := range aggs {
				if agg != nil {
					acc[i] = agg(acc[i], row[i])
				}
			}
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
	}

	rows := make([][]interface{}, 0, len(order))
	for _, key := range order {
		rows = append(rows, groups[key])
	}
	sortItems := stmt.OrderBy
	if len(sortItems) == 0 {
		sortItems = stmt.GroupBy
	}
	if len(sortItems) > 0 {
		cmp, err := OrderByComparator(sortItems, columns)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(rows, func(i, j int) bool { return cmp(rows[i], rows[j]) < 0 })
	}
	return NewMemoryResult(columns, rows), nil
}

// columnAggregators maps each result column to its aggregator, nil for plain columns.
// Projections line up with columns by position, or by alias when the counts differ.
func columnAggregators(projections []statement.Projection, columns []string) ([]aggregator, error) {
	aggs := make([]aggregator, len(columns))
	for pi, p := range projections {
		if p.Aggregation == "" {
			continue
		}
		col := -1
		if len(projections) == len(columns) {
			col = pi
		} else {
			for i, c := range columns {
				if strings.EqualFold(c, p.Alias) || strings.EqualFold(c, p.Expression) {
					col = i
					break
				}
			}
		}
		if col < 0 {
			return nil, errors.Wrapf(ErrColumnMismatch, "aggregation %s not in %v", p.Expression, columns)
		}
		agg, err := aggregatorOf(p.Aggregation)
		if err != nil {
			return nil, err
		}
		aggs[col] = agg
	}
	return aggs, nil
}

func groupKey(row []interface{}, keys []int) string {
	var b strings.Builder
	for _, k := range keys {
		v := row[k]
		if v == nil {
			b.WriteString("\x00N")
		} else {
			b.WriteString("\x00V")
			b.Write(toBytes(v))
		}
	}
	return b.String()
}
