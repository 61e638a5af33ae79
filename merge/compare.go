package merge

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"gorm/shardroute/statement"
)

var ErrOrderByColumn = errors.New("order by column not in result")

// Comparator orders two rows, negative when a sorts first.
type Comparator func(a, b []interface{}) int

// OrderByComparator resolves ORDER BY items against result columns. Qualified names
// (o.id) match on the column part.
func OrderByComparator(items []statement.OrderByItem, columns []string) (Comparator, error) {
	idx := make([]int, len(items))
	for i, item := range items {
		j, err := columnIndex(item, columns)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	return func(a, b []interface{}) int {
		for i, item := range items {
			c := Compare(a[idx[i]], b[idx[i]])
			if c == 0 {
				continue
			}
			if item.Desc {
				return -c
			}
			return c
		}
		return 0
	}, nil
}

func columnIndex(item statement.OrderByItem, columns []string) (int, error) {
	if item.Index > 0 {
		if item.Index > len(columns) {
			return 0, errors.Wrapf(ErrOrderByColumn, "position %d of %d columns", item.Index, len(columns))
		}
		return item.Index - 1, nil
	}
	name := item.Column
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(name, "`\"[]")
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrOrderByColumn, "%s in %v", item.Column, columns)
}

// Compare orders scanned values; nil sorts first and numbers compare across types.
func Compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}
		return 1
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return compareFloat(x, y)
		}
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			switch {
			case x.Before(y):
				return -1
			case x.After(y):
				return 1
			}
			return 0
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return bytes.Compare(toBytes(a), toBytes(b))
}

func compareFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// toFloat converts numeric values, and numeric text as drivers return DECIMAL columns.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBytes(v interface{}) []byte {
	switch x := v.(type) {
	case []byte:
		return x
	case string:
		return []byte(x)
	}
	return []byte(fmt.Sprint(v))
}
