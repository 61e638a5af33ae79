package expression

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"

	"gorm/shardroute/util/str"
)

var ErrInvalidExpression = errors.New("invalid sharding expression")

// functions available to sharding expressions, e.g. parse('t_order_', mod(user_id, 4))
var functions = map[string]govaluate.ExpressionFunction{
	"parse": func(args ...interface{}) (interface{}, error) {
		var sb strings.Builder
		for _, arg := range args {
			sb.WriteString(Format(arg))
		}
		return sb.String(), nil
	},
	"hashcode": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.Errorf("hashcode expects 1 argument, got %d", len(args))
		}
		return float64(str.Hashcode(Format(args[0]))), nil
	},
	"mod": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.Errorf("mod expects 2 arguments, got %d", len(args))
		}
		a, err := ToInt64(args[0])
		if err != nil {
			return nil, err
		}
		b, err := ToInt64(args[1])
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return nil, errors.New("mod by zero")
		}
		m := a % b
		if m < 0 {
			m = -m
		}
		return float64(m), nil
	},
}

// New compiles a govaluate expression with the sharding functions.
func New(expr string) (*govaluate.EvaluableExpression, error) {
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, functions)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidExpression, "%q: %v", expr, err)
	}
	return e, nil
}

// Evaluate evaluates expression with a single named parameter.
func Evaluate(expr string, parameter string, value interface{}) (string, error) {
	e, err := New(expr)
	if err != nil {
		return "", err
	}
	return evaluate(e, map[string]interface{}{parameter: Normalize(value)})
}

func evaluate(e *govaluate.EvaluableExpression, params map[string]interface{}) (string, error) {
	result, err := e.Evaluate(params)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidExpression, "%s: %v", e.String(), err)
	}
	if _, ok := result.(bool); ok {
		return "", errors.Wrapf(ErrInvalidExpression, "%s evaluates to a boolean", e.String())
	}
	return Format(result), nil
}

// Normalize converts numeric values to float64, the only numeric type govaluate operators accept.
func Normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case []byte:
		return string(n)
	}
	return v
}

// Format renders an expression result; integral floats print without a fraction.
func Format(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<63 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return Format(float64(n))
	case []byte:
		return string(n)
	case string:
		return n
	}
	return fmt.Sprintf("%v", v)
}

// ToInt64 converts integers, integral floats and numeric strings.
func ToInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return ToInt64(float64(n))
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Errorf("%v is not integral", n)
		}
		return int64(n), nil
	case []byte:
		return ToInt64(string(n))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse %q", n)
		}
		return i, nil
	}
	return 0, errors.Errorf("%v (%T) is not an integer", v, v)
}
