package strategy

import (
	"strings"

	"gorm/shardroute/expression"
)

type BoundType int

const (
	Unbounded BoundType = iota
	Open
	Closed
)

// Range is a sharding value range; a nil end is unbounded.
type Range struct {
	Lower     interface{}
	LowerType BoundType
	Upper     interface{}
	UpperType BoundType
}

// Contains reports whether v lies in r. Values that are not integers are assumed inside.
func (r Range) Contains(v interface{}) bool {
	n, err := expression.ToInt64(v)
	if err != nil {
		return true
	}
	if r.LowerType != Unbounded {
		lo, err := expression.ToInt64(r.Lower)
		if err == nil && (n < lo || (n == lo && r.LowerType == Open)) {
			return false
		}
	}
	if r.UpperType != Unbounded {
		hi, err := expression.ToInt64(r.Upper)
		if err == nil && (n > hi || (n == hi && r.UpperType == Open)) {
			return false
		}
	}
	return true
}

// Value is the sharding value of one column: precise values (= or IN) or a range.
// A column without a Value is unconditional.
type Value struct {
	Column  string
	Precise []interface{}
	Range   *Range
}

func PreciseValue(column string, values ...interface{}) Value {
	return Value{Column: column, Precise: values}
}

func RangeValue(column string, r Range) Value {
	return Value{Column: column, Range: &r}
}

func (v Value) IsRange() bool {
	return v.Range != nil
}

// Intersect narrows v by o, both describing the same column.
func (v Value) Intersect(o Value) Value {
	switch {
	case !v.IsRange() && !o.IsRange():
		var out []interface{}
		for _, a := range v.Precise {
			for _, b := range o.Precise {
				if equalValues(a, b) {
					out = append(out, a)
					break
				}
			}
		}
		return Value{Column: v.Column, Precise: out}
	case !v.IsRange():
		return v.filter(*o.Range)
	case !o.IsRange():
		return o.filter(*v.Range)
	}
	r := *v.Range
	if o.Range.LowerType != Unbounded && (r.LowerType == Unbounded || compareInts(o.Range.Lower, r.Lower) > 0 ||
		(compareInts(o.Range.Lower, r.Lower) == 0 && o.Range.LowerType == Open)) {
		r.Lower, r.LowerType = o.Range.Lower, o.Range.LowerType
	}
	if o.Range.UpperType != Unbounded && (r.UpperType == Unbounded || compareInts(o.Range.Upper, r.Upper) < 0 ||
		(compareInts(o.Range.Upper, r.Upper) == 0 && o.Range.UpperType == Open)) {
		r.Upper, r.UpperType = o.Range.Upper, o.Range.UpperType
	}
	return Value{Column: v.Column, Range: &r}
}

func (v Value) filter(r Range) Value {
	out := make([]interface{}, 0, len(v.Precise))
	for _, p := range v.Precise {
		if r.Contains(p) {
			out = append(out, p)
		}
	}
	return Value{Column: v.Column, Precise: out}
}

func equalValues(a, b interface{}) bool {
	x, errA := expression.ToInt64(a)
	y, errB := expression.ToInt64(b)
	if errA == nil && errB == nil {
		return x == y
	}
	return expression.Format(a) == expression.Format(b)
}

// compareInts compares integer-like values, falling back to their text.
func compareInts(a, b interface{}) int {
	x, errA := expression.ToInt64(a)
	y, errB := expression.ToInt64(b)
	if errA == nil && errB == nil {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(expression.Format(a), expression.Format(b))
}

func findValue(values []Value, column string) (Value, bool) {
	for _, v := range values {
		if strings.EqualFold(v.Column, column) {
			return v, true
		}
	}
	return Value{}, false
}
