// Package statement holds the parsed-statement contract consumed by the sharding pipeline.
// The parser that fills it is a black box; offsets always refer to Statement.SQL.
package statement

import (
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	Select
	Insert
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Select:
		return "SELECT"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	}
	return "UNKNOWN"
}

type Operator string

const (
	Equal        Operator = "="
	In           Operator = "in"
	LessThan     Operator = "<"
	LessEqual    Operator = "<="
	GreaterThan  Operator = ">"
	GreaterEqual Operator = ">="
	Between      Operator = "between"
)

// Flip returns the operator seen from the other side of the comparison (5 < a => a > 5).
func (o Operator) Flip() Operator {
	switch o {
	case LessThan:
		return GreaterThan
	case LessEqual:
		return GreaterEqual
	case GreaterThan:
		return LessThan
	case GreaterEqual:
		return LessEqual
	}
	return o
}

var ErrParameterIndex = errors.New("parameter index out of range")

// ValueExpr is either a literal or a reference to a bound parameter. The zero value is
// the literal NULL.
type ValueExpr struct {
	Literal interface{}
	// param is the 1-based parameter position, 0 for a literal
	param int
}

func Literal(v interface{}) ValueExpr {
	return ValueExpr{Literal: v}
}

// Param references the parameter at the 0-based index.
func Param(index int) ValueExpr {
	return ValueExpr{param: index + 1}
}

func (v ValueExpr) IsParam() bool {
	return v.param > 0
}

// ParamIndex is the 0-based parameter index, -1 for a literal.
func (v ValueExpr) ParamIndex() int {
	return v.param - 1
}

func (v ValueExpr) Resolve(params []interface{}) (interface{}, error) {
	if !v.IsParam() {
		return v.Literal, nil
	}
	if v.ParamIndex() >= len(params) {
		return nil, errors.Wrapf(ErrParameterIndex, "index %d, %d parameters", v.ParamIndex(), len(params))
	}
	return params[v.ParamIndex()], nil
}

// TableSegment is one occurrence of a table identifier. Stop is inclusive and includes quotes.
type TableSegment struct {
	Name  string
	Start int
	Stop  int
	Quote byte
}

// IndexSegment is an index identifier owned by Table.
type IndexSegment struct {
	Name  string
	Table string
	Start int
	Stop  int
	Quote byte
}

// Condition is a sharding-relevant predicate. Table is empty when the column is unqualified.
type Condition struct {
	Table    string
	Column   string
	Operator Operator
	Values   []ValueExpr
}

// ConditionGroup is a conjunction; Statement.Where is a disjunction of groups.
type ConditionGroup []Condition

// NumberSegment is a literal or parameter marker in the text, Stop inclusive.
type NumberSegment struct {
	Start int
	Stop  int
	Value ValueExpr
}

type LimitSegment struct {
	Offset   *NumberSegment
	RowCount *NumberSegment
}

// TopSegment is a vendor TOP n clause; RowNumberAlias names the ROW_NUMBER column used for
// the offset predicate, if any.
type TopSegment struct {
	RowCount       NumberSegment
	RowNumberAlias string
}

// RowNumberPredicate is `<column> <op> <value>` on a ROWNUM style pseudo column.
type RowNumberPredicate struct {
	Column   string
	Operator Operator
	Value    NumberSegment
}

type PaginationSegment struct {
	Limit      *LimitSegment
	Top        *TopSegment
	RowNumbers []RowNumberPredicate
}

// InsertRow is one VALUES tuple; Start and Stop are the parentheses.
type InsertRow struct {
	Start  int
	Stop   int
	Values []ValueExpr
}

type InsertSegment struct {
	Columns []string
	// ColumnsStop is the offset of the ')' closing the column list, -1 when omitted.
	ColumnsStop int
	Rows        []InsertRow
	ValuesStart int
	ValuesStop  int
}

type OrderByItem struct {
	Column string
	// Index is a 1-based select list ordinal (ORDER BY 2), 0 otherwise.
	Index int
	Desc  bool
}

type AggregationType string

const (
	Count AggregationType = "COUNT"
	Sum   AggregationType = "SUM"
	Min   AggregationType = "MIN"
	Max   AggregationType = "MAX"
	Avg   AggregationType = "AVG"
)

type Projection struct {
	Expression  string
	Alias       string
	Aggregation AggregationType
}

type Statement struct {
	SQL         string
	Kind        Kind
	Tables      []TableSegment
	Indexes     []IndexSegment
	Where       []ConditionGroup
	Pagination  PaginationSegment
	Insert      *InsertSegment
	OrderBy     []OrderByItem
	GroupBy     []OrderByItem
	Projections []Projection
	ForUpdate   bool
}

// TableNames returns the distinct referenced tables in order of first appearance.
func (s *Statement) TableNames() []string {
	var names []string
	seen := make(map[string]struct{}, len(s.Tables))
	for _, t := range s.Tables {
		key := strings.ToLower(t.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, t.Name)
	}
	return names
}

// HasAggregation reports whether any projection is an aggregate function.
func (s *Statement) HasAggregation() bool {
	for _, p := range s.Projections {
		if p.Aggregation != "" {
			return true
		}
	}
	return false
}
