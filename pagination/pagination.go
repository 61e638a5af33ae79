// Package pagination normalizes LIMIT, TOP and ROWNUM style paging into one model.
package pagination

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/expression"
	"gorm/shardroute/statement"
)

// Unlimited is the row count of a model without an end bound.
const Unlimited int64 = -1

var ErrInvalidBound = errors.New("invalid pagination bound")

type Kind int

const (
	KindNone Kind = iota
	KindLimit
	KindTop
	KindRowNumber
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindTop:
		return "top"
	case KindRowNumber:
		return "rownum"
	}
	return "none"
}

// Bound is one side of the window as written in the SQL.
type Bound struct {
	Segment statement.NumberSegment
	// Opened is true for `>` and `<`.
	Opened bool
}

// Value re-materializes the bound from a literal or a bound parameter.
func (b *Bound) Value(params []interface{}) (int64, error) {
	v, err := b.Segment.Value.Resolve(params)
	if err != nil {
		return 0, err
	}
	n, err := expression.ToInt64(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidBound, "%v", v)
	}
	if n < 0 {
		return 0, errors.Wrapf(ErrInvalidBound, "negative %d", n)
	}
	return n, nil
}

// Model is the normalized window of a statement. For KindLimit the row count bound is a
// count; for KindTop and KindRowNumber it is the end bound of a 1-based row number.
type Model struct {
	Kind          Kind
	OffsetBound   *Bound
	RowCountBound *Bound
}

// New picks the first paging form present: LIMIT/OFFSET, then TOP, then ROWNUM predicates.
func New(stmt *statement.Statement) *Model {
	p := stmt.Pagination
	switch {
	case p.Limit != nil && (p.Limit.Offset != nil || p.Limit.RowCount != nil):
		m := &Model{Kind: KindLimit}
		if p.Limit.Offset != nil {
			m.OffsetBound = &Bound{Segment: *p.Limit.Offset}
		}
		if p.Limit.RowCount != nil {
			m.RowCountBound = &Bound{Segment: *p.Limit.RowCount}
		}
		return m
	case p.Top != nil:
		m := &Model{Kind: KindTop, RowCountBound: &Bound{Segment: p.Top.RowCount}}
		if p.Top.RowNumberAlias != "" {
			m.OffsetBound, _ = scan(p.RowNumbers, p.Top.RowNumberAlias)
		}
		return m
	case len(p.RowNumbers) > 0:
		offset, end := scan(p.RowNumbers, "")
		if offset == nil && end == nil {
			return &Model{}
		}
		return &Model{Kind: KindRowNumber, OffsetBound: offset, RowCountBound: end}
	}
	return &Model{}
}

// scan returns the first offset (`>`, `>=`) and the first end (`<`, `<=`) predicate.
func scan(preds []statement.RowNumberPredicate, column string) (*Bound, *Bound) {
	var offset, end *Bound
	for _, p := range preds {
		if column != "" && !strings.EqualFold(p.Column, column) {
			continue
		}
		switch p.Operator {
		case statement.GreaterThan, statement.GreaterEqual:
			if offset == nil {
				offset = &Bound{Segment: p.Value, Opened: p.Operator == statement.GreaterThan}
			}
		case statement.LessThan, statement.LessEqual:
			if end == nil {
				end = &Bound{Segment: p.Value, Opened: p.Operator == statement.LessThan}
			}
		}
	}
	return offset, end
}

// IsUnbounded reports a statement without paging.
func (m *Model) IsUnbounded() bool {
	return m == nil || m.Kind == KindNone
}

// Offset is the number of leading rows of the logical result to skip.
func (m *Model) Offset(params []interface{}) (int64, error) {
	if m.IsUnbounded() || m.OffsetBound == nil {
		return 0, nil
	}
	n, err := m.OffsetBound.Value(params)
	if err != nil {
		return 0, err
	}
	if m.Kind != KindLimit && !m.OffsetBound.Opened && n > 0 {
		// rownum >= 6 starts at the sixth row
		n--
	}
	return n, nil
}

// RowCount is the number of rows to return after the offset, Unlimited without an end.
func (m *Model) RowCount(params []interface{}) (int64, error) {
	if m.IsUnbounded() || m.RowCountBound == nil {
		return Unlimited, nil
	}
	n, err := m.RowCountBound.Value(params)
	if err != nil {
		return 0, err
	}
	if m.Kind == KindLimit {
		return n, nil
	}
	if m.RowCountBound.Opened {
		n--
	}
	offset, err := m.Offset(params)
	if err != nil {
		return 0, err
	}
	if n < offset {
		return 0, nil
	}
	return n - offset, nil
}

// RevisedRowCount is what every shard must return for the merge to trim the window:
// offset plus row count for LIMIT, the unchanged end bound for TOP and ROWNUM.
func (m *Model) RevisedRowCount(params []interface{}) (int64, error) {
	if m.IsUnbounded() || m.RowCountBound == nil {
		return Unlimited, nil
	}
	if m.Kind != KindLimit {
		return m.RowCountBound.Value(params)
	}
	rowCount, err := m.RowCount(params)
	if err != nil {
		return 0, err
	}
	offset, err := m.Offset(params)
	if err != nil {
		return 0, err
	}
	if rowCount > math.MaxInt64-offset {
		return math.MaxInt64, nil
	}
	return offset + rowCount, nil
}
