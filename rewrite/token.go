package rewrite

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/expression"
	"gorm/shardroute/route"
)

// Token replaces the original text [StartIndex, StopIndex] (both inclusive) of the SQL.
// A zero-width insertion has StopIndex == StartIndex-1.
type Token interface {
	StartIndex() int
	StopIndex() int
	// Render returns the replacement for one route unit.
	Render(unit route.RouteUnit) (string, error)
}

type span struct {
	start, stop int
}

func (s span) StartIndex() int { return s.start }
func (s span) StopIndex() int  { return s.stop }

// TableToken renames a logic table to the unit's actual table.
type TableToken struct {
	span
	Table string
	Quote byte
}

func NewTableToken(start, stop int, table string, quote byte) *TableToken {
	return &TableToken{span: span{start, stop}, Table: table, Quote: quote}
}

func (t *TableToken) Render(unit route.RouteUnit) (string, error) {
	actual, ok := unit.ActualTable(t.Table)
	if !ok {
		return "", errors.Wrapf(ErrRewriteInconsistency, "table %s not routed in %s", t.Table, unit)
	}
	return quote(actual, t.Quote), nil
}

// IndexToken suffixes an index name with the actual table it belongs to.
type IndexToken struct {
	span
	Index string
	Table string
	Quote byte
}

func NewIndexToken(start, stop int, index, table string, quote byte) *IndexToken {
	return &IndexToken{span: span{start, stop}, Index: index, Table: table, Quote: quote}
}

func (t *IndexToken) Render(unit route.RouteUnit) (string, error) {
	var (
		actual string
		ok     bool
	)
	if t.Table == "" && len(unit.Tables) > 0 {
		actual, ok = unit.Tables[0].ActualName, true
	} else {
		actual, ok = unit.ActualTable(t.Table)
	}
	if !ok {
		return "", errors.Wrapf(ErrRewriteInconsistency, "index %s: table %s not routed in %s", t.Index, t.Table, unit)
	}
	return quote(t.Index+"_"+actual, t.Quote), nil
}

// TextToken is the same replacement for every unit, used for revised paging literals.
type TextToken struct {
	span
	Text string
}

func NewTextToken(start, stop int, text string) *TextToken {
	return &TextToken{span: span{start, stop}, Text: text}
}

func (t *TextToken) Render(route.RouteUnit) (string, error) {
	return t.Text, nil
}

// GeneratedKeyColumnToken appends the generated key column to the INSERT column list.
// It is inserted right before the closing parenthesis.
type GeneratedKeyColumnToken struct {
	span
	Column string
}

func NewGeneratedKeyColumnToken(closingParen int, column string) *GeneratedKeyColumnToken {
	return &GeneratedKeyColumnToken{span: span{closingParen, closingParen - 1}, Column: column}
}

func (t *GeneratedKeyColumnToken) Render(route.RouteUnit) (string, error) {
	return ", " + t.Column, nil
}

// insertRow is the original text of a VALUES tuple and the key appended to it.
type insertRow struct {
	text string
	// key is "" when no key is generated
	key string
}

// InsertValuesToken rewrites the VALUES list to the rows routed to a unit.
type InsertValuesToken struct {
	span
	rows []insertRow
}

func (t *InsertValuesToken) Render(unit route.RouteUnit) (string, error) {
	if len(unit.InsertRows) == 0 {
		return "", errors.Wrapf(ErrRewriteInconsistency, "no insert rows routed to %s", unit)
	}
	parts := make([]string, 0, len(unit.InsertRows))
	for _, i := range unit.InsertRows {
		if i < 0 || i >= len(t.rows) {
			return "", errors.Wrapf(ErrRewriteInconsistency, "insert row %d of %d", i, len(t.rows))
		}
		row := t.rows[i]
		if row.key == "" {
			parts = append(parts, row.text)
			continue
		}
		// row.text ends with ')'
		parts = append(parts, row.text[:len(row.text)-1]+", "+row.key+")")
	}
	return strings.Join(parts, ", "), nil
}

func quote(name string, q byte) string {
	switch q {
	case 0:
		return name
	case '[':
		return "[" + name + "]"
	}
	return string(q) + name + string(q)
}

// literal renders a generated key inside SQL text.
func literal(v interface{}) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case fmt.Stringer:
		return literal(x.String())
	}
	return expression.Format(v)
}
