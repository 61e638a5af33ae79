// Package rewrite turns a logic statement into one physical statement per route unit.
package rewrite

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gorm/shardroute/pagination"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

var (
	ErrRewriteInconsistency = errors.New("rewrite inconsistency")
	ErrTokenOverlap         = errors.New("sql tokens overlap")
)

// SQLUnit is a rewritten statement and its parameters.
type SQLUnit struct {
	SQL    string
	Params []interface{}
}

// ExecutionUnit binds a SQLUnit to the datasource that runs it.
type ExecutionUnit struct {
	DataSource string
	Unit       route.RouteUnit
	SQLUnit
}

func (u ExecutionUnit) String() string {
	return u.DataSource + ": " + u.SQL
}

// Sort orders tokens by start index, insertions before replacements at the same index.
func Sort(tokens []Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].StartIndex() != tokens[j].StartIndex() {
			return tokens[i].StartIndex() < tokens[j].StartIndex()
		}
		return tokens[i].StopIndex() < tokens[j].StopIndex()
	})
}

// CheckOverlap rejects sorted tokens whose spans intersect or fall outside the text.
func CheckOverlap(sqlLen int, tokens []Token) error {
	prevStop := -1
	for i, t := range tokens {
		if t.StartIndex() < 0 || t.StopIndex() >= sqlLen || t.StopIndex() < t.StartIndex()-1 {
			return errors.Wrapf(ErrTokenOverlap, "token [%d,%d] outside sql of length %d", t.StartIndex(), t.StopIndex(), sqlLen)
		}
		if i > 0 && t.StartIndex() <= prevStop {
			return errors.Wrapf(ErrTokenOverlap, "token [%d,%d] starts inside [%d,%d]",
				t.StartIndex(), t.StopIndex(), tokens[i-1].StartIndex(), prevStop)
		}
		if t.StopIndex() > prevStop {
			prevStop = t.StopIndex()
		}
	}
	return nil
}

// RewriteUnit applies every token against the original offsets in one pass.
func RewriteUnit(sql string, params []interface{}, tokens []Token, unit route.RouteUnit) (SQLUnit, error) {
	sorted := append([]Token(nil), tokens...)
	Sort(sorted)
	if err := CheckOverlap(len(sql), sorted); err != nil {
		return SQLUnit{}, err
	}
	var (
		b      strings.Builder
		cursor int
		delta  int
	)
	b.Grow(len(sql))
	for _, t := range sorted {
		text, err := t.Render(unit)
		if err != nil {
			return SQLUnit{}, err
		}
		b.WriteString(sql[cursor:t.StartIndex()])
		b.WriteString(text)
		cursor = t.StopIndex() + 1
		delta += len(text) - (t.StopIndex() - t.StartIndex() + 1)
	}
	b.WriteString(sql[cursor:])
	out := b.String()
	if len(out) != len(sql)+delta {
		return SQLUnit{}, errors.Wrapf(ErrRewriteInconsistency, "rewritten length %d, expected %d", len(out), len(sql)+delta)
	}
	return SQLUnit{SQL: out, Params: params}, nil
}

type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// Rewrite produces one execution unit per route unit. Any failure aborts the whole
// statement so that no partial SQL is dispatched.
func (e *Engine) Rewrite(stmt *statement.Statement, params []interface{}, result *route.Result, model *pagination.Model) ([]ExecutionUnit, error) {
	if result == nil || result.IsEmpty() {
		return nil, nil
	}
	tokens := tableTokens(stmt)
	params = append([]interface{}(nil), params...)
	if !result.IsSingle() && !model.IsUnbounded() {
		paging, err := revisePagination(stmt, params, model)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, paging...)
	}

	var ins *insertRewrite
	if stmt.Kind == statement.Insert && stmt.Insert != nil && len(stmt.Insert.Rows) > 0 {
		ins = newInsertRewrite(stmt, result.GeneratedKey)
		tokens = append(tokens, ins.tokens()...)
	}

	units := make([]ExecutionUnit, 0, len(result.Units))
	for _, u := range result.Units {
		unitParams := params
		if ins != nil {
			unitParams = ins.params(params, u)
		}
		su, err := RewriteUnit(stmt.SQL, unitParams, tokens, u)
		if err != nil {
			return nil, errors.WithMessagef(err, "rewrite for %s", u)
		}
		units = append(units, ExecutionUnit{DataSource: u.DataSource.ActualName, Unit: u, SQLUnit: su})
	}
	if ce := e.log.Check(zap.DebugLevel, "rewrite"); ce != nil {
		sqls := make([]string, len(units))
		for i, u := range units {
			sqls[i] = u.String()
		}
		ce.Write(zap.String("logic", stmt.SQL), zap.Strings("actual", sqls))
	}
	return units, nil
}

func tableTokens(stmt *statement.Statement) []Token {
	tokens := make([]Token, 0, len(stmt.Tables)+len(stmt.Indexes))
	for _, t := range stmt.Tables {
		tokens = append(tokens, NewTableToken(t.Start, t.Stop, t.Name, t.Quote))
	}
	for _, i := range stmt.Indexes {
		tokens = append(tokens, NewIndexToken(i.Start, i.Stop, i.Name, i.Table, i.Quote))
	}
	return tokens
}

// revisePagination makes every shard start at its first row and return enough rows for
// the merge to cut the logical window. Bound parameters are rewritten in params.
func revisePagination(stmt *statement.Statement, params []interface{}, model *pagination.Model) ([]Token, error) {
	var tokens []Token
	set := func(b *pagination.Bound, v int64) error {
		if b.Segment.Value.IsParam() {
			i := b.Segment.Value.ParamIndex()
			if i >= len(params) {
				return errors.Wrapf(statement.ErrParameterIndex, "paging parameter %d, %d parameters", i, len(params))
			}
			params[i] = v
			return nil
		}
		tokens = append(tokens, NewTextToken(b.Segment.Start, b.Segment.Stop, strconv.FormatInt(v, 10)))
		return nil
	}
	revised, err := model.RevisedRowCount(params)
	if err != nil {
		return nil, err
	}
	if len(stmt.GroupBy) > 0 || stmt.HasAggregation() {
		// a shard's first groups are not the first merged groups, every group is fetched
		revised = math.MaxInt64
	}
	if model.OffsetBound != nil {
		if err := set(model.OffsetBound, 0); err != nil {
			return nil, err
		}
	}
	if model.Kind == pagination.KindLimit && model.RowCountBound != nil && revised != pagination.Unlimited {
		if err := set(model.RowCountBound, revised); err != nil {
			return nil, err
		}
	}
	return tokens, nil
}

// insertRewrite splits a multi-row INSERT by unit and appends generated keys.
type insertRewrite struct {
	sql    string
	ins    *statement.InsertSegment
	key    *route.GeneratedKey
	// rowOf maps a parameter index to its VALUES row, -1 outside VALUES
	rowOf []int
	// lastParam is the last parameter index of each row, -1 for literal-only rows
	lastParam []int
	nParams   int
}

func newInsertRewrite(stmt *statement.Statement, key *route.GeneratedKey) *insertRewrite {
	r := &insertRewrite{sql: stmt.SQL, ins: stmt.Insert, key: key, lastParam: make([]int, len(stmt.Insert.Rows))}
	for i, row := range stmt.Insert.Rows {
		r.lastParam[i] = -1
		for _, v := range row.Values {
			if !v.IsParam() {
				continue
			}
			if v.ParamIndex() > r.lastParam[i] {
				r.lastParam[i] = v.ParamIndex()
			}
			for len(r.rowOf) <= v.ParamIndex() {
				r.rowOf = append(r.rowOf, -1)
			}
			r.rowOf[v.ParamIndex()] = i
		}
	}
	return r
}

func (r *insertRewrite) hasKey(row int) bool {
	return r.key != nil && row < len(r.key.Values)
}

func (r *insertRewrite) tokens() []Token {
	var tokens []Token
	if r.key != nil && r.ins.ColumnsStop >= 0 {
		tokens = append(tokens, NewGeneratedKeyColumnToken(r.ins.ColumnsStop, r.key.Column))
	}
	values := &InsertValuesToken{span: span{r.ins.ValuesStart, r.ins.ValuesStop}}
	for i, row := range r.ins.Rows {
		ir := insertRow{text: r.sql[row.Start : row.Stop+1]}
		if r.hasKey(i) {
			if r.lastParam[i] >= 0 {
				ir.key = "?"
			} else {
				ir.key = literal(r.key.Values[i])
			}
		}
		values.rows = append(values.rows, ir)
	}
	return append(tokens, values)
}

// params keeps the parameters of the unit's rows, each followed by its generated key.
func (r *insertRewrite) params(params []interface{}, unit route.RouteUnit) []interface{} {
	routed := make(map[int]bool, len(unit.InsertRows))
	for _, i := range unit.InsertRows {
		routed[i] = true
	}
	out := make([]interface{}, 0, len(params)+len(unit.InsertRows))
	for i, p := range params {
		row := -1
		if i < len(r.rowOf) {
			row = r.rowOf[i]
		}
		if row >= 0 && !routed[row] {
			continue
		}
		out = append(out, p)
		if row >= 0 && r.lastParam[row] == i && r.hasKey(row) {
			out = append(out, r.key.Values[row])
		}
	}
	return out
}
