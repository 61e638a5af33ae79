// Package sqlparse fills statement.Statement for MySQL style SQL. The AST comes from
// xwb1989/sqlparser; text offsets come from its tokenizer, since the AST keeps none.
package sqlparse

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"

	"gorm/shardroute/statement"
)

var (
	ErrParse       = errors.New("parse sql")
	ErrUnsupported = errors.New("unsupported sql")
)

// maxConditionGroups bounds the OR expansion of a WHERE clause; past it every node is routed.
const maxConditionGroups = 256

type parser struct {
	sql     string
	tokens  []token
	depth   []int
	tables  []string
	aliases map[string]string
}

// Parse parses one statement.
func Parse(sql string) (*statement.Statement, error) {
	tree, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{sql: sql, tokens: tokens, depth: depths(tokens), aliases: make(map[string]string)}
	stmt := &statement.Statement{SQL: sql}

	switch node := tree.(type) {
	case *sqlparser.Select:
		stmt.Kind = statement.Select
		p.collect(node)
		stmt.Where = p.where(node.Where)
		stmt.OrderBy = orderItems(node.OrderBy)
		stmt.GroupBy = groupItems(node.GroupBy)
		stmt.Projections = projections(node.SelectExprs)
		stmt.ForUpdate = node.Lock == sqlparser.ForUpdateStr
		if err := p.pagination(stmt); err != nil {
			return nil, err
		}
	case *sqlparser.Union, *sqlparser.ParenSelect:
		stmt.Kind = statement.Select
		p.collect(node)
	case *sqlparser.Insert:
		stmt.Kind = statement.Insert
		p.addTable(node.Table.Name.String())
		p.collect(node)
		if err := p.insert(stmt, node); err != nil {
			return nil, err
		}
	case *sqlparser.Update:
		stmt.Kind = statement.Update
		p.collect(node)
		stmt.Where = p.where(node.Where)
	case *sqlparser.Delete:
		stmt.Kind = statement.Delete
		p.collect(node)
		stmt.Where = p.where(node.Where)
	case *sqlparser.DDL:
		for _, name := range []sqlparser.TableName{node.Table, node.NewName} {
			if !name.IsEmpty() {
				p.addTable(name.Name.String())
			}
		}
	default:
		// SET, SHOW, transaction control: nothing to shard
		return stmt, nil
	}

	if err := p.tableSegments(stmt); err != nil {
		return nil, err
	}
	if _, ok := tree.(*sqlparser.DDL); ok {
		p.indexSegments(stmt)
	}
	return stmt, nil
}

func (p *parser) addTable(name string) {
	for _, t := range p.tables {
		if strings.EqualFold(t, name) {
			return
		}
	}
	p.tables = append(p.tables, name)
}

// collect records the tables and aliases of every FROM, JOIN and derived table.
func (p *parser) collect(node sqlparser.SQLNode) {
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		if at, ok := n.(*sqlparser.AliasedTableExpr); ok {
			if tn, ok := at.Expr.(sqlparser.TableName); ok && !tn.IsEmpty() {
				p.addTable(tn.Name.String())
				if !at.As.IsEmpty() {
					p.aliases[strings.ToLower(at.As.String())] = tn.Name.String()
				}
			}
		}
		return true, nil
	}, node)
}

func (p *parser) isTable(name string) bool {
	for _, t := range p.tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func (p *parser) isOwner(name string) bool {
	_, alias := p.aliases[strings.ToLower(name)]
	return alias || p.isTable(name)
}

// tableSegments locates every occurrence of a table name: after FROM, JOIN, INTO,
// UPDATE, TABLE, ON or a comma, and as the owner of a column (t_order.id).
func (p *parser) tableSegments(stmt *statement.Statement) error {
	for i, t := range p.tokens {
		if !t.ident(p.sql) || !p.isTable(t.name()) {
			continue
		}
		var prev, next token
		if i > 0 {
			prev = p.tokens[i-1]
		}
		if i+1 < len(p.tokens) {
			next = p.tokens[i+1]
		}
		switch {
		case next.is('('):
			// a function of the same name, unless it is an INSERT, CREATE TABLE or CREATE INDEX column list
			switch prev.typ {
			case sqlparser.INTO, sqlparser.INSERT, sqlparser.TABLE, sqlparser.ON:
			default:
				continue
			}
		case prev.is('.'):
			// db.t_order is a table, o.t_order a column
			if i > 1 && p.isOwner(p.tokens[i-2].name()) {
				continue
			}
		case next.is('.'):
		default:
			switch prev.typ {
			case sqlparser.FROM, sqlparser.JOIN, sqlparser.STRAIGHT_JOIN, sqlparser.INTO, sqlparser.UPDATE,
				sqlparser.TABLE, sqlparser.ON, sqlparser.INSERT, sqlparser.REPLACE, sqlparser.IGNORE, ',':
			default:
				continue
			}
		}
		text := p.sql[t.start : t.stop+1]
		quote := t.quote(p.sql)
		if quote == 0 && !strings.EqualFold(text, t.name()) {
			return errors.Wrapf(ErrUnsupported, "table %s found at %d as %q", t.name(), t.start, text)
		}
		stmt.Tables = append(stmt.Tables, statement.TableSegment{Name: t.name(), Start: t.start, Stop: t.stop, Quote: quote})
	}
	if len(p.tables) > 0 && len(stmt.Tables) == 0 {
		return errors.Wrapf(ErrUnsupported, "no position for tables %v", p.tables)
	}
	return nil
}

// indexSegments finds `INDEX name` and `KEY name` of a DDL statement.
func (p *parser) indexSegments(stmt *statement.Statement) {
	if len(p.tables) == 0 {
		return
	}
	for i := 0; i+1 < len(p.tokens); i++ {
		if p.tokens[i].typ != sqlparser.INDEX && p.tokens[i].typ != sqlparser.KEY {
			continue
		}
		name := p.tokens[i+1]
		if !name.ident(p.sql) || p.isTable(name.name()) {
			continue
		}
		stmt.Indexes = append(stmt.Indexes, statement.IndexSegment{
			Name: name.name(), Table: p.tables[0], Start: name.start, Stop: name.stop, Quote: name.quote(p.sql),
		})
	}
}

func (p *parser) where(w *sqlparser.Where) []statement.ConditionGroup {
	if w == nil {
		return nil
	}
	groups := p.dnf(w.Expr)
	if len(groups) > maxConditionGroups {
		return nil
	}
	out := make([]statement.ConditionGroup, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			// one unconstrained branch routes everywhere
			return nil
		}
		out = append(out, g)
	}
	return out
}

// dnf rewrites the expression as a disjunction of conjunctions of sharding conditions.
// Conditions it cannot use are dropped, which only widens the route.
func (p *parser) dnf(expr sqlparser.Expr) []statement.ConditionGroup {
	switch e := expr.(type) {
	case *sqlparser.ParenExpr:
		return p.dnf(e.Expr)
	case *sqlparser.OrExpr:
		left, right := p.dnf(e.Left), p.dnf(e.Right)
		if len(left)+len(right) > maxConditionGroups {
			return []statement.ConditionGroup{{}}
		}
		return append(left, right...)
	case *sqlparser.AndExpr:
		left, right := p.dnf(e.Left), p.dnf(e.Right)
		if len(left)*len(right) > maxConditionGroups {
			return []statement.ConditionGroup{{}}
		}
		out := make([]statement.ConditionGroup, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				g := make(statement.ConditionGroup, 0, len(l)+len(r))
				out = append(out, append(append(g, l...), r...))
			}
		}
		return out
	case *sqlparser.ComparisonExpr:
		if c, ok := p.comparison(e); ok {
			return []statement.ConditionGroup{{c}}
		}
	case *sqlparser.RangeCond:
		if c, ok := p.between(e); ok {
			return []statement.ConditionGroup{{c}}
		}
	}
	return []statement.ConditionGroup{{}}
}

var operators = map[string]statement.Operator{
	sqlparser.EqualStr:        statement.Equal,
	sqlparser.InStr:           statement.In,
	sqlparser.LessThanStr:     statement.LessThan,
	sqlparser.LessEqualStr:    statement.LessEqual,
	sqlparser.GreaterThanStr:  statement.GreaterThan,
	sqlparser.GreaterEqualStr: statement.GreaterEqual,
}

func (p *parser) comparison(e *sqlparser.ComparisonExpr) (statement.Condition, bool) {
	op, ok := operators[e.Operator]
	if !ok {
		return statement.Condition{}, false
	}
	col, isCol := e.Left.(*sqlparser.ColName)
	other := e.Right
	if !isCol && op != statement.In {
		if col, isCol = e.Right.(*sqlparser.ColName); isCol {
			other = e.Left
			op = op.Flip()
		}
	}
	if !isCol {
		return statement.Condition{}, false
	}
	var exprs []sqlparser.Expr
	if tuple, ok := other.(sqlparser.ValTuple); ok && op == statement.In {
		exprs = tuple
	} else if op != statement.In {
		exprs = []sqlparser.Expr{other}
	}
	values, ok := valueExprs(exprs)
	if !ok || len(values) == 0 {
		return statement.Condition{}, false
	}
	return p.condition(col, op, values)
}

func (p *parser) between(e *sqlparser.RangeCond) (statement.Condition, bool) {
	col, ok := e.Left.(*sqlparser.ColName)
	if !ok || e.Operator != sqlparser.BetweenStr {
		return statement.Condition{}, false
	}
	values, ok := valueExprs([]sqlparser.Expr{e.From, e.To})
	if !ok {
		return statement.Condition{}, false
	}
	return p.condition(col, statement.Between, values)
}

func (p *parser) condition(col *sqlparser.ColName, op statement.Operator, values []statement.ValueExpr) (statement.Condition, bool) {
	if col.Name.EqualString("rownum") {
		return statement.Condition{}, false
	}
	table := ""
	if !col.Qualifier.IsEmpty() {
		table = col.Qualifier.Name.String()
		if logic, ok := p.aliases[strings.ToLower(table)]; ok {
			table = logic
		}
	}
	return statement.Condition{Table: table, Column: col.Name.String(), Operator: op, Values: values}, true
}

func valueExprs(exprs []sqlparser.Expr) ([]statement.ValueExpr, bool) {
	out := make([]statement.ValueExpr, 0, len(exprs))
	for _, e := range exprs {
		v, ok := valueExpr(e)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func valueExpr(e sqlparser.Expr) (statement.ValueExpr, bool) {
	switch v := e.(type) {
	case *sqlparser.SQLVal:
		switch v.Type {
		case sqlparser.IntVal:
			n, err := strconv.ParseInt(string(v.Val), 10, 64)
			if err != nil {
				return statement.ValueExpr{}, false
			}
			return statement.Literal(n), true
		case sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(v.Val), 64)
			if err != nil {
				return statement.ValueExpr{}, false
			}
			return statement.Literal(f), true
		case sqlparser.StrVal:
			return statement.Literal(string(v.Val)), true
		case sqlparser.ValArg:
			return paramExpr(string(v.Val))
		}
	case *sqlparser.UnaryExpr:
		if v.Operator == sqlparser.UMinusStr {
			if inner, ok := valueExpr(v.Expr); ok && !inner.IsParam() {
				switch n := inner.Literal.(type) {
				case int64:
					return statement.Literal(-n), true
				case float64:
					return statement.Literal(-n), true
				}
			}
		}
	case *sqlparser.NullVal:
		return statement.Literal(nil), true
	case sqlparser.BoolVal:
		return statement.Literal(bool(v)), true
	}
	return statement.ValueExpr{}, false
}

// paramExpr maps the lexer's :vN name of the N-th '?' to parameter N-1.
func paramExpr(name string) (statement.ValueExpr, bool) {
	if !strings.HasPrefix(name, ":v") {
		return statement.ValueExpr{}, false
	}
	n, err := strconv.Atoi(name[2:])
	if err != nil || n < 1 {
		return statement.ValueExpr{}, false
	}
	return statement.Param(n - 1), true
}

func numberSegment(t token) (*statement.NumberSegment, bool) {
	switch t.typ {
	case sqlparser.INTEGRAL:
		n, err := strconv.ParseInt(t.val, 10, 64)
		if err != nil {
			return nil, false
		}
		return &statement.NumberSegment{Start: t.start, Stop: t.stop, Value: statement.Literal(n)}, true
	case sqlparser.VALUE_ARG:
		v, ok := paramExpr(t.val)
		if !ok {
			return nil, false
		}
		return &statement.NumberSegment{Start: t.start, Stop: t.stop, Value: v}, true
	}
	return nil, false
}

// pagination reads the outermost LIMIT and every ROWNUM comparison.
func (p *parser) pagination(stmt *statement.Statement) error {
	limit := -1
	for i, t := range p.tokens {
		if t.typ == sqlparser.LIMIT && p.depth[i] == 0 {
			limit = i
		}
	}
	if limit >= 0 && limit+1 < len(p.tokens) {
		first, ok := numberSegment(p.tokens[limit+1])
		if !ok {
			return errors.Wrapf(ErrUnsupported, "limit at %d", p.tokens[limit].start)
		}
		seg := &statement.LimitSegment{RowCount: first}
		if limit+3 < len(p.tokens) {
			sep := p.tokens[limit+2]
			if second, ok := numberSegment(p.tokens[limit+3]); ok {
				switch {
				case sep.is(','):
					seg.Offset, seg.RowCount = first, second
				case sep.typ == sqlparser.OFFSET:
					seg.Offset = second
				}
			}
		}
		stmt.Pagination.Limit = seg
	}

	for i := 0; i+2 < len(p.tokens); i++ {
		left, op, right := p.tokens[i], p.tokens[i+1], p.tokens[i+2]
		operator, ok := rowNumberOperator(op)
		if !ok {
			continue
		}
		if left.ident(p.sql) && strings.EqualFold(left.name(), "rownum") {
			if v, ok := numberSegment(right); ok {
				stmt.Pagination.RowNumbers = append(stmt.Pagination.RowNumbers, statement.RowNumberPredicate{Column: left.name(), Operator: operator, Value: *v})
			}
		} else if right.ident(p.sql) && strings.EqualFold(right.name(), "rownum") {
			if v, ok := numberSegment(left); ok {
				stmt.Pagination.RowNumbers = append(stmt.Pagination.RowNumbers, statement.RowNumberPredicate{Column: right.name(), Operator: operator.Flip(), Value: *v})
			}
		}
	}
	return nil
}

func rowNumberOperator(t token) (statement.Operator, bool) {
	switch {
	case t.is('<'):
		return statement.LessThan, true
	case t.is('>'):
		return statement.GreaterThan, true
	case t.typ == sqlparser.LE:
		return statement.LessEqual, true
	case t.typ == sqlparser.GE:
		return statement.GreaterEqual, true
	}
	return "", false
}

func (p *parser) insert(stmt *statement.Statement, node *sqlparser.Insert) error {
	values, ok := node.Rows.(sqlparser.Values)
	if !ok {
		// INSERT ... SELECT is routed as a whole
		return nil
	}
	seg := &statement.InsertSegment{ColumnsStop: -1}
	for _, c := range node.Columns {
		seg.Columns = append(seg.Columns, c.String())
	}

	table := node.Table.Name.String()
	at := -1
	for i, t := range p.tokens {
		if t.ident(p.sql) && strings.EqualFold(t.name(), table) {
			at = i
			break
		}
	}
	if at < 0 {
		return errors.Wrapf(ErrUnsupported, "insert table %s not found", table)
	}
	i := at + 1
	if len(seg.Columns) > 0 && i < len(p.tokens) && p.tokens[i].is('(') {
		closing := matching(p.tokens, i)
		if closing < 0 {
			return errors.Wrap(ErrParse, "unbalanced column list")
		}
		seg.ColumnsStop = p.tokens[closing].start
		i = closing + 1
	}
	for i < len(p.tokens) && p.tokens[i].typ != sqlparser.VALUES && p.tokens[i].typ != sqlparser.VALUE {
		i++
	}
	i++
	for row := 0; row < len(values); row++ {
		if i >= len(p.tokens) || !p.tokens[i].is('(') {
			return errors.Wrapf(ErrUnsupported, "values row %d not found", row)
		}
		closing := matching(p.tokens, i)
		if closing < 0 {
			return errors.Wrap(ErrParse, "unbalanced values row")
		}
		exprs := make([]statement.ValueExpr, 0, len(values[row]))
		for _, e := range values[row] {
			v, ok := valueExpr(e)
			if !ok {
				v = statement.Literal(sqlparser.String(e))
			}
			exprs = append(exprs, v)
		}
		seg.Rows = append(seg.Rows, statement.InsertRow{Start: p.tokens[i].start, Stop: p.tokens[closing].start, Values: exprs})
		i = closing + 1
		if i < len(p.tokens) && p.tokens[i].is(',') {
			i++
		}
	}
	seg.ValuesStart = seg.Rows[0].Start
	seg.ValuesStop = seg.Rows[len(seg.Rows)-1].Stop
	stmt.Insert = seg
	return nil
}

func orderItems(order sqlparser.OrderBy) []statement.OrderByItem {
	items := make([]statement.OrderByItem, 0, len(order))
	for _, o := range order {
		item := exprItem(o.Expr)
		item.Desc = o.Direction == sqlparser.DescScr
		items = append(items, item)
	}
	return items
}

func groupItems(group sqlparser.GroupBy) []statement.OrderByItem {
	items := make([]statement.OrderByItem, 0, len(group))
	for _, e := range group {
		items = append(items, exprItem(e))
	}
	return items
}

func exprItem(e sqlparser.Expr) statement.OrderByItem {
	if v, ok := e.(*sqlparser.SQLVal); ok && v.Type == sqlparser.IntVal {
		if n, err := strconv.Atoi(string(v.Val)); err == nil {
			return statement.OrderByItem{Index: n}
		}
	}
	if col, ok := e.(*sqlparser.ColName); ok {
		name := col.Name.String()
		if !col.Qualifier.IsEmpty() {
			name = col.Qualifier.Name.String() + "." + name
		}
		return statement.OrderByItem{Column: name}
	}
	return statement.OrderByItem{Column: sqlparser.String(e)}
}

var aggregations = map[string]statement.AggregationType{
	"count": statement.Count,
	"sum":   statement.Sum,
	"min":   statement.Min,
	"max":   statement.Max,
	"avg":   statement.Avg,
}

func projections(exprs sqlparser.SelectExprs) []statement.Projection {
	out := make([]statement.Projection, 0, len(exprs))
	for _, se := range exprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			out = append(out, statement.Projection{Expression: sqlparser.String(e)})
		case *sqlparser.AliasedExpr:
			proj := statement.Projection{Expression: sqlparser.String(e.Expr), Alias: e.As.String()}
			if fn, ok := e.Expr.(*sqlparser.FuncExpr); ok && !fn.Distinct {
				proj.Aggregation = aggregations[fn.Name.Lowered()]
			}
			out = append(out, proj)
		}
	}
	return out
}
