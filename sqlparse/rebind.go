package sqlparse

import (
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Rebind turns '?' placeholders into $1, $2, ... for postgres connections. Question marks
// inside literals and comments are kept.
func Rebind(sql string) (string, error) {
	tokens, err := tokenize(sql)
	if err != nil {
		return "", err
	}
	var (
		b    strings.Builder
		last int
	)
	b.Grow(len(sql) + 8)
	for _, t := range tokens {
		if t.typ != sqlparser.VALUE_ARG || sql[t.start] != '?' {
			continue
		}
		v, ok := paramExpr(t.val)
		if !ok {
			continue
		}
		b.WriteString(sql[last:t.start])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(v.ParamIndex() + 1))
		last = t.stop + 1
	}
	b.WriteString(sql[last:])
	return b.String(), nil
}
