package sqlparse

import (
	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

// token is a lexical token with its inclusive span in the original text.
type token struct {
	typ   int
	val   string
	start int
	stop  int
}

func (t token) is(ch byte) bool {
	return t.typ == int(ch)
}

// ident reports identifiers, including non-reserved words the lexer reports as keywords.
func (t token) ident(sql string) bool {
	switch t.typ {
	case sqlparser.ID:
		return true
	case sqlparser.STRING, sqlparser.HEX, sqlparser.BIT_LITERAL, sqlparser.INTEGRAL, sqlparser.FLOAT,
		sqlparser.HEXNUM, sqlparser.VALUE_ARG, sqlparser.LIST_ARG, sqlparser.COMMENT:
		return false
	}
	c := sql[t.start]
	return t.val != "" && (c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z')
}

// name is the identifier without quotes.
func (t token) name() string {
	return t.val
}

func (t token) quote(sql string) byte {
	if sql[t.start] == '`' {
		return '`'
	}
	return 0
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// tokenize scans sql with the sqlparser lexer. The lexer keeps one character of
// lookahead, so a token ends right before Position-1.
func tokenize(sql string) ([]token, error) {
	tkn := sqlparser.NewStringTokenizer(sql)
	var (
		tokens []token
		prev   int
	)
	for {
		typ, val := tkn.Scan()
		if typ == 0 {
			break
		}
		if typ == sqlparser.LEX_ERROR {
			return nil, errors.Wrapf(ErrParse, "lex error at position %d near %q", tkn.Position, val)
		}
		end := tkn.Position - 1
		if end > len(sql) {
			end = len(sql)
		}
		start := prev
		for start < end && isBlank(sql[start]) {
			start++
		}
		if end <= start {
			// tokens of /*! */ comments come from a nested lexer without offsets
			return nil, errors.Wrapf(ErrUnsupported, "token %q without position", val)
		}
		tokens = append(tokens, token{typ: typ, val: string(val), start: start, stop: end - 1})
		prev = end
	}
	return tokens, nil
}

// matching returns the index of the ')' closing the '(' at tokens[open].
func matching(tokens []token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch {
		case tokens[i].is('('):
			depth++
		case tokens[i].is(')'):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// depths returns the parenthesis depth of every token.
func depths(tokens []token) []int {
	out := make([]int, len(tokens))
	depth := 0
	for i, t := range tokens {
		if t.is(')') {
			depth--
		}
		out[i] = depth
		if t.is('(') {
			depth++
		}
	}
	return out
}
