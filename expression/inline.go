package expression

import (
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"
)

// placeholder start markers, `${x}` and the alternative `$->{x}`
var markers = []string{"${", "$->{"}

type part struct {
	literal string
	inner   string
}

// split cuts s into literal text and ${...} contents.
func split(s string) ([]part, error) {
	var parts []part
	for len(s) > 0 {
		idx, marker := -1, ""
		for _, m := range markers {
			if i := strings.Index(s, m); i >= 0 && (idx < 0 || i < idx) {
				idx, marker = i, m
			}
		}
		if idx < 0 {
			parts = append(parts, part{literal: s})
			break
		}
		if idx > 0 {
			parts = append(parts, part{literal: s[:idx]})
		}
		rest := s[idx+len(marker):]
		end := closing(rest)
		if end < 0 {
			return nil, errors.Wrapf(ErrInvalidExpression, "unclosed placeholder in %q", s)
		}
		parts = append(parts, part{inner: strings.TrimSpace(rest[:end])})
		s = rest[end+1:]
	}
	return parts, nil
}

// closing finds the '}' matching an already opened brace.
func closing(s string) int {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Expand expands an inline list expression such as `ds_${0..1}.t_order_${['a','b']}`.
// Comma separated segments are expanded independently and concatenated; placeholders
// within a segment form a cartesian product, the left-most varying slowest.
func Expand(expr string) ([]string, error) {
	var result []string
	for _, segment := range splitTopLevel(expr) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		parts, err := split(segment)
		if err != nil {
			return nil, err
		}
		values := []string{""}
		for _, p := range parts {
			options := []string{p.literal}
			if p.literal == "" {
				if options, err = expandPlaceholder(p.inner); err != nil {
					return nil, err
				}
			}
			next := make([]string, 0, len(values)*len(options))
			for _, prefix := range values {
				for _, o := range options {
					next = append(next, prefix+o)
				}
			}
			values = next
		}
		result = append(result, values...)
	}
	return result, nil
}

func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		last  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	return append(out, s[last:])
}

func expandPlaceholder(inner string) ([]string, error) {
	if strings.HasPrefix(inner, "[") && strings.HasSuffix(inner, "]") {
		var out []string
		for _, item := range strings.Split(inner[1:len(inner)-1], ",") {
			item = strings.Trim(strings.TrimSpace(item), `'"`)
			if item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}
	if bounds := strings.SplitN(inner, "..", 2); len(bounds) == 2 {
		lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidExpression, "range %q", inner)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidExpression, "range %q", inner)
		}
		step := 1
		if hi < lo {
			step = -1
		}
		var out []string
		for i := lo; ; i += step {
			out = append(out, strconv.Itoa(i))
			if i == hi {
				break
			}
		}
		return out, nil
	}
	return []string{strings.Trim(inner, `'"`)}, nil
}

// Template is a compiled inline sharding template like `t_order_${user_id % 4}`.
type Template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	literal string
	expr    *govaluate.EvaluableExpression
}

func Compile(tmpl string) (*Template, error) {
	parts, err := split(tmpl)
	if err != nil {
		return nil, err
	}
	t := &Template{raw: tmpl}
	for _, p := range parts {
		if p.literal != "" {
			t.parts = append(t.parts, templatePart{literal: p.literal})
			continue
		}
		e, err := New(p.inner)
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, templatePart{expr: e})
	}
	return t, nil
}

func (t *Template) String() string {
	return t.raw
}

// Variables lists the parameters referenced by the template.
func (t *Template) Variables() []string {
	var vars []string
	for _, p := range t.parts {
		if p.expr != nil {
			vars = append(vars, p.expr.Vars()...)
		}
	}
	return vars
}

// Execute renders the template; numeric parameters are normalized for govaluate.
func (t *Template) Execute(params map[string]interface{}) (string, error) {
	normalized := make(map[string]interface{}, len(params))
	for k, v := range params {
		normalized[k] = Normalize(v)
	}
	var sb strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			sb.WriteString(p.literal)
			continue
		}
		s, err := evaluate(p.expr, normalized)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}
