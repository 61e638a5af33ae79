package strategy

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"gorm/shardroute/expression"
)

var (
	ErrNoTargetFound     = errors.New("no sharding target found")
	ErrHintNotSet        = errors.New("hint sharding value not set")
	ErrRangeTooWide      = errors.New("sharding range too wide to enumerate")
	ErrAmbiguousStrategy = errors.New("ambiguous sharding strategy")
	ErrInvalidStrategy   = errors.New("invalid sharding strategy")
)

// DefaultRangeLimit caps how many values of a range are enumerated.
const DefaultRangeLimit = 1024

type Kind int

const (
	KindNone Kind = iota
	KindStandard
	KindComplex
	KindHint
	KindInline
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindComplex:
		return "complex"
	case KindHint:
		return "hint"
	case KindInline:
		return "inline"
	}
	return "none"
}

// PreciseAlgorithm maps one value to one target.
type PreciseAlgorithm interface {
	DoPreciseSharding(targets []string, column string, value interface{}) (string, error)
}

// RangeAlgorithm maps a range to targets.
type RangeAlgorithm interface {
	DoRangeSharding(targets []string, column string, r Range) ([]string, error)
}

// ComplexAlgorithm maps the values of several columns to targets.
type ComplexAlgorithm interface {
	DoComplexSharding(targets []string, values map[string]Value) ([]string, error)
}

// HintAlgorithm maps externally supplied values to targets.
type HintAlgorithm interface {
	DoHintSharding(targets []string, values []interface{}) ([]string, error)
}

type PreciseFunc func(targets []string, column string, value interface{}) (string, error)

func (f PreciseFunc) DoPreciseSharding(targets []string, column string, value interface{}) (string, error) {
	return f(targets, column, value)
}

type HintFunc func(targets []string, values []interface{}) ([]string, error)

func (f HintFunc) DoHintSharding(targets []string, values []interface{}) ([]string, error) {
	return f(targets, values)
}

// Strategy is one of the closed set of strategy kinds; only the payload of its kind is set.
type Strategy struct {
	kind    Kind
	columns []string

	precise PreciseAlgorithm
	ranged  RangeAlgorithm
	complex ComplexAlgorithm
	hint    HintAlgorithm
	inline  *expression.Template

	rangeLimit     int
	rangeBroadcast bool
}

// Option tunes range handling of standard and inline strategies.
type Option func(*Strategy)

func WithRangeLimit(n int) Option {
	return func(s *Strategy) {
		if n > 0 {
			s.rangeLimit = n
		}
	}
}

// WithRangeBroadcast routes ranges too wide to enumerate to every target instead of failing.
func WithRangeBroadcast() Option {
	return func(s *Strategy) {
		s.rangeBroadcast = true
	}
}

var none = &Strategy{kind: KindNone}

// None routes to every target.
func None() *Strategy {
	return none
}

func NewStandard(column string, precise PreciseAlgorithm, ranged RangeAlgorithm, opts ...Option) *Strategy {
	s := &Strategy{kind: KindStandard, columns: []string{column}, precise: precise, ranged: ranged, rangeLimit: DefaultRangeLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewComplex(columns []string, alg ComplexAlgorithm) *Strategy {
	return &Strategy{kind: KindComplex, columns: columns, complex: alg}
}

func NewHint(alg HintAlgorithm) *Strategy {
	return &Strategy{kind: KindHint, hint: alg}
}

func NewInline(column string, tmpl string, opts ...Option) (*Strategy, error) {
	t, err := expression.Compile(tmpl)
	if err != nil {
		return nil, err
	}
	s := &Strategy{kind: KindInline, columns: []string{column}, inline: t, rangeLimit: DefaultRangeLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Strategy) Kind() Kind {
	return s.kind
}

// Columns are the sharding columns; hint and none strategies have none.
func (s *Strategy) Columns() []string {
	return s.columns
}

func (s *Strategy) HasColumn(column string) bool {
	for _, c := range s.columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// Route selects the subset of targets the values map to, in targets order.
func (s *Strategy) Route(targets []string, values []Value) ([]string, error) {
	switch s.kind {
	case KindNone:
		return append([]string(nil), targets...), nil
	case KindStandard, KindInline:
		v, ok := findValue(values, s.columns[0])
		if !ok {
			return append([]string(nil), targets...), nil
		}
		if v.IsRange() {
			return s.routeRange(targets, v)
		}
		return s.routePrecise(targets, v)
	case KindComplex:
		byColumn := make(map[string]Value, len(s.columns))
		for _, c := range s.columns {
			if v, ok := findValue(values, c); ok {
				byColumn[c] = v
			}
		}
		if len(byColumn) == 0 {
			return append([]string(nil), targets...), nil
		}
		selected, err := s.complex.DoComplexSharding(targets, byColumn)
		if err != nil {
			return nil, err
		}
		return retain(targets, selected), nil
	case KindHint:
		var hints []interface{}
		for _, v := range values {
			hints = append(hints, v.Precise...)
		}
		if len(hints) == 0 {
			return nil, ErrHintNotSet
		}
		selected, err := s.hint.DoHintSharding(targets, hints)
		if err != nil {
			return nil, err
		}
		return retain(targets, selected), nil
	}
	return nil, errors.Wrapf(ErrInvalidStrategy, "kind %d", s.kind)
}

func (s *Strategy) target(targets []string, value interface{}) (string, error) {
	if s.kind == KindInline {
		return s.inline.Execute(map[string]interface{}{s.columns[0]: value})
	}
	return s.precise.DoPreciseSharding(targets, s.columns[0], value)
}

func (s *Strategy) routePrecise(targets []string, v Value) ([]string, error) {
	selected := make([]string, 0, len(v.Precise))
	for _, value := range v.Precise {
		t, err := s.target(targets, value)
		if err != nil {
			return nil, err
		}
		if !contains(targets, t) {
			return nil, errors.Wrapf(ErrNoTargetFound, "%s=%v maps to %q, available %v", s.columns[0], value, t, targets)
		}
		selected = append(selected, t)
	}
	return retain(targets, selected), nil
}

func (s *Strategy) routeRange(targets []string, v Value) ([]string, error) {
	if s.ranged != nil {
		selected, err := s.ranged.DoRangeSharding(targets, s.columns[0], *v.Range)
		if err != nil {
			return nil, err
		}
		return retain(targets, selected), nil
	}
	lo, hi, empty, ok := s.bounds(*v.Range)
	if empty {
		return []string{}, nil
	}
	if !ok {
		if s.rangeBroadcast {
			return append([]string(nil), targets...), nil
		}
		return nil, errors.Wrapf(ErrRangeTooWide, "column %s, limit %d", s.columns[0], s.rangeLimit)
	}
	var selected []string
	for n := lo; ; n++ {
		t, err := s.target(targets, n)
		if err != nil && !errors.Is(err, ErrNoTargetFound) {
			return nil, err
		}
		if err == nil && contains(targets, t) {
			selected = append(selected, t)
		}
		if n == hi {
			break
		}
	}
	return retain(targets, selected), nil
}

// bounds returns the closed integral bounds of r when it is small enough to enumerate.
// empty reports a range holding no integer.
func (s *Strategy) bounds(r Range) (lo, hi int64, empty, ok bool) {
	if r.LowerType == Unbounded || r.UpperType == Unbounded {
		return 0, 0, false, false
	}
	lo, err := expression.ToInt64(r.Lower)
	if err != nil {
		return 0, 0, false, false
	}
	hi, err = expression.ToInt64(r.Upper)
	if err != nil {
		return 0, 0, false, false
	}
	if r.LowerType == Open {
		if lo == math.MaxInt64 {
			return 0, 0, true, true
		}
		lo++
	}
	if r.UpperType == Open {
		if hi == math.MinInt64 {
			return 0, 0, true, true
		}
		hi--
	}
	if hi < lo {
		return 0, 0, true, true
	}
	// span in uint64, hi-lo overflows int64 for wide ranges
	if uint64(hi)-uint64(lo) >= uint64(s.rangeLimit) {
		return 0, 0, false, false
	}
	return lo, hi, false, true
}

func contains(targets []string, t string) bool {
	for _, target := range targets {
		if strings.EqualFold(target, t) {
			return true
		}
	}
	return false
}

// retain keeps the targets present in selected, in targets order and without duplicates.
func retain(targets []string, selected []string) []string {
	out := make([]string, 0, len(selected))
	for _, t := range targets {
		if contains(selected, t) {
			out = append(out, t)
		}
	}
	return out
}
