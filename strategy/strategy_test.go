package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dataSources = []string{"ds_0", "ds_1"}

func TestNoneRoutesEverything(t *testing.T) {
	got, err := None().Route(dataSources, []Value{PreciseValue("user_id", 3)})
	require.NoError(t, err)
	assert.Equal(t, dataSources, got)
}

func TestStandardPrecise(t *testing.T) {
	s := NewStandard("user_id", ModAlgorithm{Count: 2}, nil)

	got, err := s.Route(dataSources, []Value{PreciseValue("USER_ID", int64(3))})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_1"}, got)

	got, err = s.Route(dataSources, []Value{PreciseValue("user_id", 1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_0", "ds_1"}, got)

	got, err = s.Route(dataSources, nil)
	require.NoError(t, err)
	assert.Equal(t, dataSources, got, "unconditional routes everywhere")
}

func TestStandardPreciseMiss(t *testing.T) {
	s := NewStandard("user_id", PreciseFunc(func(_ []string, _ string, _ interface{}) (string, error) {
		return "ds_9", nil
	}), nil)
	_, err := s.Route(dataSources, []Value{PreciseValue("user_id", 1)})
	assert.ErrorIs(t, err, ErrNoTargetFound)
}

func TestStandardRange(t *testing.T) {
	s := NewStandard("user_id", ModAlgorithm{Count: 2}, nil)
	got, err := s.Route(dataSources, []Value{RangeValue("user_id", Range{Lower: 2, LowerType: Closed, Upper: 3, UpperType: Open})})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_0"}, got)

	got, err = s.Route(dataSources, []Value{RangeValue("user_id", Range{Lower: 2, LowerType: Open, Upper: 3, UpperType: Closed})})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_1"}, got)

	_, err = s.Route(dataSources, []Value{RangeValue("user_id", Range{Lower: 2, LowerType: Closed})})
	assert.ErrorIs(t, err, ErrRangeTooWide)

	wide := NewStandard("user_id", ModAlgorithm{Count: 2}, nil, WithRangeBroadcast(), WithRangeLimit(4))
	got, err = wide.Route(dataSources, []Value{RangeValue("user_id", Range{Lower: 0, LowerType: Closed, Upper: 100, UpperType: Closed})})
	require.NoError(t, err)
	assert.Equal(t, dataSources, got)
}

func TestStandardRangeAtInt64Limits(t *testing.T) {
	s := NewStandard("user_id", ModAlgorithm{Count: 2}, nil)
	tests := []struct {
		name string
		r    Range
		want []string
		err  error
	}{
		{"closed to max", Range{Lower: int64(math.MaxInt64 - 5), LowerType: Closed, Upper: int64(math.MaxInt64), UpperType: Closed}, dataSources, nil},
		{"single max", Range{Lower: int64(math.MaxInt64), LowerType: Closed, Upper: int64(math.MaxInt64), UpperType: Closed}, []string{"ds_1"}, nil},
		{"single min", Range{Lower: int64(math.MinInt64), LowerType: Closed, Upper: int64(math.MinInt64), UpperType: Closed}, []string{"ds_0"}, nil},
		{"open above max", Range{Lower: int64(math.MaxInt64), LowerType: Open, Upper: int64(math.MaxInt64), UpperType: Closed}, []string{}, nil},
		{"open below min", Range{Lower: int64(math.MinInt64), LowerType: Closed, Upper: int64(math.MinInt64), UpperType: Open}, []string{}, nil},
		{"full span", Range{Lower: int64(math.MinInt64), LowerType: Closed, Upper: int64(math.MaxInt64), UpperType: Closed}, nil, ErrRangeTooWide},
		{"reversed", Range{Lower: 5, LowerType: Closed, Upper: 1, UpperType: Closed}, []string{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Route(dataSources, []Value{RangeValue("user_id", tt.r)})
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModAlgorithmNegative(t *testing.T) {
	tests := []struct {
		alg     ModAlgorithm
		targets []string
		value   int64
		want    string
	}{
		{ModAlgorithm{}, []string{"a", "b", "c"}, math.MinInt64, "c"},
		{ModAlgorithm{}, []string{"a", "b", "c"}, -4, "b"},
		{ModAlgorithm{Count: 2}, dataSources, math.MinInt64, "ds_0"},
		{ModAlgorithm{Count: 2}, dataSources, -3, "ds_1"},
	}
	for _, tt := range tests {
		got, err := tt.alg.DoPreciseSharding(tt.targets, "id", tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%d", tt.value)
	}
}

func TestInline(t *testing.T) {
	s, err := NewInline("user_id", "ds_${user_id % 2}")
	require.NoError(t, err)
	got, err := s.Route(dataSources, []Value{PreciseValue("user_id", 3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_1"}, got)

	_, err = s.Route([]string{"ds_0"}, []Value{PreciseValue("user_id", 3)})
	assert.ErrorIs(t, err, ErrNoTargetFound)
}

func TestHint(t *testing.T) {
	s := NewHint(ValueHintAlgorithm{})
	_, err := s.Route(dataSources, nil)
	assert.ErrorIs(t, err, ErrHintNotSet)

	got, err := s.Route(dataSources, []Value{PreciseValue("", "ds_1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_1"}, got)
}

func TestComplex(t *testing.T) {
	s, err := FromConfig(&Config{ShardingColumns: []string{"user_id", "order_id"}, Expression: "t_${(user_id + order_id) % 2}"})
	require.NoError(t, err)
	assert.Equal(t, KindComplex, s.Kind())

	targets := []string{"t_0", "t_1"}
	got, err := s.Route(targets, []Value{PreciseValue("user_id", 1), PreciseValue("order_id", 2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"t_1"}, got)

	got, err = s.Route(targets, []Value{PreciseValue("user_id", 1)})
	require.NoError(t, err)
	assert.Equal(t, targets, got)
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = FromConfig(&Config{ShardingColumn: "user_id", Expression: "ds_${user_id % 2}"})
	require.NoError(t, err)
	assert.Equal(t, KindInline, s.Kind())

	s, err = FromConfig(&Config{ShardingColumn: "user_id", Algorithm: "hash-mod", ShardingCount: 2})
	require.NoError(t, err)
	assert.Equal(t, KindStandard, s.Kind())

	s, err = FromConfig(&Config{})
	require.NoError(t, err)
	assert.Equal(t, KindNone, s.Kind())

	_, err = FromConfig(&Config{ShardingColumn: "a", ShardingColumns: []string{"b"}})
	assert.ErrorIs(t, err, ErrAmbiguousStrategy)

	_, err = FromConfig(&Config{Type: "standard", ShardingColumn: "a"})
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestIntersect(t *testing.T) {
	v := PreciseValue("id", 1, 2, 3).Intersect(PreciseValue("id", int64(2), 3, 4))
	assert.Equal(t, []interface{}{2, 3}, v.Precise)

	v = PreciseValue("id", 1, 5, 9).Intersect(RangeValue("id", Range{Lower: 1, LowerType: Open, Upper: 9, UpperType: Closed}))
	assert.Equal(t, []interface{}{5, 9}, v.Precise)

	v = RangeValue("id", Range{Lower: 1, LowerType: Closed}).Intersect(RangeValue("id", Range{Upper: 5, UpperType: Open}))
	require.True(t, v.IsRange())
	assert.Equal(t, Range{Lower: 1, LowerType: Closed, Upper: 5, UpperType: Open}, *v.Range)
}
