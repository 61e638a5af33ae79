package statement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueExpr(t *testing.T) {
	params := []interface{}{"a", int64(7)}
	tests := []struct {
		name    string
		v       ValueExpr
		isParam bool
		index   int
		want    interface{}
	}{
		{"zero value is NULL", ValueExpr{}, false, -1, nil},
		{"literal", Literal(int64(3)), false, -1, int64(3)},
		{"literal nil", Literal(nil), false, -1, nil},
		{"first param", Param(0), true, 0, "a"},
		{"second param", Param(1), true, 1, int64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isParam, tt.v.IsParam())
			assert.Equal(t, tt.index, tt.v.ParamIndex())
			got, err := tt.v.Resolve(params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Param(2).Resolve(params)
	assert.ErrorIs(t, err, ErrParameterIndex)
	assert.Equal(t, Literal(nil), ValueExpr{})
}

func TestOperatorFlip(t *testing.T) {
	tests := map[Operator]Operator{
		LessThan:     GreaterThan,
		LessEqual:    GreaterEqual,
		GreaterThan:  LessThan,
		GreaterEqual: LessEqual,
		Equal:        Equal,
		In:           In,
	}
	for op, want := range tests {
		assert.Equal(t, want, op.Flip(), string(op))
		assert.Equal(t, op, op.Flip().Flip(), string(op))
	}
}

func TestStatementHelpers(t *testing.T) {
	stmt := &Statement{
		Kind: Select,
		Tables: []TableSegment{
			{Name: "t_order"}, {Name: "t_order_item"}, {Name: "T_ORDER"},
		},
		Projections: []Projection{{Expression: "status"}},
	}
	assert.Equal(t, []string{"t_order", "t_order_item"}, stmt.TableNames())
	assert.False(t, stmt.HasAggregation())
	assert.Equal(t, "SELECT", stmt.Kind.String())

	stmt.Projections = append(stmt.Projections, Projection{Expression: "count(*)", Aggregation: Count})
	assert.True(t, stmt.HasAggregation())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}
