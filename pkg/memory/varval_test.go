package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlattice/qengine/pkg/schema"
)

func TestVarValEqual(t *testing.T) {
	a := NewInt64(42)
	b := NewInt64(42)
	c := NewInt64(43)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	x := NewVariableSize(schema.Char, []byte("hello"))
	y := NewVariableSize(schema.Char, []byte("hello"))
	z := NewVariableSize(schema.Char, []byte("world"))
	assert.True(t, x.Equal(y))
	assert.False(t, x.Equal(z))
}

func TestVarValArithmeticSameKind(t *testing.T) {
	sum, err := NewInt64(3).Add(NewInt64(4))
	require.NoError(t, err)
	got, err := As[int64](sum)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestVarValArithmeticWidensMixedKinds(t *testing.T) {
	sum, err := NewScalar(schema.Int32, int32(3)).Add(NewInt64(4))
	require.NoError(t, err)
	assert.Equal(t, schema.Int64, sum.ScalarKind())
	got, err := As[int64](sum)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestVarValArithmeticOnVariableSizeIsUnsupported(t *testing.T) {
	_, err := NewVariableSize(schema.Char, []byte("x")).Add(NewInt64(1))
	require.Error(t, err)
	var unsupportedErr *UnsupportedOperation
	assert.ErrorAs(t, err, &unsupportedErr)
}

func TestVarValCastNarrowingUnsupported(t *testing.T) {
	_, err := NewInt64(1).Cast(schema.Int32)
	assert.Error(t, err)
}

func TestVarValCastWideningPreservesValue(t *testing.T) {
	v, err := NewScalar(schema.Uint8, uint8(200)).Cast(schema.Int8)
	require.Error(t, err, "uint8 -> int8 is not widening")

	v, err = NewScalar(schema.Int8, int8(-5)).Cast(schema.Int64)
	require.NoError(t, err)
	got, err := As[int64](v)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), got)
}

func TestVarValBooleanLogic(t *testing.T) {
	and, err := NewBool(true).And(NewBool(false))
	require.NoError(t, err)
	gotAnd, _ := As[bool](and)
	assert.False(t, gotAnd)

	or, err := NewBool(true).Or(NewBool(false))
	require.NoError(t, err)
	gotOr, _ := As[bool](or)
	assert.True(t, gotOr)

	not, err := NewBool(false).Not()
	require.NoError(t, err)
	gotNot, _ := As[bool](not)
	assert.True(t, gotNot)
}

func TestVarValCompare(t *testing.T) {
	lt, err := NewInt64(1).Lt(NewInt64(2))
	require.NoError(t, err)
	got, _ := As[bool](lt)
	assert.True(t, got)
}
