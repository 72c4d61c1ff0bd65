// Package memory implements the schema-driven row-layout read/write of
// records into a TupleBuffer (§4.2) and the VarVal runtime tagged union
// compiled pipeline stages operate on (§3).
package memory

import (
	"bytes"
	"fmt"
	"math"

	"github.com/flowlattice/qengine/pkg/schema"
)

// VarVal is the runtime tagged union carried by compiled pipeline code.
// It mirrors NebulaStream's Nautilus ScalarVarVal/VariableSize split: a
// Scalar holds one primitive, a FixedSize holds a vector of Scalars, and
// a VariableSize holds the decoded payload of a child-buffer-addressed
// field. Equality is structural; arithmetic/logical operators dispatch on
// the variant and return UnsupportedOperation on incompatible
// combinations instead of panicking, since compiled stages must be able
// to recover (§7: an UnsupportedOperation is fatal to the *executing
// pipeline*, not the process).
type VarVal struct {
	kind       schema.FieldKind
	scalarKind schema.ScalarKind
	scalar     any   // valid for KindScalar: bool/intN/uintN/float32/float64/byte
	fixed      []any // valid for KindFixedSize: len == count, each a scalar value
	varBytes   []byte // valid for KindVariableSize: the decoded payload
}

// Kind reports which of Scalar/FixedSize/VariableSize this value holds.
func (v VarVal) Kind() schema.FieldKind { return v.kind }

// ScalarKind reports the element type: the scalar's own kind for
// KindScalar, or the element kind for KindFixedSize/KindVariableSize.
func (v VarVal) ScalarKind() schema.ScalarKind { return v.scalarKind }

// NewBool builds a scalar bool VarVal.
func NewBool(b bool) VarVal { return VarVal{kind: schema.KindScalar, scalarKind: schema.Bool, scalar: b} }

// NewInt64/NewUint64/NewFloat64 build scalars of the corresponding width;
// narrower integer widths are constructed via NewScalar.
func NewInt64(v int64) VarVal {
	return VarVal{kind: schema.KindScalar, scalarKind: schema.Int64, scalar: v}
}
func NewUint64(v uint64) VarVal {
	return VarVal{kind: schema.KindScalar, scalarKind: schema.Uint64, scalar: v}
}
func NewFloat64(v float64) VarVal {
	return VarVal{kind: schema.KindScalar, scalarKind: schema.Float64, scalar: v}
}

// NewScalar builds a scalar VarVal of an arbitrary width. value must be
// the Go type matching kind (int8 for schema.Int8, uint32 for
// schema.Uint32, byte for schema.Char, ...).
func NewScalar(kind schema.ScalarKind, value any) VarVal {
	return VarVal{kind: schema.KindScalar, scalarKind: kind, scalar: value}
}

// NewFixedSize builds a fixed-size vector of scalars of a common kind.
func NewFixedSize(elem schema.ScalarKind, values []any) VarVal {
	cp := make([]any, len(values))
	copy(cp, values)
	return VarVal{kind: schema.KindFixedSize, scalarKind: elem, fixed: cp}
}

// NewVariableSize builds a variable-size value from its decoded payload.
func NewVariableSize(elem schema.ScalarKind, payload []byte) VarVal {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return VarVal{kind: schema.KindVariableSize, scalarKind: elem, varBytes: cp}
}

// Len returns the element count for FixedSize/VariableSize values.
func (v VarVal) Len() int {
	switch v.kind {
	case schema.KindFixedSize:
		return len(v.fixed)
	case schema.KindVariableSize:
		return len(v.varBytes)
	default:
		return 0
	}
}

// Bytes returns the raw payload of a VariableSize value.
func (v VarVal) Bytes() []byte { return v.varBytes }

// Elements returns the scalar vector of a FixedSize value.
func (v VarVal) Elements() []any { return v.fixed }

// As casts the scalar to the requested Go type, returning
// UnsupportedOperation if v is not a matching scalar.
func As[T any](v VarVal) (T, error) {
	var zero T
	if v.kind != schema.KindScalar {
		return zero, unsupported("cast", kindName(v), "")
	}
	t, ok := v.scalar.(T)
	if !ok {
		return zero, unsupported("cast", kindName(v), fmt.Sprintf("%T", zero))
	}
	return t, nil
}

// Equal implements structural equality. For VariableSize it compares
// length then bytes, per §4.2.
func (v VarVal) Equal(o VarVal) bool {
	if v.kind != o.kind || v.scalarKind != o.scalarKind {
		return false
	}
	switch v.kind {
	case schema.KindScalar:
		return v.scalar == o.scalar
	case schema.KindFixedSize:
		if len(v.fixed) != len(o.fixed) {
			return false
		}
		for i := range v.fixed {
			if v.fixed[i] != o.fixed[i] {
				return false
			}
		}
		return true
	case schema.KindVariableSize:
		if len(v.varBytes) != len(o.varBytes) {
			return false
		}
		return bytes.Equal(v.varBytes, o.varBytes)
	default:
		return false
	}
}

func kindName(v VarVal) string {
	switch v.kind {
	case schema.KindScalar:
		return "scalar<" + v.scalarKind.String() + ">"
	case schema.KindFixedSize:
		return "fixed<" + v.scalarKind.String() + ">"
	case schema.KindVariableSize:
		return "variable<" + v.scalarKind.String() + ">"
	default:
		return "unknown"
	}
}

// family classifies a scalar kind as signed integer, unsigned integer,
// float, or other (bool/char), for saturating-widening decisions.
type family int

const (
	famOther family = iota
	famSigned
	famUnsigned
	famFloat
)

func familyOf(k schema.ScalarKind) family {
	switch k {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64:
		return famSigned
	case schema.Uint8, schema.Uint16, schema.Uint32, schema.Uint64:
		return famUnsigned
	case schema.Float32, schema.Float64:
		return famFloat
	default:
		return famOther
	}
}

// Cast performs a saturating widening conversion to target, when one is
// defined (same family, target at least as wide as v, or float widening
// of an integer). Returns UnsupportedOperation otherwise: narrowing and
// cross-family casts (besides int/uint -> float widening) are not
// defined (§4.2).
func (v VarVal) Cast(target schema.ScalarKind) (VarVal, error) {
	if v.kind != schema.KindScalar {
		return VarVal{}, unsupported("cast", kindName(v), target.String())
	}
	if v.scalarKind == target {
		return v, nil
	}
	srcFam, dstFam := familyOf(v.scalarKind), familyOf(target)
	widening := target.Size() >= v.scalarKind.Size() &&
		(srcFam == dstFam || ((srcFam == famSigned || srcFam == famUnsigned) && dstFam == famFloat))
	if !widening {
		return VarVal{}, unsupported("cast", kindName(v), target.String())
	}
	f, err := v.toFloat64()
	if err != nil {
		return VarVal{}, err
	}
	return scalarFromFloat64(target, f), nil
}

func (v VarVal) toFloat64() (float64, error) {
	switch n := v.scalar.(type) {
	case bool:
		return 0, unsupported("numeric", kindName(v), "")
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, unsupported("numeric", kindName(v), "")
	}
}

func scalarFromFloat64(kind schema.ScalarKind, f float64) VarVal {
	var val any
	switch kind {
	case schema.Int8:
		val = int8(saturate(f, math.MinInt8, math.MaxInt8))
	case schema.Int16:
		val = int16(saturate(f, math.MinInt16, math.MaxInt16))
	case schema.Int32:
		val = int32(saturate(f, math.MinInt32, math.MaxInt32))
	case schema.Int64:
		val = int64(saturate(f, math.MinInt64, math.MaxInt64))
	case schema.Uint8:
		val = uint8(saturate(f, 0, math.MaxUint8))
	case schema.Uint16:
		val = uint16(saturate(f, 0, math.MaxUint16))
	case schema.Uint32:
		val = uint32(saturate(f, 0, math.MaxUint32))
	case schema.Uint64:
		val = uint64(saturate(f, 0, math.MaxUint64))
	case schema.Float32:
		val = float32(f)
	case schema.Float64:
		val = f
	default:
		val = f
	}
	return VarVal{kind: schema.KindScalar, scalarKind: kind, scalar: val}
}

func saturate(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

func (v VarVal) arith(op string, o VarVal, fn func(a, b float64) float64) (VarVal, error) {
	if v.kind != schema.KindScalar || o.kind != schema.KindScalar {
		return VarVal{}, unsupported(op, kindName(v), kindName(o))
	}
	target := v.scalarKind
	rhs := o
	if v.scalarKind != o.scalarKind {
		cast, err := o.Cast(v.scalarKind)
		if err == nil {
			rhs = cast
		} else if cast2, err2 := v.Cast(o.scalarKind); err2 == nil {
			target = o.scalarKind
			v = cast2
			rhs = o
		} else {
			return VarVal{}, unsupported(op, kindName(v), kindName(o))
		}
	}
	a, err := v.toFloat64()
	if err != nil {
		return VarVal{}, unsupported(op, kindName(v), kindName(o))
	}
	b, err := rhs.toFloat64()
	if err != nil {
		return VarVal{}, unsupported(op, kindName(v), kindName(o))
	}
	return scalarFromFloat64(target, fn(a, b)), nil
}

// Add, Sub, Mul, Div implement the four arithmetic operators. Division by
// zero follows host float semantics (+/-Inf or NaN) rather than panicking.
func (v VarVal) Add(o VarVal) (VarVal, error) { return v.arith("+", o, func(a, b float64) float64 { return a + b }) }
func (v VarVal) Sub(o VarVal) (VarVal, error) { return v.arith("-", o, func(a, b float64) float64 { return a - b }) }
func (v VarVal) Mul(o VarVal) (VarVal, error) { return v.arith("*", o, func(a, b float64) float64 { return a * b }) }
func (v VarVal) Div(o VarVal) (VarVal, error) { return v.arith("/", o, func(a, b float64) float64 { return a / b }) }

func (v VarVal) compare(op string, o VarVal, fn func(a, b float64) bool) (VarVal, error) {
	if v.kind != schema.KindScalar || o.kind != schema.KindScalar {
		return VarVal{}, unsupported(op, kindName(v), kindName(o))
	}
	a, errA := v.toFloat64()
	b, errB := o.toFloat64()
	if errA != nil || errB != nil {
		return VarVal{}, unsupported(op, kindName(v), kindName(o))
	}
	return NewBool(fn(a, b)), nil
}

func (v VarVal) Lt(o VarVal) (VarVal, error) { return v.compare("<", o, func(a, b float64) bool { return a < b }) }
func (v VarVal) Gt(o VarVal) (VarVal, error) { return v.compare(">", o, func(a, b float64) bool { return a > b }) }
func (v VarVal) Le(o VarVal) (VarVal, error) { return v.compare("<=", o, func(a, b float64) bool { return a <= b }) }
func (v VarVal) Ge(o VarVal) (VarVal, error) { return v.compare(">=", o, func(a, b float64) bool { return a >= b }) }

// Eq and Ne use structural Equal rather than numeric comparison so they
// are defined across all variants, including VariableSize.
func (v VarVal) Eq(o VarVal) VarVal { return NewBool(v.Equal(o)) }
func (v VarVal) Ne(o VarVal) VarVal { return NewBool(!v.Equal(o)) }

// And, Or, Not implement boolean logic; defined only for bool scalars.
func (v VarVal) And(o VarVal) (VarVal, error) {
	a, errA := As[bool](v)
	b, errB := As[bool](o)
	if errA != nil || errB != nil {
		return VarVal{}, unsupported("&&", kindName(v), kindName(o))
	}
	return NewBool(a && b), nil
}

func (v VarVal) Or(o VarVal) (VarVal, error) {
	a, errA := As[bool](v)
	b, errB := As[bool](o)
	if errA != nil || errB != nil {
		return VarVal{}, unsupported("||", kindName(v), kindName(o))
	}
	return NewBool(a || b), nil
}

func (v VarVal) Not() (VarVal, error) {
	a, err := As[bool](v)
	if err != nil {
		return VarVal{}, unsupported("!", kindName(v), "")
	}
	return NewBool(!a), nil
}
