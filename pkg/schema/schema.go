// Package schema describes the row-layout physical schema that
// pkg/memory uses to read and write records into a tuple buffer.
package schema

import "fmt"

// ScalarKind enumerates the primitive physical types a field may hold.
type ScalarKind int

const (
	Bool ScalarKind = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Char
)

// Size returns the width in bytes of one value of this scalar kind.
func (k ScalarKind) Size() int {
	switch k {
	case Bool, Int8, Uint8, Char:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		panic(fmt.Sprintf("schema: unknown scalar kind %d", k))
	}
}

func (k ScalarKind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Char:
		return "char"
	default:
		return "unknown"
	}
}

// FieldKind distinguishes the three physical-type shapes a field may have.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindFixedSize
	KindVariableSize
)

// ChildIndexWidth and LengthPrefixWidth are the fixed widths NebulaStream's
// TupleBufferRef convention uses for a variable-size field's inline
// representation: a 4-byte child-buffer index, and, inside the child
// buffer itself, a 4-byte length prefix before the payload.
const (
	ChildIndexWidth  = 4
	LengthPrefixWidth = 4
)

// Field is one (name, physical-type) entry of a Schema.
type Field struct {
	Name string
	Kind FieldKind

	// Scalar is meaningful for KindScalar and as the element type for
	// KindFixedSize/KindVariableSize.
	Scalar ScalarKind

	// FixedCount is the number of contiguous Scalar elements for
	// KindFixedSize; unused otherwise.
	FixedCount int
}

// Size returns the in-row byte width this field occupies. For
// KindVariableSize this is always ChildIndexWidth: the row stores only
// the child-buffer index, with the real payload living in the child.
func (f Field) Size() int {
	switch f.Kind {
	case KindScalar:
		return f.Scalar.Size()
	case KindFixedSize:
		return f.Scalar.Size() * f.FixedCount
	case KindVariableSize:
		return ChildIndexWidth
	default:
		panic(fmt.Sprintf("schema: unknown field kind %d", f.Kind))
	}
}

// NewScalarField builds a scalar field.
func NewScalarField(name string, kind ScalarKind) Field {
	return Field{Name: name, Kind: KindScalar, Scalar: kind}
}

// NewFixedSizeField builds a field holding count contiguous scalars.
func NewFixedSizeField(name string, kind ScalarKind, count int) Field {
	return Field{Name: name, Kind: KindFixedSize, Scalar: kind, FixedCount: count}
}

// NewVariableSizeField builds a variable-size (child-buffer-addressed) field.
// Scalar describes the element type of the payload (Char for strings).
func NewVariableSizeField(name string, elem ScalarKind) Field {
	return Field{Name: name, Kind: KindVariableSize, Scalar: elem}
}

// Schema is an ordered, row-based layout: field k's byte offset is the sum
// of the sizes of fields 0..k-1.
type Schema struct {
	Fields []Field

	offsets   []int
	tupleSize int
}

// New builds a Schema from an ordered field list, precomputing offsets.
func New(fields ...Field) *Schema {
	s := &Schema{Fields: fields}
	s.offsets = make([]int, len(fields))
	off := 0
	for i, f := range fields {
		s.offsets[i] = off
		off += f.Size()
	}
	s.tupleSize = off
	return s
}

// TupleSize is the total row width in bytes.
func (s *Schema) TupleSize() int { return s.tupleSize }

// Offset returns the byte offset of field index i within a row.
func (s *Schema) Offset(i int) int { return s.offsets[i] }

// IndexOf returns the field index for name, or -1 if absent.
func (s *Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}
