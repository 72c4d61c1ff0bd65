package memory

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/schema"
)

// Accessor is the Nautilus-style memory accessor: given a schema and a
// tuple buffer, it exposes record-at-index read/write without the caller
// ever computing byte offsets by hand (§4.2).
type Accessor struct {
	schema *schema.Schema
}

// NewAccessor binds an Accessor to a fixed schema; one Accessor per
// schema is shared across every buffer that schema describes.
func NewAccessor(s *schema.Schema) *Accessor {
	return &Accessor{schema: s}
}

// Schema returns the bound schema.
func (a *Accessor) Schema() *schema.Schema { return a.schema }

// capacity returns how many rows of this schema fit in buf.
func (a *Accessor) capacity(buf *buffer.TupleBuffer) int {
	w := a.schema.TupleSize()
	if w == 0 {
		return 0
	}
	return buf.Size() / w
}

// At returns a Record view over row index i of buf. It does not bounds
// check write eligibility itself; Record.Write does, per §4.2's "write
// is only valid for record indices < buffer-size / tuple-width".
func (a *Accessor) At(buf *buffer.TupleBuffer, index int) Record {
	return Record{accessor: a, buf: buf, index: index}
}

// Append atomically bumps buf's tuple count and writes one record at the
// prior count, matching §4.2's append semantics.
func (a *Accessor) Append(buf *buffer.TupleBuffer, values []VarVal, provider buffer.ChildProvider) error {
	if len(values) != len(a.schema.Fields) {
		return fmt.Errorf("memory: append expects %d values, got %d", len(a.schema.Fields), len(values))
	}
	if a.capacity(buf) == 0 || buf.NumberOfTuples() >= a.capacity(buf) {
		return fmt.Errorf("memory: append: buffer full (capacity %d)", a.capacity(buf))
	}
	index := buf.IncrementTuples() - 1
	rec := a.At(buf, index)
	for i, v := range values {
		if err := rec.Write(i, v, provider); err != nil {
			return err
		}
	}
	return nil
}

// Record is a logical view over one row of a buffer bound to a schema.
type Record struct {
	accessor *Accessor
	buf      *buffer.TupleBuffer
	index    int
}

func (r Record) rowOffset() int {
	return r.index * r.accessor.schema.TupleSize()
}

// Read returns the value stored in field (by index) of this record.
func (r Record) Read(field int) VarVal {
	f := r.accessor.schema.Fields[field]
	off := r.rowOffset() + r.accessor.schema.Offset(field)
	data := r.buf.Data()

	switch f.Kind {
	case schema.KindScalar:
		return readScalar(data[off:], f.Scalar)
	case schema.KindFixedSize:
		elems := make([]any, f.FixedCount)
		w := f.Scalar.Size()
		for i := 0; i < f.FixedCount; i++ {
			elems[i] = readScalar(data[off+i*w:], f.Scalar).scalar
		}
		return NewFixedSize(f.Scalar, elems)
	case schema.KindVariableSize:
		childIdx := binary.LittleEndian.Uint32(data[off:])
		child := r.buf.ChildAt(childIdx)
		if child == nil {
			return NewVariableSize(f.Scalar, nil)
		}
		cdata := child.Data()
		length := binary.LittleEndian.Uint32(cdata[:schema.LengthPrefixWidth])
		payload := cdata[schema.LengthPrefixWidth : schema.LengthPrefixWidth+int(length)]
		return NewVariableSize(f.Scalar, payload)
	default:
		panic(fmt.Sprintf("memory: unknown field kind %d", f.Kind))
	}
}

// ReadByName resolves a field by name before reading it.
func (r Record) ReadByName(name string) (VarVal, error) {
	i := r.accessor.schema.IndexOf(name)
	if i < 0 {
		return VarVal{}, fmt.Errorf("memory: unknown field %q", name)
	}
	return r.Read(i), nil
}

// Write stores value into field (by index) of this record. For
// variable-size fields it allocates exactly one child buffer slot from
// provider, writes a length prefix and the payload into the child, and
// stores only the child index inline in the row.
func (r Record) Write(field int, value VarVal, provider buffer.ChildProvider) error {
	if r.index >= r.accessor.capacity(r.buf) {
		return fmt.Errorf("memory: write: index %d exceeds buffer capacity %d", r.index, r.accessor.capacity(r.buf))
	}
	f := r.accessor.schema.Fields[field]
	off := r.rowOffset() + r.accessor.schema.Offset(field)
	data := r.buf.Data()

	switch f.Kind {
	case schema.KindScalar:
		if value.Kind() != schema.KindScalar {
			return unsupported("write", "scalar field", kindName(value))
		}
		writeScalar(data[off:], f.Scalar, value.scalar)
		return nil
	case schema.KindFixedSize:
		if value.Kind() != schema.KindFixedSize || len(value.fixed) != f.FixedCount {
			return unsupported("write", "fixed-size field", kindName(value))
		}
		w := f.Scalar.Size()
		for i, el := range value.fixed {
			writeScalar(data[off+i*w:], f.Scalar, el)
		}
		return nil
	case schema.KindVariableSize:
		if value.Kind() != schema.KindVariableSize {
			return unsupported("write", "variable-size field", kindName(value))
		}
		child, idx, err := r.buf.AllocateChild(provider)
		if err != nil {
			return err
		}
		cdata := child.Data()
		if len(cdata) < schema.LengthPrefixWidth+len(value.varBytes) {
			return fmt.Errorf("memory: write: child buffer too small for %d byte payload", len(value.varBytes))
		}
		binary.LittleEndian.PutUint32(cdata[:schema.LengthPrefixWidth], uint32(len(value.varBytes)))
		copy(cdata[schema.LengthPrefixWidth:], value.varBytes)
		binary.LittleEndian.PutUint32(data[off:], idx)
		return nil
	default:
		return fmt.Errorf("memory: unknown field kind %d", f.Kind)
	}
}

// WriteByName resolves a field by name before writing it.
func (r Record) WriteByName(name string, value VarVal, provider buffer.ChildProvider) error {
	i := r.accessor.schema.IndexOf(name)
	if i < 0 {
		return fmt.Errorf("memory: unknown field %q", name)
	}
	return r.Write(i, value, provider)
}

func readScalar(b []byte, kind schema.ScalarKind) VarVal {
	switch kind {
	case schema.Bool:
		return NewScalar(kind, b[0] != 0)
	case schema.Char, schema.Uint8:
		return NewScalar(kind, b[0])
	case schema.Int8:
		return NewScalar(kind, int8(b[0]))
	case schema.Int16:
		return NewScalar(kind, int16(binary.LittleEndian.Uint16(b)))
	case schema.Uint16:
		return NewScalar(kind, binary.LittleEndian.Uint16(b))
	case schema.Int32:
		return NewScalar(kind, int32(binary.LittleEndian.Uint32(b)))
	case schema.Uint32:
		return NewScalar(kind, binary.LittleEndian.Uint32(b))
	case schema.Int64:
		return NewScalar(kind, int64(binary.LittleEndian.Uint64(b)))
	case schema.Uint64:
		return NewScalar(kind, binary.LittleEndian.Uint64(b))
	case schema.Float32:
		bits := binary.LittleEndian.Uint32(b)
		return NewScalar(kind, math.Float32frombits(bits))
	case schema.Float64:
		bits := binary.LittleEndian.Uint64(b)
		return NewScalar(kind, math.Float64frombits(bits))
	default:
		panic(fmt.Sprintf("memory: unknown scalar kind %d", kind))
	}
}

func writeScalar(b []byte, kind schema.ScalarKind, value any) {
	switch kind {
	case schema.Bool:
		v, _ := value.(bool)
		if v {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case schema.Char, schema.Uint8:
		v, _ := value.(uint8)
		b[0] = v
	case schema.Int8:
		v, _ := value.(int8)
		b[0] = byte(v)
	case schema.Int16:
		v, _ := value.(int16)
		binary.LittleEndian.PutUint16(b, uint16(v))
	case schema.Uint16:
		v, _ := value.(uint16)
		binary.LittleEndian.PutUint16(b, v)
	case schema.Int32:
		v, _ := value.(int32)
		binary.LittleEndian.PutUint32(b, uint32(v))
	case schema.Uint32:
		v, _ := value.(uint32)
		binary.LittleEndian.PutUint32(b, v)
	case schema.Int64:
		v, _ := value.(int64)
		binary.LittleEndian.PutUint64(b, uint64(v))
	case schema.Uint64:
		v, _ := value.(uint64)
		binary.LittleEndian.PutUint64(b, v)
	case schema.Float32:
		v, _ := value.(float32)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	case schema.Float64:
		v, _ := value.(float64)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("memory: unknown scalar kind %d", kind))
	}
}
