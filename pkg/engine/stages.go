package engine

import (
	"context"
	"fmt"

	"github.com/flowlattice/qengine/pkg/buffer"
	"github.com/flowlattice/qengine/pkg/ids"
	"github.com/flowlattice/qengine/pkg/memory"
	"github.com/flowlattice/qengine/pkg/schema"
)

// FuncStage adapts three plain functions to the Stage capability (§9: "no
// inheritance hierarchy needed"). A nil hook is treated as a no-op/success.
type FuncStage struct {
	StartFn   func(ctx context.Context) error
	ExecuteFn func(buf *buffer.TupleBuffer, wctx *WorkerContext) (Result, error)
	StopFn    func(ctx context.Context) error
	Safe      bool
}

func (s *FuncStage) Start(ctx context.Context) error {
	if s.StartFn == nil {
		return nil
	}
	return s.StartFn(ctx)
}

func (s *FuncStage) Execute(buf *buffer.TupleBuffer, wctx *WorkerContext) (Result, error) {
	if s.ExecuteFn == nil {
		return Result{}, nil
	}
	return s.ExecuteFn(buf, wctx)
}

func (s *FuncStage) Stop(ctx context.Context) error {
	if s.StopFn == nil {
		return nil
	}
	return s.StopFn(ctx)
}

func (s *FuncStage) ConcurrentSafe() bool { return s.Safe }

// NewSinkStage wraps a consume callback as a terminal pipeline stage: the
// engine never looks at its successors (none are permitted, §3) and
// releases the buffer itself once Execute returns, so consume must not
// retain buf past the call.
func NewSinkStage(consume func(buf *buffer.TupleBuffer) error) *FuncStage {
	return &FuncStage{
		ExecuteFn: func(buf *buffer.TupleBuffer, _ *WorkerContext) (Result, error) {
			return Result{}, consume(buf)
		},
	}
}

// ProjectStage copies a subset of fields from an input schema into an
// output schema of the same field order, one record at a time, into a
// single output buffer, and emits that buffer once the input is exhausted.
// It does not split output across several buffers: an input whose records
// do not all fit one output buffer fails with the append error. It
// grounds the "schema-preserving project pipeline" referenced in §8's
// idempotence property and exercises the variable-size round-trip of §8
// scenario 6 when one of the copied fields is variable-size.
type ProjectStage struct {
	in, out    *schema.Schema
	inAccess   *memory.Accessor
	outAccess  *memory.Accessor
	fieldNames []string
	origin     ids.SourceId
}

// NewProjectStage builds a stage that reads fieldNames from in and writes
// them, in the same order, into a buffer laid out by out. The caller is
// responsible for ensuring out's fields match fieldNames' physical types.
func NewProjectStage(in, out *schema.Schema, fieldNames []string) *ProjectStage {
	return &ProjectStage{
		in:         in,
		out:        out,
		inAccess:   memory.NewAccessor(in),
		outAccess:  memory.NewAccessor(out),
		fieldNames: fieldNames,
	}
}

func (p *ProjectStage) Start(context.Context) error { return nil }
func (p *ProjectStage) Stop(context.Context) error   { return nil }

func (p *ProjectStage) Execute(buf *buffer.TupleBuffer, wctx *WorkerContext) (Result, error) {
	n := buf.NumberOfTuples()
	if n == 0 {
		return Result{}, nil
	}

	outBuf, err := wctx.Pool.Acquire(buf.Origin())
	if err != nil {
		return Result{}, err
	}
	outBuf.SetWatermark(buf.Watermark())

	for i := 0; i < n; i++ {
		rec := p.inAccess.At(buf, i)
		values := make([]memory.VarVal, len(p.fieldNames))
		for j, name := range p.fieldNames {
			v, err := rec.ReadByName(name)
			if err != nil {
				outBuf.Release()
				return Result{}, fmt.Errorf("engine: project: %w", err)
			}
			values[j] = v
		}
		if err := p.outAccess.Append(outBuf, values, wctx.Pool); err != nil {
			outBuf.Release()
			return Result{}, fmt.Errorf("engine: project: %w", err)
		}
	}

	return Result{}, wctx.Emit(outBuf)
}
