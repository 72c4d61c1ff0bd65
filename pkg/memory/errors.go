package memory

import "fmt"

// UnsupportedOperation is returned when a VarVal operation is applied to
// an incompatible variant combination (§3, §4.2): arithmetic between a
// scalar and a variable-size value, or a cast to a scalar kind the held
// variant cannot represent, for example.
type UnsupportedOperation struct {
	Op      string
	Lhs     string
	Rhs     string // empty for unary operations
}

func (e *UnsupportedOperation) Error() string {
	if e.Rhs == "" {
		return fmt.Sprintf("memory: unsupported operation %q on %s", e.Op, e.Lhs)
	}
	return fmt.Sprintf("memory: unsupported operation %s %q %s", e.Lhs, e.Op, e.Rhs)
}

func unsupported(op, lhs, rhs string) error {
	return &UnsupportedOperation{Op: op, Lhs: lhs, Rhs: rhs}
}
