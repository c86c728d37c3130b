package decoder

import "fmt"

// MissingInstructionError is raised when straight-line stepping reaches an
// address absent from the instruction index — always fatal, per the spec's
// "Semantic desync" error class.
type MissingInstructionError struct {
	Addr uint64
}

func (e *MissingInstructionError) Error() string {
	return fmt.Sprintf("missing instruction at %#x", e.Addr)
}

// DesyncError covers every other semantic mismatch between the trace and
// the supplied binaries: a packet demanding an instruction kind the
// decoded instruction doesn't have, or a straight-line walk that overshoots
// its target.
type DesyncError struct {
	Msg string
}

func (e *DesyncError) Error() string {
	return e.Msg
}

func desyncf(format string, args ...any) error {
	return &DesyncError{Msg: fmt.Sprintf(format, args...)}
}
