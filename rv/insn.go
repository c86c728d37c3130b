package rv

// Insn is the decoder's view of a disassembled instruction. Per the spec
// it is opaque except for these fields: the core never inspects opcode
// bits directly, only the predicates below. Name is consulted only by the
// atomic-instruction sink, which matches the prefixes "lr.", "sc." and
// "amo".
type Insn struct {
	// Len is the instruction's encoded length in bytes: 2 for a
	// compressed (RVC) instruction, 4 otherwise.
	Len uint8

	// Offset is the sign-extended pc-relative immediate carried by a
	// direct branch or direct jump. Meaningless for other instructions.
	Offset int64

	IsBranch       bool
	IsDirectJump   bool
	IsIndirectJump bool

	Name string
}

// IsCFCInsn reports whether the instruction is any kind of control-flow
// change: branch, direct jump, or indirect jump.
func (i Insn) IsCFCInsn() bool {
	return i.IsBranch || i.IsDirectJump || i.IsIndirectJump
}
