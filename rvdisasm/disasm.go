// Package rvdisasm is a small RV32/64 GC instruction decoder. It produces
// the handful of facts the decoding core actually needs from an
// instruction — length, predicates, and a pc-relative offset — rather than
// a full textual disassembly. Per the spec this is the kind of job usually
// handed to an external disassembler library; this package plays that
// role for the subset of the ISA (branches, jumps, atomics) the core
// cares about.
package rvdisasm

import "github.com/rvtacit/tracedecoder/rv"

// Disassembler decodes raw RV32/64 GC instruction words.
type Disassembler struct{}

// New returns a Disassembler. It takes no xlen argument: none of the
// predicates the core needs are xlen-dependent.
func New() *Disassembler { return &Disassembler{} }

// DecodeOne decodes the instruction whose encoding begins at data[0]. It
// returns the decoded instruction, whose Len is the number of bytes it
// occupies (2 or 4), or ok=false if data is too short for that length.
// An encoding it does not recognize still decodes, as a plain "insn" or
// "c.insn" with no control-flow predicates set.
func (d *Disassembler) DecodeOne(data []byte) (insn rv.Insn, ok bool) {
	if len(data) < 2 {
		return rv.Insn{}, false
	}
	lo16 := uint16(data[0]) | uint16(data[1])<<8
	if lo16&0x3 != 0x3 {
		return decodeCompressed(lo16)
	}
	if len(data) < 4 {
		return rv.Insn{}, false
	}
	word := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	return decode32(word)
}

// DecodeAll disassembles every instruction reachable by walking
// sequentially from base through data, returning an address -> Insn map.
// Mirrors disassemble_all in the collaborator the core assumes: given raw
// section bytes and a load address, produce a full instruction map.
func (d *Disassembler) DecodeAll(data []byte, base uint64) map[uint64]rv.Insn {
	out := make(map[uint64]rv.Insn, len(data)/3)
	off := 0
	for off < len(data) {
		insn, ok := d.DecodeOne(data[off:])
		if !ok {
			// Too few bytes left for the encoding that starts here;
			// skip a halfword and keep scanning rather than aborting
			// the whole section.
			off += 2
			continue
		}
		out[base+uint64(off)] = insn
		off += int(insn.Len)
	}
	return out
}

func signExtend(v uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift) >> shift)
}

func decode32(word uint32) (rv.Insn, bool) {
	opcode := word & 0x7f
	funct3 := (word >> 12) & 0x7
	switch opcode {
	case 0x63: // BRANCH
		imm := bImm(word)
		return rv.Insn{Len: 4, Offset: imm, IsBranch: true, Name: branchName(funct3)}, true
	case 0x6f: // JAL
		imm := jImm(word)
		return rv.Insn{Len: 4, Offset: imm, IsDirectJump: true, Name: "jal"}, true
	case 0x67: // JALR
		return rv.Insn{Len: 4, IsIndirectJump: true, Name: "jalr"}, true
	case 0x2f: // AMO
		funct5 := word >> 27
		return rv.Insn{Len: 4, Name: amoName(funct5, funct3)}, true
	default:
		return rv.Insn{Len: 4, Name: "insn"}, true
	}
}

func branchName(funct3 uint32) string {
	switch funct3 {
	case 0b000:
		return "beq"
	case 0b001:
		return "bne"
	case 0b100:
		return "blt"
	case 0b101:
		return "bge"
	case 0b110:
		return "bltu"
	case 0b111:
		return "bgeu"
	default:
		return "b?"
	}
}

func amoName(funct5, funct3 uint32) string {
	width := "w"
	if funct3 == 0b011 {
		width = "d"
	}
	switch funct5 {
	case 0b00010:
		return "lr." + width
	case 0b00011:
		return "sc." + width
	case 0b00001:
		return "amoswap." + width
	case 0b00000:
		return "amoadd." + width
	case 0b00100:
		return "amoxor." + width
	case 0b01100:
		return "amoand." + width
	case 0b01000:
		return "amoor." + width
	case 0b10000:
		return "amomin." + width
	case 0b10100:
		return "amomax." + width
	case 0b11000:
		return "amominu." + width
	case 0b11100:
		return "amomaxu." + width
	default:
		return "amo?." + width
	}
}

func bImm(word uint32) int64 {
	bit12 := (word >> 31) & 0x1
	bit11 := (word >> 7) & 0x1
	bits10_5 := (word >> 25) & 0x3f
	bits4_1 := (word >> 8) & 0xf
	imm := bit12<<12 | bit11<<11 | bits10_5<<5 | bits4_1<<1
	return signExtend(imm, 13)
}

func jImm(word uint32) int64 {
	bit20 := (word >> 31) & 0x1
	bits10_1 := (word >> 21) & 0x3ff
	bit11 := (word >> 20) & 0x1
	bits19_12 := (word >> 12) & 0xff
	imm := bit20<<20 | bits19_12<<12 | bit11<<11 | bits10_1<<1
	return signExtend(imm, 21)
}

func decodeCompressed(word uint16) (rv.Insn, bool) {
	quadrant := word & 0x3
	funct3 := (word >> 13) & 0x7
	switch quadrant {
	case 0b01:
		switch funct3 {
		case 0b110:
			return rv.Insn{Len: 2, Offset: cbImm(word), IsBranch: true, Name: "c.beqz"}, true
		case 0b111:
			return rv.Insn{Len: 2, Offset: cbImm(word), IsBranch: true, Name: "c.bnez"}, true
		case 0b101:
			return rv.Insn{Len: 2, Offset: cjImm(word), IsDirectJump: true, Name: "c.j"}, true
		case 0b001:
			return rv.Insn{Len: 2, Offset: cjImm(word), IsDirectJump: true, Name: "c.jal"}, true
		}
	case 0b10:
		if funct3 == 0b100 {
			bit12 := (word >> 12) & 0x1
			rs2 := (word >> 2) & 0x1f
			if rs2 == 0 {
				if bit12 == 0 {
					return rv.Insn{Len: 2, IsIndirectJump: true, Name: "c.jr"}, true
				}
				return rv.Insn{Len: 2, IsIndirectJump: true, Name: "c.jalr"}, true
			}
		}
	}
	return rv.Insn{Len: 2, Name: "c.insn"}, true
}

func cbImm(word uint16) int64 {
	w := uint32(word)
	bit8 := (w >> 12) & 0x1
	bits4_3 := (w >> 10) & 0x3
	bits7_6 := (w >> 5) & 0x3
	bits2_1 := (w >> 3) & 0x3
	bit5 := (w >> 2) & 0x1
	imm := bit8<<8 | bits7_6<<6 | bit5<<5 | bits4_3<<3 | bits2_1<<1
	return signExtend(imm, 9)
}

func cjImm(word uint16) int64 {
	w := uint32(word)
	bit11 := (w >> 12) & 0x1
	bit4 := (w >> 11) & 0x1
	bits9_8 := (w >> 9) & 0x3
	bit10 := (w >> 8) & 0x1
	bit6 := (w >> 7) & 0x1
	bit7 := (w >> 6) & 0x1
	bits3_1 := (w >> 3) & 0x7
	bit5 := (w >> 2) & 0x1
	imm := bit11<<11 | bit10<<10 | bits9_8<<8 | bit7<<7 | bit6<<6 | bit5<<5 | bit4<<4 | bits3_1<<1
	return signExtend(imm, 12)
}
