package rvdisasm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvtacit/tracedecoder/rv"
)

func le32(word uint32) []byte {
	return []byte{byte(word), byte(word >> 8), byte(word >> 16), byte(word >> 24)}
}

func le16(word uint16) []byte {
	return []byte{byte(word), byte(word >> 8)}
}

func TestDecodeOne32BitEncodings(t *testing.T) {
	cases := []struct {
		name string
		word uint32
		want rv.Insn
	}{
		{"beq", 0x00000463, rv.Insn{Len: 4, Offset: 8, IsBranch: true, Name: "beq"}},
		{"jal", 0x0100006f, rv.Insn{Len: 4, Offset: 16, IsDirectJump: true, Name: "jal"}},
		{"jalr", 0x00000067, rv.Insn{Len: 4, IsIndirectJump: true, Name: "jalr"}},
		{"amoswap.d", 0x0800302f, rv.Insn{Len: 4, Name: "amoswap.d"}},
		{"unrecognized opcode falls back to a plain insn", 0x00000013, rv.Insn{Len: 4, Name: "insn"}},
	}
	d := New()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			insn, ok := d.DecodeOne(le32(c.word))
			assert.True(t, ok)
			assert.Equal(t, c.want, insn)
		})
	}
}

func TestDecodeOneCompressedEncodings(t *testing.T) {
	cases := []struct {
		name string
		word uint16
		want rv.Insn
	}{
		{"c.beqz", 0xC001, rv.Insn{Len: 2, IsBranch: true, Name: "c.beqz"}},
		{"c.j", 0xA001, rv.Insn{Len: 2, IsDirectJump: true, Name: "c.j"}},
		{"c.jr", 0x8002, rv.Insn{Len: 2, IsIndirectJump: true, Name: "c.jr"}},
		{"c.jalr", 0x9002, rv.Insn{Len: 2, IsIndirectJump: true, Name: "c.jalr"}},
		{"unrecognized quadrant falls back to c.insn", 0x0000, rv.Insn{Len: 2, Name: "c.insn"}},
	}
	d := New()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			insn, ok := d.DecodeOne(le16(c.word))
			assert.True(t, ok)
			assert.Equal(t, c.want, insn)
		})
	}
}

func TestDecodeOneRejectsTruncatedData(t *testing.T) {
	d := New()

	_, ok := d.DecodeOne(nil)
	assert.False(t, ok)

	// lo16&0x3==0x3 commits to the 32-bit path; only 3 bytes follow.
	_, ok = d.DecodeOne([]byte{0x63, 0x04, 0x00})
	assert.False(t, ok)
}

func TestDecodeAllWalksSequentiallyAndSkipsShortTrailers(t *testing.T) {
	var data []byte
	data = append(data, le16(0x8002)...) // c.jr at base+0
	data = append(data, le32(0x00000067)...) // jalr at base+2
	data = append(data, 0x00) // trailing single byte, too short to decode

	d := New()
	got := d.DecodeAll(data, 0x1000)

	assert.Equal(t, map[uint64]rv.Insn{
		0x1000: {Len: 2, IsIndirectJump: true, Name: "c.jr"},
		0x1002: {Len: 4, IsIndirectJump: true, Name: "jalr"},
	}, got)
}
