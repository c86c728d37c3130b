package sinks

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/wire"
)

func TestAtomicsSinkLogsAtomicInsnsWithCallStack(t *testing.T) {
	symbols := binimage.NewSymbolIndexForTesting(
		map[uint64]map[uint64]binimage.SymbolInfo{7: {0x1100: {Name: "critical_section"}}},
		nil, nil,
	)
	s, err := newAtomicsSink(&Shared{OutDir: t.TempDir(), Symbols: symbols}, nil)
	assert.NoError(t, err)
	sink := s.(*atomicsSink)

	assert.NoError(t, sink.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7)))
	assert.NoError(t, sink.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1100})))
	assert.NoError(t, sink.Consume(event.Instruction{PC: 0x1104, Insn: rv.Insn{Name: "amoadd.w"}}))
	assert.NoError(t, sink.Flush())

	out, err := os.ReadFile(sink.f.Name())
	assert.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "0x001104: amoadd.w")
	assert.Contains(t, text, "Call stack:")
	assert.Contains(t, text, "critical_section @ 0x1100")
}

func TestAtomicsSinkIgnoresNonAtomicInstructions(t *testing.T) {
	s, err := newAtomicsSink(&Shared{OutDir: t.TempDir()}, nil)
	assert.NoError(t, err)
	sink := s.(*atomicsSink)

	assert.NoError(t, sink.Consume(event.Instruction{PC: 0x1000, Insn: rv.Insn{Name: "addi"}}))
	assert.NoError(t, sink.Flush())

	out, err := os.ReadFile(sink.f.Name())
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestIsAtomicInsnRecognizesLrScAndAmoPrefixes(t *testing.T) {
	assert.True(t, isAtomicInsn("lr.w"))
	assert.True(t, isAtomicInsn("sc.d"))
	assert.True(t, isAtomicInsn("amoswap.w"))
	assert.False(t, isAtomicInsn("addi"))
	assert.False(t, isAtomicInsn("jalr"))
}
