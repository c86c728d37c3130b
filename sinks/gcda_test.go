package sinks

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/wire"
)

func twoFuncSymbolsForGCDA() *binimage.SymbolIndex {
	return binimage.NewSymbolIndexForTesting(
		map[uint64]map[uint64]binimage.SymbolInfo{
			7: {
				0x1000: {Name: "A"},
				0x1100: {Name: "B"},
			},
		},
		nil, nil,
	)
}

func readU32(t *testing.T, r *bytes.Reader) uint32 {
	t.Helper()
	var v uint32
	assert.NoError(t, binary.Read(r, binary.LittleEndian, &v))
	return v
}

func readU64(t *testing.T, r *bytes.Reader) uint64 {
	t.Helper()
	var v uint64
	assert.NoError(t, binary.Read(r, binary.LittleEndian, &v))
	return v
}

func TestGCDASinkAttributesArcsToTheEnclosingFunction(t *testing.T) {
	s, err := newGCDASink(&Shared{OutDir: t.TempDir(), Symbols: twoFuncSymbolsForGCDA()}, nil)
	assert.NoError(t, err)
	sink := s.(*gcdaSink)

	assert.NoError(t, sink.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7)))
	assert.NoError(t, sink.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1100})))
	assert.NoError(t, sink.Consume(event.TakenBranch(8, event.Arc{From: 0x1104, To: 0x1108})))
	assert.NoError(t, sink.Consume(event.UninferableJump(12, event.Arc{From: 0x1110, To: 0x1008})))
	assert.NoError(t, sink.Flush())

	data, err := os.ReadFile(sink.f.Name())
	assert.NoError(t, err)
	r := bytes.NewReader(data)

	assert.Equal(t, gcdaMagic, readU32(t, r))
	assert.Equal(t, gcdaFormatVer, readU32(t, r))
	assert.Equal(t, uint32(1), readU32(t, r), "exactly one function recorded arcs")

	assert.Equal(t, gcdaTagFunction, readU32(t, r))
	assert.Equal(t, uint64(0x1100), readU64(t, r), "arcs attributed to B, the frame on top when each fired")
	assert.Equal(t, gcdaTagArcCounts, readU32(t, r))

	arcCount := readU32(t, r)
	assert.Equal(t, uint32(2), arcCount)

	got := make(map[gcdaArc]uint64, arcCount)
	for i := uint32(0); i < arcCount; i++ {
		from := readU64(t, r)
		to := readU64(t, r)
		count := readU64(t, r)
		got[gcdaArc{from, to}] = count
	}
	assert.Equal(t, map[gcdaArc]uint64{
		{from: 0x1104, to: 0x1108}: 1,
		{from: 0x1110, to: 0x1008}: 1,
	}, got)
}

func TestGCDASinkDropsArcsOutsideAnyFrame(t *testing.T) {
	s, err := newGCDASink(&Shared{OutDir: t.TempDir(), Symbols: twoFuncSymbolsForGCDA()}, nil)
	assert.NoError(t, err)
	sink := s.(*gcdaSink)

	assert.NoError(t, sink.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7)))
	assert.NoError(t, sink.Consume(event.TakenBranch(4, event.Arc{From: 0x1000, To: 0x1004})))
	assert.NoError(t, sink.Flush())

	data, err := os.ReadFile(sink.f.Name())
	assert.NoError(t, err)
	r := bytes.NewReader(data)
	readU32(t, r) // magic
	readU32(t, r) // version
	assert.Equal(t, uint32(0), readU32(t, r), "no frame was ever open, so no function recorded arcs")
}
