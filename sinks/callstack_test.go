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

func TestCallStackSinkLogsPushOnCallAndPopOnReturn(t *testing.T) {
	symbols := binimage.NewSymbolIndexForTesting(
		map[uint64]map[uint64]binimage.SymbolInfo{7: {0x1100: {Name: "callee"}}},
		nil, nil,
	)
	s, err := newCallStackSink(&Shared{OutDir: t.TempDir(), Symbols: symbols}, nil)
	assert.NoError(t, err)
	sink := s.(*callStackSink)

	assert.NoError(t, sink.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7)))
	assert.NoError(t, sink.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1100})))
	assert.NoError(t, sink.Flush())

	out, err := os.ReadFile(sink.f.Name())
	assert.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "push")
	assert.Contains(t, text, "callee @ 0x1100")
	assert.Contains(t, text, "Stack (size: 1)")
}

func TestCallStackSinkFlushClosesRemainingFrames(t *testing.T) {
	symbols := binimage.NewSymbolIndexForTesting(
		map[uint64]map[uint64]binimage.SymbolInfo{7: {0x1100: {Name: "callee"}}},
		nil, nil,
	)
	s, err := newCallStackSink(&Shared{OutDir: t.TempDir(), Symbols: symbols}, nil)
	assert.NoError(t, err)
	sink := s.(*callStackSink)

	assert.NoError(t, sink.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7)))
	assert.NoError(t, sink.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1100})))
	assert.Equal(t, 1, sink.u.Depth())
	assert.NoError(t, sink.Flush())
	assert.Equal(t, 0, sink.u.Depth())
}
