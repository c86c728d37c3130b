package unwind_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/unwind"
	"github.com/rvtacit/tracedecoder/wire"
)

func fourFuncSymbols() *binimage.SymbolIndex {
	return binimage.NewSymbolIndexForTesting(
		map[uint64]map[uint64]binimage.SymbolInfo{
			7: {
				0x1000: {Name: "A"},
				0x1100: {Name: "B"},
				0x1200: {Name: "C"},
				0x1300: {Name: "D"},
			},
		},
		nil, nil,
	)
}

func fourFuncSymbolsWithKernel() *binimage.SymbolIndex {
	return binimage.NewSymbolIndexForTesting(
		map[uint64]map[uint64]binimage.SymbolInfo{
			7: {
				0x1000: {Name: "A"},
				0x1100: {Name: "B"},
				0x1200: {Name: "C"},
				0x1300: {Name: "D"},
			},
		},
		map[uint64]binimage.SymbolInfo{0x80000000: {Name: "kernel_handler"}},
		nil,
	)
}

func TestDirectCallOpensAndReturnClosesFrame(t *testing.T) {
	u := unwind.New(fourFuncSymbols())
	u.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7))

	upd := u.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1100}))
	assert.Len(t, upd.Opened, 1)
	assert.Equal(t, "B", upd.Opened[0].Symbol)
	assert.Equal(t, 1, u.Depth())

	// Return via an uninferable jump to a non-entry address within A.
	upd = u.Consume(event.UninferableJump(14, event.Arc{From: 0x1110, To: 0x1008}))
	assert.Len(t, upd.Closed, 1)
	assert.Equal(t, "B", upd.Closed[0].Symbol)
	assert.Equal(t, 0, u.Depth())
}

func TestUninferableJumpToEntryIsTreatedAsCall(t *testing.T) {
	u := unwind.New(fourFuncSymbols())
	u.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7))

	upd := u.Consume(event.UninferableJump(4, event.Arc{From: 0x1004, To: 0x1200}))
	assert.Len(t, upd.Opened, 1)
	assert.Equal(t, "C", upd.Opened[0].Symbol)
}

func TestNonCallDirectJumpIsNoOp(t *testing.T) {
	u := unwind.New(fourFuncSymbols())
	u.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7))

	upd := u.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1008}))
	assert.Empty(t, upd.Opened)
	assert.Empty(t, upd.Closed)
	assert.Equal(t, 0, u.Depth())
}

func TestExceptionPushesAndReturnPops(t *testing.T) {
	u := unwind.New(fourFuncSymbolsWithKernel())
	u.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7))

	upd := u.Consume(event.Trap(7, event.TrapException, [2]rv.Prv{rv.PrvUser, rv.PrvSupervisor},
		event.Arc{From: 0x1004, To: 0x80000000}, event.Ctx{}))
	assert.Empty(t, upd.Closed)
	assert.Equal(t, 1, u.Depth())

	upd = u.Consume(event.Trap(49, event.TrapReturn, [2]rv.Prv{rv.PrvSupervisor, rv.PrvUser},
		event.Arc{}, event.Ctx{Value: 7, Valid: true}))
	assert.Len(t, upd.Closed, 1)
	assert.Equal(t, 0, u.Depth())
}

func TestDepthNeverNegative(t *testing.T) {
	u := unwind.New(fourFuncSymbols())
	u.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7))

	// A return with nothing on the stack should be a no-op, not a panic
	// or a negative depth.
	upd := u.Consume(event.UninferableJump(4, event.Arc{From: 0x1004, To: 0x1008}))
	assert.Empty(t, upd.Closed)
	assert.GreaterOrEqual(t, u.Depth(), 0)
}

func TestFlushClosesEveryRemainingFrame(t *testing.T) {
	u := unwind.New(fourFuncSymbols())
	u.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 7))
	u.Consume(event.InferrableJump(4, event.Arc{From: 0x1004, To: 0x1100}))
	u.Consume(event.InferrableJump(8, event.Arc{From: 0x1104, To: 0x1200}))
	assert.Equal(t, 2, u.Depth())

	upd := u.Flush()
	assert.Len(t, upd.Closed, 2)
	assert.Equal(t, 0, u.Depth())
}
