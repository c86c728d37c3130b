// Package unwind reconstructs a synthetic call stack from the decoder's
// event stream, shared by every sink that needs call-context (call-stack
// log, flame-graph exporters, the atomic-instruction sink).
package unwind

import (
	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
)

// Frame is one entry on the synthetic call stack.
type Frame struct {
	Prv    rv.Prv
	Ctx    uint64
	Addr   uint64
	Symbol string
}

// Update reports the frames opened and closed by processing one event.
type Update struct {
	Opened []Frame
	Closed []Frame
}

// Unwinder is heuristic: without the target's real return-address stack,
// it infers calls and returns from symbol-table boundaries and jump
// kinds. It never rejects a trace; an unresolvable event is simply a
// no-op for stack purposes.
type Unwinder struct {
	sx      *binimage.SymbolIndex
	stack   []Frame
	currPrv rv.Prv
	currCtx uint64
}

// New builds an Unwinder that resolves call targets against sx.
func New(sx *binimage.SymbolIndex) *Unwinder {
	return &Unwinder{sx: sx}
}

// Depth returns the current stack depth.
func (u *Unwinder) Depth() int { return len(u.stack) }

// PeekAll snapshots the current stack, outermost frame first.
func (u *Unwinder) PeekAll() []Frame {
	out := make([]Frame, len(u.stack))
	copy(out, u.stack)
	return out
}

// Consume applies one event's effect on the stack and reports the update.
func (u *Unwinder) Consume(e event.Event) Update {
	switch e.Kind {
	case event.KindSyncStart:
		u.currPrv = e.StartPrv
		u.currCtx = e.StartCtx
		return Update{}
	case event.KindInferrableJump:
		return u.inferrableJump(e.Arc.To)
	case event.KindUninferableJump:
		return u.uninferableJump(e.Arc.To)
	case event.KindTrap:
		return u.trap(e)
	default:
		return Update{}
	}
}

func (u *Unwinder) inferrableJump(to uint64) Update {
	if frame, ok := u.entryFrame(u.currPrv, to); ok {
		u.stack = append(u.stack, frame)
		return Update{Opened: []Frame{frame}}
	}
	return Update{}
}

func (u *Unwinder) uninferableJump(to uint64) Update {
	if frame, ok := u.entryFrame(u.currPrv, to); ok {
		u.stack = append(u.stack, frame)
		return Update{Opened: []Frame{frame}}
	}

	// Peek-then-pop: the target must fall within the current top frame's
	// range for that frame to survive. This is what lets a direct tail
	// call (whose target isn't itself a function entry, e.g. a tail jump
	// into the middle of a callee) resolve without spuriously popping the
	// frame that already covers it.
	var closed []Frame
	for len(u.stack) > 0 {
		top := u.stack[len(u.stack)-1]
		if lo, hi, ok := u.sx.Range(top.Prv, top.Ctx, top.Addr); ok && to >= lo && to < hi {
			break
		}
		closed = append(closed, top)
		u.stack = u.stack[:len(u.stack)-1]
	}
	return Update{Closed: closed}
}

func (u *Unwinder) trap(e event.Event) Update {
	switch e.Reason {
	case event.TrapException, event.TrapInterrupt:
		u.currPrv = e.PrvArc[1]
		if frame, ok := u.entryFrame(u.currPrv, e.Arc.To); ok {
			u.stack = append(u.stack, frame)
			return Update{Opened: []Frame{frame}}
		}
		return Update{}
	case event.TrapReturn:
		// Frames pushed while at the privilege we're leaving are stamped
		// with that privilege at push time (see entryFrame below), so
		// unwinding them means popping everything still tagged with the
		// pre-return currPrv, stopping at the first frame belonging to a
		// different (enclosing) privilege level.
		var closed []Frame
		for len(u.stack) > 0 && u.stack[len(u.stack)-1].Prv == u.currPrv {
			top := u.stack[len(u.stack)-1]
			closed = append(closed, top)
			u.stack = u.stack[:len(u.stack)-1]
		}
		u.currPrv = e.PrvArc[1]
		if u.currPrv == rv.PrvUser && e.Ctx.Valid {
			u.currCtx = e.Ctx.Value
		}
		return Update{Closed: closed}
	default:
		return Update{}
	}
}

func (u *Unwinder) entryFrame(prv rv.Prv, addr uint64) (Frame, bool) {
	ctx := u.topCtx(prv)
	info, ok := u.sx.Lookup(prv, ctx, addr)
	if !ok {
		return Frame{}, false
	}
	return Frame{Prv: prv, Ctx: ctx, Addr: addr, Symbol: info.Name}, true
}

// topCtx is the ASID associated with the current top frame (kernel/machine
// frames never carry a meaningful ctx). A fresh user frame is looked up in
// the ASID of whichever user frame is already on top; before any user
// frame is pushed, it falls back to currCtx — the ASID last reported by
// SyncStart or a Trap Return into User — rather than always assuming 0,
// since the very first call in a trace has no frame to inherit from yet.
func (u *Unwinder) topCtx(prv rv.Prv) uint64 {
	if prv != rv.PrvUser {
		return 0
	}
	for i := len(u.stack) - 1; i >= 0; i-- {
		if u.stack[i].Prv == rv.PrvUser {
			return u.stack[i].Ctx
		}
	}
	return u.currCtx
}

// Flush emits every remaining frame as closed, leaving the stack empty.
func (u *Unwinder) Flush() Update {
	closed := u.PeekAll()
	u.stack = nil
	return Update{Closed: closed}
}
