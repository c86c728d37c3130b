// Package event defines the tagged stream the decoder produces and every
// sink consumes: a sequence of Entry values, each either a decoded
// Instruction or a timestamped Event.
package event

import (
	"fmt"

	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/wire"
)

// Entry is one item on the bus: an Instruction or an Event. Adding a new
// Entry variant means adding a new type implementing this interface; sinks
// skip any variant they have no case for, so each sink that should react
// to it needs a case of its own.
type Entry interface {
	entry()
}

// Instruction records that the decoder stepped over insn at pc. Most
// sinks ignore these; the text dump, statistics and atomic-instruction
// sinks use them.
type Instruction struct {
	Insn rv.Insn
	PC   uint64
}

func (Instruction) entry() {}

// Kind distinguishes the variants of Event.
type Kind uint8

const (
	KindTakenBranch Kind = iota
	KindNonTakenBranch
	KindUninferableJump
	KindInferrableJump
	KindTrap
	KindSyncStart
	KindSyncEnd
	KindSyncPeriodic
	KindBPHit
	KindBPMiss
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindTakenBranch:
		return "TakenBranch"
	case KindNonTakenBranch:
		return "NonTakenBranch"
	case KindUninferableJump:
		return "UninferableJump"
	case KindInferrableJump:
		return "InferrableJump"
	case KindTrap:
		return "Trap"
	case KindSyncStart:
		return "SyncStart"
	case KindSyncEnd:
		return "SyncEnd"
	case KindSyncPeriodic:
		return "SyncPeriodic"
	case KindBPHit:
		return "BPHit"
	case KindBPMiss:
		return "BPMiss"
	case KindPanic:
		return "Panic"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// TrapReason is the sub-kind of a Trap event.
type TrapReason uint8

const (
	TrapException TrapReason = iota
	TrapInterrupt
	TrapReturn
)

func (r TrapReason) String() string {
	switch r {
	case TrapException:
		return "Exception"
	case TrapInterrupt:
		return "Interrupt"
	case TrapReturn:
		return "Return"
	default:
		return fmt.Sprintf("TrapReason(%d)", uint8(r))
	}
}

// Arc is a (from, to) address pair carried by branch/jump events.
type Arc struct {
	From, To uint64
}

// Ctx is an optional ASID: Valid is false for Trap events whose ctx is
// unknown or not applicable.
type Ctx struct {
	Value uint64
	Valid bool
}

// Event is the timestamped half of the Entry union. Only the fields
// relevant to Kind (and, for Trap, Reason) are populated; sinks must not
// read fields outside their Kind's contract.
type Event struct {
	Timestamp uint64
	Kind      Kind

	// TakenBranch, NonTakenBranch, UninferableJump, InferrableJump, Trap.
	Arc Arc

	// Trap.
	Reason TrapReason
	PrvArc [2]rv.Prv
	Ctx    Ctx

	// SyncStart.
	RuntimeCfg wire.RuntimeCfg
	StartPC    uint64
	StartPrv   rv.Prv
	StartCtx   uint64

	// SyncEnd.
	EndPC uint64

	// BPHit.
	HitCount uint64
}

func (Event) entry() {}

func TakenBranch(ts uint64, arc Arc) Event {
	return Event{Timestamp: ts, Kind: KindTakenBranch, Arc: arc}
}

func NonTakenBranch(ts uint64, arc Arc) Event {
	return Event{Timestamp: ts, Kind: KindNonTakenBranch, Arc: arc}
}

func UninferableJump(ts uint64, arc Arc) Event {
	return Event{Timestamp: ts, Kind: KindUninferableJump, Arc: arc}
}

func InferrableJump(ts uint64, arc Arc) Event {
	return Event{Timestamp: ts, Kind: KindInferrableJump, Arc: arc}
}

func Trap(ts uint64, reason TrapReason, prvArc [2]rv.Prv, arc Arc, ctx Ctx) Event {
	return Event{Timestamp: ts, Kind: KindTrap, Reason: reason, PrvArc: prvArc, Arc: arc, Ctx: ctx}
}

func SyncStart(ts uint64, cfg wire.RuntimeCfg, startPC uint64, startPrv rv.Prv, startCtx uint64) Event {
	return Event{Timestamp: ts, Kind: KindSyncStart, RuntimeCfg: cfg, StartPC: startPC, StartPrv: startPrv, StartCtx: startCtx}
}

func SyncEnd(ts uint64, endPC uint64) Event {
	return Event{Timestamp: ts, Kind: KindSyncEnd, EndPC: endPC}
}

func SyncPeriodic(ts uint64) Event {
	return Event{Timestamp: ts, Kind: KindSyncPeriodic}
}

func BPHit(ts uint64, hitCount uint64) Event {
	return Event{Timestamp: ts, Kind: KindBPHit, HitCount: hitCount}
}

func BPMiss(ts uint64) Event {
	return Event{Timestamp: ts, Kind: KindBPMiss}
}

func Panic(ts uint64) Event {
	return Event{Timestamp: ts, Kind: KindPanic}
}
