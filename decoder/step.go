package decoder

import (
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/wire"
)

// stepBB returns the address of the next control-flow-change instruction
// reachable from pc by falling through and, in BrPredict mode, by following
// direct jumps transparently (BrTarget mode terminates the block at a
// direct jump instead). Memoized by block-start pc; the
// cache is flushed whenever ctx changes. On a cache hit the intervening
// instructions are not re-published — this is the point of memoizing a
// hot block, at the cost of undercounting repeated instructions in the
// statistics sink.
func (d *Decoder) stepBB(pc uint64) (uint64, error) {
	if end, ok := d.cache[pc]; ok {
		return end, nil
	}
	cur := pc
	for {
		insn, ok := d.ix.Lookup(d.prv, d.ctx, cur)
		if !ok {
			return 0, &MissingInstructionError{Addr: cur}
		}
		d.bus.Publish(event.Instruction{Insn: insn, PC: cur})
		d.stats.Instructions++

		if insn.IsBranch || insn.IsIndirectJump {
			d.cache[pc] = cur
			return cur, nil
		}
		if insn.IsDirectJump {
			if d.runtimeCfg.BrMode == wire.BrTarget {
				d.cache[pc] = cur
				return cur, nil
			}
			cur = wire.SignExtend(cur + uint64(insn.Offset))
			continue
		}
		cur += uint64(insn.Len)
	}
}

// stepBBUntil walks straight-line from 'from' to 'target', following
// direct jumps inclusively, and stops the moment the running address
// equals target. Hitting a branch or indirect jump before reaching target
// is a semantic desync: there's no packet field to resolve it.
func (d *Decoder) stepBBUntil(from, target uint64) error {
	cur := from
	for {
		insn, ok := d.ix.Lookup(d.prv, d.ctx, cur)
		if !ok {
			return &MissingInstructionError{Addr: cur}
		}
		d.bus.Publish(event.Instruction{Insn: insn, PC: cur})
		d.stats.Instructions++

		if cur == target {
			return nil
		}
		switch {
		case insn.IsDirectJump:
			cur = wire.SignExtend(cur + uint64(insn.Offset))
		case insn.IsBranch || insn.IsIndirectJump:
			return desyncf("step_bb_until: hit a %s at %#x before reaching target %#x", insn.Name, cur, target)
		default:
			cur += uint64(insn.Len)
		}
	}
}

// setCtx flushes the decoder cache whenever the active ctx changes, since
// the address space it memoizes belongs to the old ctx.
func (d *Decoder) setCtx(ctx uint64) {
	if ctx != d.ctx {
		d.cache = make(map[uint64]uint64)
	}
	d.ctx = ctx
}
