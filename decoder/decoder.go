// Package decoder implements the packet-driven frontend: it walks the
// instruction index under a virtual program counter, a branch predictor,
// and privilege/context state, turning a wire packet stream into the
// event-bus entry stream every sink consumes.
package decoder

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/bpredict"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/eventbus"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/wire"
)

// Stats accumulates the decoder's own running counters, returned by
// Decoder.Stats for the caller's run summary. The statistics sink keeps
// separate counts of the bus entries it consumes.
type Stats struct {
	Packets      uint64
	Instructions uint64
	BPHit        uint64
	BPMiss       uint64
}

// Decoder is the single-producer sequential walker over one packet
// stream. It owns the packet buffer and all PC/timestamp/predictor state;
// none of it is shared with consumers.
type Decoder struct {
	ix  *binimage.InstructionIndex
	rd  *wire.Reader
	bus *eventbus.Bus
	log logrus.FieldLogger

	pc          wire.PC
	timestamp   uint64
	prv         rv.Prv
	ctx         uint64
	uUnknownCtx bool
	predictor   *bpredict.Predictor
	runtimeCfg  wire.RuntimeCfg
	cache       map[uint64]uint64

	stats Stats
}

// New constructs a Decoder reading from rd, resolving instructions against
// ix, and publishing to bus.
func New(ix *binimage.InstructionIndex, rd *wire.Reader, bus *eventbus.Bus, log logrus.FieldLogger) *Decoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Decoder{ix: ix, rd: rd, bus: bus, log: log, cache: make(map[uint64]uint64)}
}

// Stats returns a snapshot of the running counters.
func (d *Decoder) Stats() Stats { return d.stats }

// Run drives the decode loop to completion: clean EOF, an FSync(End)
// packet, or a fatal error. On any fatal error it broadcasts a Panic event
// before returning so sinks can finalize.
func (d *Decoder) Run() error {
	err := d.run()
	if err != nil {
		d.bus.Publish(event.Panic(d.timestamp))
	}
	d.bus.Close()
	return err
}

func (d *Decoder) run() error {
	if err := d.init(); err != nil {
		return err
	}
	var pkt wire.Packet
	for {
		_, err := d.rd.Next(&pkt)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		d.stats.Packets++

		done, err := d.step(&pkt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// init parses the mandatory first packet: it must be an uncompressed
// FSync carrying SyncStart.
func (d *Decoder) init() error {
	var pkt wire.Packet
	if _, err := d.rd.Next(&pkt); err != nil {
		return errors.Wrap(wire.ErrCorruptStream, "empty trace: no first packet")
	}
	d.stats.Packets++
	if pkt.Compressed || pkt.FHeader != wire.FSync || pkt.SyncType != wire.SyncStart {
		return errors.Wrap(wire.ErrCorruptStream, "first packet must be FSync(Start)")
	}
	if pkt.FromPrv != rv.PrvUser {
		return errors.Wrap(wire.ErrCorruptStream, "first packet from_prv must be User")
	}
	if pkt.RuntimeCfg.BrMode == wire.BrPredict && pkt.RuntimeCfg.BpEntries == 0 {
		return errors.Wrap(wire.ErrCorruptStream, "BrPredict mode requires bp_entries > 0")
	}

	d.runtimeCfg = pkt.RuntimeCfg
	d.predictor = bpredict.New(pkt.RuntimeCfg.BpEntries)
	d.pc = wire.Refund(pkt.TargetAddress)
	d.prv = pkt.TargetPrv
	d.ctx = pkt.TargetCtx
	d.timestamp = pkt.Timestamp

	d.bus.Publish(event.SyncStart(d.timestamp, d.runtimeCfg, uint64(d.pc), d.prv, d.ctx))
	return nil
}

// step processes one post-initialization packet. done is true once the
// stream should stop (clean FSync(End)).
func (d *Decoder) step(pkt *wire.Packet) (done bool, err error) {
	switch pkt.FHeader {
	case wire.FSync:
		return d.stepSync(pkt)
	case wire.FTrap:
		return false, d.stepTrap(pkt)
	case wire.FTb:
		return false, d.stepTakenFamily(pkt)
	case wire.FNt:
		return false, d.stepNotTakenFamily(pkt)
	case wire.FIj:
		return false, d.stepDirectJump(pkt)
	case wire.FUj:
		return false, d.stepIndirectJump(pkt)
	default:
		return false, errors.Wrapf(wire.ErrCorruptStream, "unexpected f_header %#03b mid-stream", pkt.FHeader)
	}
}

func (d *Decoder) skipIfUnknownCtx() bool {
	return d.uUnknownCtx && d.prv == rv.PrvUser
}

func (d *Decoder) stepSync(pkt *wire.Packet) (done bool, err error) {
	if pkt.FromPrv != rv.PrvUser {
		return false, errors.Wrap(wire.ErrCorruptStream, "sync packet from_prv must be User")
	}
	switch pkt.SyncType {
	case wire.SyncStart:
		return false, errors.Wrap(wire.ErrCorruptStream, "duplicate SyncStart mid-stream")
	case wire.SyncEnd:
		target := wire.Refund(pkt.TargetAddress)
		if err := d.stepBBUntil(uint64(d.pc), uint64(target)); err != nil {
			return false, err
		}
		d.pc = target
		d.bus.Publish(event.SyncEnd(d.timestamp, uint64(d.pc)))
		return true, nil
	case wire.SyncPeriodic:
		target := wire.Refund(pkt.TargetAddress)
		if err := d.stepBBUntil(uint64(d.pc), uint64(target)); err != nil {
			return false, err
		}
		d.pc = target
		d.timestamp += pkt.Timestamp
		d.prv = pkt.TargetPrv
		d.setCtx(pkt.TargetCtx)
		d.bus.Publish(event.SyncPeriodic(d.timestamp))
		return false, nil
	default:
		return false, errors.Wrapf(wire.ErrCorruptStream, "reserved sync_type %#03b", pkt.SyncType)
	}
}

func (d *Decoder) stepTrap(pkt *wire.Packet) error {
	if !d.skipIfUnknownCtx() {
		trapPC := wire.Refund(pkt.FromAddress)
		if err := d.stepBBUntil(uint64(d.pc), uint64(trapPC)); err != nil {
			return err
		}
		d.pc = trapPC
	}

	d.timestamp += pkt.Timestamp
	oldPrv := d.prv
	newPC := wire.XORDecode(d.pc, pkt.TargetAddress)
	fromAddr := uint64(d.pc)
	d.prv = pkt.TargetPrv
	d.pc = newPC

	reason, err := trapReason(pkt.TrapType)
	if err != nil {
		return err
	}

	if pkt.TrapType == wire.TrapReturn && pkt.TargetPrv == rv.PrvUser {
		if d.ix.HasUserCtx(pkt.TargetCtx) {
			d.setCtx(pkt.TargetCtx)
			d.uUnknownCtx = false
			d.bus.Publish(event.Trap(d.timestamp, reason, [2]rv.Prv{oldPrv, d.prv},
				event.Arc{From: fromAddr, To: uint64(newPC)}, event.Ctx{Value: pkt.TargetCtx, Valid: true}))
		} else {
			d.uUnknownCtx = true
			d.bus.Publish(event.Trap(d.timestamp, reason, [2]rv.Prv{oldPrv, d.prv},
				event.Arc{From: fromAddr, To: uint64(newPC)}, event.Ctx{}))
		}
		return nil
	}

	d.bus.Publish(event.Trap(d.timestamp, reason, [2]rv.Prv{oldPrv, d.prv},
		event.Arc{From: fromAddr, To: uint64(newPC)}, event.Ctx{}))
	return nil
}

func trapReason(t wire.TrapType) (event.TrapReason, error) {
	switch t {
	case wire.TrapException:
		return event.TrapException, nil
	case wire.TrapInterrupt:
		return event.TrapInterrupt, nil
	case wire.TrapReturn:
		return event.TrapReturn, nil
	default:
		return 0, errors.Wrapf(wire.ErrCorruptStream, "reserved trap_type %#03b", t)
	}
}

func (d *Decoder) stepTakenFamily(pkt *wire.Packet) error {
	if d.skipIfUnknownCtx() {
		d.timestamp += pkt.Timestamp
		return nil
	}
	if d.runtimeCfg.BrMode == wire.BrPredict {
		return d.stepPredictHit(pkt)
	}

	d.timestamp += pkt.Timestamp
	branchAddr, err := d.stepBB(uint64(d.pc))
	if err != nil {
		return err
	}
	insn, _ := d.ix.Lookup(d.prv, d.ctx, branchAddr)
	if !insn.IsBranch {
		return desyncf("FTb at %#x, which is not a branch", branchAddr)
	}
	newPC := wire.SignExtend(branchAddr + uint64(insn.Offset))
	d.pc = wire.PC(newPC)
	d.bus.Publish(event.TakenBranch(d.timestamp, event.Arc{From: branchAddr, To: newPC}))
	return nil
}

func (d *Decoder) stepNotTakenFamily(pkt *wire.Packet) error {
	if d.skipIfUnknownCtx() {
		d.timestamp += pkt.Timestamp
		return nil
	}
	if d.runtimeCfg.BrMode == wire.BrPredict {
		return d.stepPredictMiss(pkt)
	}

	d.timestamp += pkt.Timestamp
	branchAddr, err := d.stepBB(uint64(d.pc))
	if err != nil {
		return err
	}
	insn, _ := d.ix.Lookup(d.prv, d.ctx, branchAddr)
	if !insn.IsBranch {
		return desyncf("FNt at %#x, which is not a branch", branchAddr)
	}
	newPC := branchAddr + uint64(insn.Len)
	d.pc = wire.PC(newPC)
	d.bus.Publish(event.NonTakenBranch(d.timestamp, event.Arc{From: branchAddr, To: newPC}))
	return nil
}

func (d *Decoder) stepDirectJump(pkt *wire.Packet) error {
	if d.skipIfUnknownCtx() {
		d.timestamp += pkt.Timestamp
		return nil
	}
	d.timestamp += pkt.Timestamp
	jumpAddr, err := d.stepBB(uint64(d.pc))
	if err != nil {
		return err
	}
	insn, _ := d.ix.Lookup(d.prv, d.ctx, jumpAddr)
	if !insn.IsDirectJump {
		return desyncf("FIj at %#x, which is not a direct jump", jumpAddr)
	}
	newPC := wire.SignExtend(jumpAddr + uint64(insn.Offset))
	d.pc = wire.PC(newPC)
	d.bus.Publish(event.InferrableJump(d.timestamp, event.Arc{From: jumpAddr, To: newPC}))
	return nil
}

func (d *Decoder) stepIndirectJump(pkt *wire.Packet) error {
	if d.skipIfUnknownCtx() {
		d.timestamp += pkt.Timestamp
		return nil
	}
	d.timestamp += pkt.Timestamp
	jumpAddr, err := d.stepBB(uint64(d.pc))
	if err != nil {
		return err
	}
	insn, _ := d.ix.Lookup(d.prv, d.ctx, jumpAddr)
	if !insn.IsIndirectJump {
		return desyncf("FUj at %#x, which is not an indirect jump", jumpAddr)
	}
	newPC := wire.XORDecode(wire.PC(jumpAddr), pkt.TargetAddress)
	d.pc = newPC
	d.bus.Publish(event.UninferableJump(d.timestamp, event.Arc{From: jumpAddr, To: uint64(newPC)}))
	return nil
}

// stepPredictHit implements the FTb branch of BrPredict mode: the
// packet's timestamp field is a count of consecutive predicted-hit
// branches, not a delta.
func (d *Decoder) stepPredictHit(pkt *wire.Packet) error {
	hitCount := pkt.Timestamp
	d.bus.Publish(event.BPHit(d.timestamp, hitCount))
	d.stats.BPHit += hitCount

	for i := uint64(0); i < hitCount; i++ {
		branchAddr, err := d.stepBB(uint64(d.pc))
		if err != nil {
			return err
		}
		insn, _ := d.ix.Lookup(d.prv, d.ctx, branchAddr)
		if !insn.IsBranch {
			return desyncf("predict-mode FTb at %#x, which is not a branch", branchAddr)
		}
		taken := d.predictor.Predict(branchAddr, true)
		if taken {
			newPC := wire.SignExtend(branchAddr + uint64(insn.Offset))
			d.pc = wire.PC(newPC)
			d.bus.Publish(event.TakenBranch(d.timestamp, event.Arc{From: branchAddr, To: newPC}))
		} else {
			newPC := branchAddr + uint64(insn.Len)
			d.pc = wire.PC(newPC)
			d.bus.Publish(event.NonTakenBranch(d.timestamp, event.Arc{From: branchAddr, To: newPC}))
		}
	}
	return nil
}

// stepPredictMiss implements the FNt branch of BrPredict mode: the
// hardware's prediction was wrong, so the emitted outcome is the inverse
// of what the predictor now reports.
func (d *Decoder) stepPredictMiss(pkt *wire.Packet) error {
	d.timestamp += pkt.Timestamp
	d.bus.Publish(event.BPMiss(d.timestamp))
	d.stats.BPMiss++

	branchAddr, err := d.stepBB(uint64(d.pc))
	if err != nil {
		return err
	}
	insn, _ := d.ix.Lookup(d.prv, d.ctx, branchAddr)
	if !insn.IsBranch {
		return desyncf("predict-mode FNt at %#x, which is not a branch", branchAddr)
	}
	predicted := d.predictor.Predict(branchAddr, false)
	taken := !predicted
	if taken {
		newPC := wire.SignExtend(branchAddr + uint64(insn.Offset))
		d.pc = wire.PC(newPC)
		d.bus.Publish(event.TakenBranch(d.timestamp, event.Arc{From: branchAddr, To: newPC}))
	} else {
		newPC := branchAddr + uint64(insn.Len)
		d.pc = wire.PC(newPC)
		d.bus.Publish(event.NonTakenBranch(d.timestamp, event.Arc{From: branchAddr, To: newPC}))
	}
	return nil
}
