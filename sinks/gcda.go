package sinks

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/unwind"
)

type gcdaArc struct {
	from, to uint64
}

// gcdaSink emits a gcov-compatible arc-count file built directly from the
// event stream. It is scoped down from the original gcno-cross-referenced
// design (see DESIGN.md): rather than merging into an external control-flow
// graph read from a .gcno file, it emits one counter section per function
// — keyed by whichever function is on top of the unwinder's stack when
// each branch/jump arc fires — which is the self-contained subset the
// event stream alone can support.
type gcdaSink struct {
	f *os.File
	w *bufio.Writer
	u *unwind.Unwinder

	order  []uint64 // function entry addresses, first-seen order
	counts map[uint64]map[gcdaArc]uint64
}

// Fixed-width record tags for the simplified counter section; not the
// real GCC gcda tag space, just enough structure for a consumer that
// already knows this module's output to walk the file.
const (
	gcdaMagic        uint32 = 0x67636461 // "gcda"
	gcdaFormatVer    uint32 = 1
	gcdaTagFunction  uint32 = 0x01000000
	gcdaTagArcCounts uint32 = 0x01a10000
)

func newGCDASink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.gcda"))
	if err != nil {
		return nil, err
	}
	return &gcdaSink{
		f:      f,
		w:      bufio.NewWriter(f),
		u:      unwind.New(shared.Symbols),
		counts: make(map[uint64]map[gcdaArc]uint64),
	}, nil
}

func (s *gcdaSink) currentFuncEntry() (uint64, bool) {
	frames := s.u.PeekAll()
	if len(frames) == 0 {
		return 0, false
	}
	return frames[len(frames)-1].Addr, true
}

func (s *gcdaSink) record(from, to uint64) {
	entry, ok := s.currentFuncEntry()
	if !ok {
		return
	}
	m, seen := s.counts[entry]
	if !seen {
		m = make(map[gcdaArc]uint64)
		s.counts[entry] = m
		s.order = append(s.order, entry)
	}
	m[gcdaArc{from, to}]++
}

func (s *gcdaSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	switch v.Kind {
	case event.KindTakenBranch, event.KindNonTakenBranch, event.KindInferrableJump, event.KindUninferableJump:
		s.record(v.Arc.From, v.Arc.To)
	}
	s.u.Consume(v)
	return nil
}

func (s *gcdaSink) Flush() error {
	if err := s.writeHeader(); err != nil {
		return err
	}
	for _, entry := range s.order {
		if err := s.writeFunction(entry, s.counts[entry]); err != nil {
			return err
		}
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

func (s *gcdaSink) writeHeader() error {
	for _, v := range []uint32{gcdaMagic, gcdaFormatVer, uint32(len(s.order))} {
		if err := binary.Write(s.w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *gcdaSink) writeFunction(entry uint64, arcs map[gcdaArc]uint64) error {
	if err := binary.Write(s.w, binary.LittleEndian, gcdaTagFunction); err != nil {
		return err
	}
	if err := binary.Write(s.w, binary.LittleEndian, entry); err != nil {
		return err
	}
	if err := binary.Write(s.w, binary.LittleEndian, gcdaTagArcCounts); err != nil {
		return err
	}
	if err := binary.Write(s.w, binary.LittleEndian, uint32(len(arcs))); err != nil {
		return err
	}
	for arc, count := range arcs {
		if err := binary.Write(s.w, binary.LittleEndian, arc.from); err != nil {
			return err
		}
		if err := binary.Write(s.w, binary.LittleEndian, arc.to); err != nil {
			return err
		}
		if err := binary.Write(s.w, binary.LittleEndian, count); err != nil {
			return err
		}
	}
	return nil
}
