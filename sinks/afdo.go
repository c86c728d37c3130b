package sinks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
)

type addrRange struct{ from, to uint64 }

// afdoSink accumulates the two tables AutoFDO's create_gcov wants: basic
// block execution ranges and direct edge-taken counts, both addressed
// relative to the binary's load address so the output is reusable
// across runs.
type afdoSink struct {
	f        *os.File
	w        *bufio.Writer
	elfStart uint64

	rangeMap  map[addrRange]uint64
	branchMap map[addrRange]uint64
	prevTo    uint64
}

type afdoOpts struct {
	ELFStart uint64 `json:"elf_start"`
}

func newAFDOSink(shared *Shared, rawOpts []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.afdo.txt"))
	if err != nil {
		return nil, err
	}
	var opts afdoOpts
	_ = parseOpts(rawOpts, &opts)
	return &afdoSink{
		f:         f,
		w:         bufio.NewWriter(f),
		elfStart:  opts.ELFStart,
		rangeMap:  make(map[addrRange]uint64),
		branchMap: make(map[addrRange]uint64),
	}, nil
}

func (s *afdoSink) update(from, to uint64) {
	s.rangeMap[addrRange{s.prevTo, to}]++
	s.branchMap[addrRange{from, to}]++
	s.prevTo = to
}

func (s *afdoSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	switch v.Kind {
	case event.KindSyncStart:
		s.prevTo = v.StartPC
	case event.KindTakenBranch, event.KindInferrableJump, event.KindUninferableJump, event.KindTrap:
		s.update(v.Arc.From, v.Arc.To)
	}
	return nil
}

func (s *afdoSink) Flush() error {
	fmt.Fprintf(s.w, "%d\n", len(s.rangeMap))
	for r, count := range s.rangeMap {
		fmt.Fprintf(s.w, "%x-%x:%d\n", r.from-s.elfStart, r.to-s.elfStart, count)
	}
	fmt.Fprint(s.w, "0\n")
	fmt.Fprintf(s.w, "%d\n", len(s.branchMap))
	for r, count := range s.branchMap {
		fmt.Fprintf(s.w, "%x->%x:%d\n", r.from-s.elfStart, r.to-s.elfStart, count)
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
