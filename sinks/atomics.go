package sinks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/unwind"
)

// atomicsSink logs every load-reserved/store-conditional or AMO
// instruction together with the call stack active at that point —
// useful for auditing lock-free code paths a trace exercised.
type atomicsSink struct {
	f      *os.File
	w      *bufio.Writer
	u      *unwind.Unwinder
	lastTS uint64
}

func newAtomicsSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.atomics.txt"))
	if err != nil {
		return nil, err
	}
	return &atomicsSink{f: f, w: bufio.NewWriter(f), u: unwind.New(shared.Symbols)}, nil
}

func isAtomicInsn(name string) bool {
	return strings.HasPrefix(name, "lr.") || strings.HasPrefix(name, "sc.") || strings.HasPrefix(name, "amo")
}

func (s *atomicsSink) Consume(e event.Entry) error {
	switch v := e.(type) {
	case event.Instruction:
		if isAtomicInsn(v.Insn.Name) {
			fmt.Fprintf(s.w, "[%10d] %#08x: %s\n", s.lastTS, v.PC, v.Insn.Name)
			s.writeStackSnapshot()
		}
	case event.Event:
		s.lastTS = v.Timestamp
		s.u.Consume(v)
	}
	return nil
}

func (s *atomicsSink) writeStackSnapshot() {
	fmt.Fprintln(s.w, "  Call stack:")
	for _, f := range s.u.PeekAll() {
		fmt.Fprintf(s.w, "    %s :: %s @ %#x\n", f.Prv, f.Symbol, f.Addr)
	}
	fmt.Fprintln(s.w)
}

func (s *atomicsSink) Flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
