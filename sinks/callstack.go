package sinks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/unwind"
)

// callStackSink logs every push/pop the unwinder reports alongside a
// snapshot of the stack at that moment, useful for eyeballing whether a
// trace's call structure looks sane.
type callStackSink struct {
	f *os.File
	w *bufio.Writer
	u *unwind.Unwinder
}

func newCallStackSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.stack.txt"))
	if err != nil {
		return nil, err
	}
	return &callStackSink{f: f, w: bufio.NewWriter(f), u: unwind.New(shared.Symbols)}, nil
}

func (s *callStackSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	fmt.Fprintf(s.w, "[ts %d] %s\n", v.Timestamp, v.Kind)
	upd := s.u.Consume(v)
	for _, f := range upd.Closed {
		fmt.Fprintf(s.w, "[ts %d] pop %s :: %s @ %#x\n", v.Timestamp, f.Prv, f.Symbol, f.Addr)
	}
	for _, f := range upd.Opened {
		fmt.Fprintf(s.w, "[ts %d] push %s :: %s @ %#x\n", v.Timestamp, f.Prv, f.Symbol, f.Addr)
	}
	if len(upd.Closed) > 0 || len(upd.Opened) > 0 {
		s.dumpStack()
	}
	return nil
}

func (s *callStackSink) dumpStack() {
	frames := s.u.PeekAll()
	fmt.Fprintf(s.w, "  Stack (size: %d)\n", len(frames))
	for _, f := range frames {
		fmt.Fprintf(s.w, "    %s :: %s @ %#x\n", f.Prv, f.Symbol, f.Addr)
	}
	fmt.Fprintln(s.w)
}

func (s *callStackSink) Flush() error {
	s.u.Flush()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
