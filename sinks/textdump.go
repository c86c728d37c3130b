package sinks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
)

// textDumpSink writes every bus entry as one human-readable line, the
// way a developer would eyeball a trace while debugging a decode issue.
type textDumpSink struct {
	f *os.File
	w *bufio.Writer
}

func newTextDumpSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.txt"))
	if err != nil {
		return nil, err
	}
	return &textDumpSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *textDumpSink) Consume(e event.Entry) error {
	switch v := e.(type) {
	case event.Instruction:
		_, err := fmt.Fprintf(s.w, "%#x: %s\n", v.PC, v.Insn.Name)
		return err
	case event.Event:
		if v.Kind == event.KindBPHit {
			_, err := fmt.Fprintf(s.w, "[hit count: %d] BPHit\n", v.HitCount)
			return err
		}
		_, err := fmt.Fprintf(s.w, "[timestamp: %d] %s\n", v.Timestamp, v.Kind)
		return err
	default:
		return nil
	}
}

func (s *textDumpSink) Flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
