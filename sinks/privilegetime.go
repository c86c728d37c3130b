package sinks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
)

// privilegeTimeSink answers "how many cycles were spent in each
// privilege level": it charges every timestamp delta to whichever
// privilege was active at its start.
type privilegeTimeSink struct {
	f *os.File
	w *bufio.Writer

	currPrv       rv.Prv
	prevTimestamp uint64
	cycles        [4]uint64 // indexed by rv.Prv
}

func newPrivilegeTimeSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.prv_breakdown.txt"))
	if err != nil {
		return nil, err
	}
	return &privilegeTimeSink{f: f, w: bufio.NewWriter(f), currPrv: rv.PrvUser}, nil
}

func (s *privilegeTimeSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	switch v.Kind {
	case event.KindSyncStart:
		s.currPrv = v.StartPrv
		s.prevTimestamp = v.Timestamp
	case event.KindTrap:
		s.charge(v.Timestamp)
		s.currPrv = v.PrvArc[1]
	default:
		s.charge(v.Timestamp)
	}
	return nil
}

func (s *privilegeTimeSink) charge(ts uint64) {
	if ts < s.prevTimestamp {
		return
	}
	s.cycles[s.currPrv] += ts - s.prevTimestamp
	s.prevTimestamp = ts
}

func (s *privilegeTimeSink) Flush() error {
	total := s.cycles[rv.PrvUser] + s.cycles[rv.PrvSupervisor] + s.cycles[rv.PrvMachine]
	pct := func(c uint64) float64 {
		if total == 0 {
			return 0
		}
		return float64(c) / float64(total) * 100.0
	}
	fmt.Fprintf(s.w, "User privilege level cycles: %d (%.2f%%)\n", s.cycles[rv.PrvUser], pct(s.cycles[rv.PrvUser]))
	fmt.Fprintf(s.w, "Supervisor privilege level cycles: %d (%.2f%%)\n", s.cycles[rv.PrvSupervisor], pct(s.cycles[rv.PrvSupervisor]))
	fmt.Fprintf(s.w, "Machine privilege level cycles: %d (%.2f%%)\n", s.cycles[rv.PrvMachine], pct(s.cycles[rv.PrvMachine]))
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
