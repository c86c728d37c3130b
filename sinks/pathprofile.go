package sinks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aclements/go-moremath/stats"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/unwind"
)

type execPath struct {
	entryPoint uint64
	name       string
	branches   string // "1"/"0" per taken/not-taken branch on this path
}

func (p execPath) key() string {
	return fmt.Sprintf("%s-%#x-%s", p.name, p.entryPoint, p.branches)
}

type pathStats struct {
	durations []float64
}

func (s *pathStats) update(d uint64) {
	s.durations = append(s.durations, float64(d))
}

// pathProfileSink groups execution time by the exact taken/not-taken
// branch sequence inside one call, the supplemented counterpart to the
// basic-block histogram: two runs through the same function that take
// different branches at runtime are kept as distinct paths rather than
// averaged together.
type pathProfileSink struct {
	f *os.File

	u       *unwind.Unwinder
	records map[string]*pathStats
	paths   map[string]execPath

	current      *execPath
	currentStart uint64
}

func newPathProfileSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.path_profile.csv"))
	if err != nil {
		return nil, err
	}
	return &pathProfileSink{
		f:       f,
		u:       unwind.New(shared.Symbols),
		records: make(map[string]*pathStats),
		paths:   make(map[string]execPath),
	}, nil
}

func (s *pathProfileSink) recordBranch(taken bool) {
	if s.current == nil {
		return
	}
	if taken {
		s.current.branches += "1"
	} else {
		s.current.branches += "0"
	}
}

func (s *pathProfileSink) dumpCurrent(end uint64) {
	if s.current == nil {
		return
	}
	p := *s.current
	d := end - s.currentStart
	k := p.key()
	st, ok := s.records[k]
	if !ok {
		st = &pathStats{}
		s.records[k] = st
		s.paths[k] = p
	}
	st.update(d)
	s.current = nil
	s.currentStart = 0
}

func (s *pathProfileSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	switch v.Kind {
	case event.KindTakenBranch:
		s.recordBranch(true)
	case event.KindNonTakenBranch:
		s.recordBranch(false)
	}

	upd := s.u.Consume(v)
	switch {
	case len(upd.Closed) > 0:
		s.dumpCurrent(v.Timestamp)
		if frames := s.u.PeekAll(); len(frames) > 0 {
			top := frames[len(frames)-1]
			s.current = &execPath{name: top.Symbol + "-dirty", entryPoint: top.Addr}
			s.currentStart = v.Timestamp
		}
	case len(upd.Opened) > 0:
		top := upd.Opened[len(upd.Opened)-1]
		s.current = &execPath{name: top.Symbol, entryPoint: top.Addr}
		s.currentStart = v.Timestamp
	}
	return nil
}

func (s *pathProfileSink) Flush() error {
	var b strings.Builder
	b.WriteString("count,mean,netvar,path\n")
	for k, st := range s.records {
		sample := stats.Sample{Xs: st.durations}
		min, _ := sample.Bounds()
		var sum float64
		for _, d := range st.durations {
			sum += d
		}
		netVar := sum - min*float64(len(st.durations))
		fmt.Fprintf(&b, "%d, %g, %g, %s\n", len(st.durations), sample.Mean(), netVar, s.paths[k].key())
	}
	if _, err := s.f.WriteString(b.String()); err != nil {
		return err
	}
	return s.f.Close()
}
