package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/unwind"
)

type perfettoArgs struct {
	Addr string `json:"addr,omitempty"`
	Prv  string `json:"prv,omitempty"`
	File string `json:"file,omitempty"`
	Line uint32 `json:"line,omitempty"`
}

type perfettoEvent struct {
	Name string       `json:"name"`
	Cat  string       `json:"cat"`
	Ph   string       `json:"ph"`
	TS   uint64       `json:"ts"`
	PID  int          `json:"pid"`
	TID  int          `json:"tid"`
	Args perfettoArgs `json:"args"`
}

// perfettoSink emits a Chrome/Perfetto trace-event document, a flame
// graph that opens directly in a browser, driven by the same unwinder
// push/pop stream as the speedscope exporter.
type perfettoSink struct {
	f *os.File

	u         *unwind.Unwinder
	events    []perfettoEvent
	startTS   uint64
	haveStart bool
	endTS     uint64
	haveEnd   bool
	lastTS    uint64
}

func newPerfettoSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.perfetto.json"))
	if err != nil {
		return nil, err
	}
	return &perfettoSink{f: f, u: unwind.New(shared.Symbols)}, nil
}

func (s *perfettoSink) emitBegin(ts uint64, fr unwind.Frame) {
	s.events = append(s.events, perfettoEvent{
		Name: fr.Symbol, Cat: "function", Ph: "B", TS: ts,
		Args: perfettoArgs{Addr: fmt.Sprintf("%#x", fr.Addr), Prv: fr.Prv.String()},
	})
}

func (s *perfettoSink) emitEnd(ts uint64, fr unwind.Frame) {
	s.events = append(s.events, perfettoEvent{Name: fr.Symbol, Cat: "function", Ph: "E", TS: ts})
}

func (s *perfettoSink) drain(ts uint64, upd unwind.Update) {
	for _, fr := range upd.Closed {
		s.emitEnd(ts, fr)
	}
	for _, fr := range upd.Opened {
		s.emitBegin(ts, fr)
	}
}

func (s *perfettoSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	s.lastTS = v.Timestamp
	switch v.Kind {
	case event.KindSyncStart:
		if !s.haveStart {
			s.startTS, s.haveStart = v.Timestamp, true
		}
	case event.KindSyncEnd:
		s.endTS, s.haveEnd = v.Timestamp, true
	}
	s.drain(v.Timestamp, s.u.Consume(v))
	return nil
}

func (s *perfettoSink) Flush() error {
	finalTS := s.lastTS
	if s.haveEnd {
		finalTS = s.endTS
	} else if s.haveStart {
		finalTS = s.startTS
	}
	s.drain(finalTS, s.u.Flush())

	doc := struct {
		TraceEvents []perfettoEvent `json:"traceEvents"`
	}{TraceEvents: s.events}

	enc := json.NewEncoder(s.f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return s.f.Close()
}
