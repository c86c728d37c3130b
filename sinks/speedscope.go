package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/unwind"
)

type speedscopeFrame struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line uint32 `json:"line,omitempty"`
}

type speedscopeEvent struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
	At    uint64 `json:"at"`
}

type speedscopeProfile struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Unit       string            `json:"unit"`
	StartValue uint64            `json:"startValue"`
	EndValue   uint64            `json:"endValue"`
	Events     []speedscopeEvent `json:"events"`
}

type speedscopeDoc struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Shared  struct {
		Frames []speedscopeFrame `json:"frames"`
	} `json:"shared"`
	Profiles []speedscopeProfile `json:"profiles"`
}

// speedscopeSink builds a speedscope.app "evented" profile: one frame per
// known function, open/close events driven by the unwinder's push/pop
// stream.
type speedscopeSink struct {
	f *os.File

	frames      []speedscopeFrame
	userLookup  map[uint64]map[uint64]int
	kernelLkup  map[uint64]int
	machineLkup map[uint64]int

	u          *unwind.Unwinder
	start, end uint64
	events     []speedscopeEvent
}

func newSpeedscopeSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.speedscope.json"))
	if err != nil {
		return nil, err
	}
	s := &speedscopeSink{
		f:           f,
		userLookup:  make(map[uint64]map[uint64]int),
		kernelLkup:  make(map[uint64]int),
		machineLkup: make(map[uint64]int),
		u:           unwind.New(shared.Symbols),
	}
	s.buildFrames(shared.Symbols)
	return s, nil
}

func (s *speedscopeSink) addFrame(prefix string, addr uint64, info binimage.SymbolInfo, lookup map[uint64]int) {
	id := len(s.frames)
	s.frames = append(s.frames, speedscopeFrame{
		Name: fmt.Sprintf("%s:%s", prefix, info.Name),
		File: info.Src.File,
		Line: info.Src.Lines,
	})
	lookup[addr] = id
}

func (s *speedscopeSink) buildFrames(sx *binimage.SymbolIndex) {
	addrs, infos := sx.AllAddrs(rv.PrvSupervisor, 0)
	for i, addr := range addrs {
		s.addFrame("k", addr, infos[i], s.kernelLkup)
	}
	addrs, infos = sx.AllAddrs(rv.PrvMachine, 0)
	for i, addr := range addrs {
		s.addFrame("m", addr, infos[i], s.machineLkup)
	}
	for _, asid := range sx.UserASIDs() {
		lookup := make(map[uint64]int)
		addrs, infos = sx.AllAddrs(rv.PrvUser, asid)
		for i, addr := range addrs {
			s.addFrame(fmt.Sprintf("%d", asid), addr, infos[i], lookup)
		}
		s.userLookup[asid] = lookup
	}
}

func (s *speedscopeSink) lookupFrame(fr unwind.Frame) (int, bool) {
	switch fr.Prv {
	case rv.PrvUser:
		lookup, ok := s.userLookup[fr.Ctx]
		if !ok {
			return 0, false
		}
		id, ok := lookup[fr.Addr]
		return id, ok
	case rv.PrvSupervisor, rv.PrvHypervisor:
		id, ok := s.kernelLkup[fr.Addr]
		return id, ok
	default:
		id, ok := s.machineLkup[fr.Addr]
		return id, ok
	}
}

func (s *speedscopeSink) recordUpdate(ts uint64, upd unwind.Update) {
	for _, fr := range upd.Closed {
		if id, ok := s.lookupFrame(fr); ok {
			s.events = append(s.events, speedscopeEvent{Type: "C", Frame: id, At: ts})
		}
	}
	for _, fr := range upd.Opened {
		if id, ok := s.lookupFrame(fr); ok {
			s.events = append(s.events, speedscopeEvent{Type: "O", Frame: id, At: ts})
		}
	}
}

func (s *speedscopeSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	switch v.Kind {
	case event.KindSyncStart:
		s.start = v.Timestamp
	case event.KindSyncEnd:
		s.end = v.Timestamp
	}
	upd := s.u.Consume(v)
	s.recordUpdate(v.Timestamp, upd)
	return nil
}

func (s *speedscopeSink) Flush() error {
	if s.end == 0 && len(s.events) > 0 {
		s.end = s.events[len(s.events)-1].At
	}
	if upd := s.u.Flush(); len(upd.Closed) > 0 {
		s.recordUpdate(s.end, upd)
	}

	doc := speedscopeDoc{Version: "0.0.1", Schema: "https://www.speedscope.app/file-format-schema.json"}
	doc.Shared.Frames = s.frames
	doc.Profiles = []speedscopeProfile{{
		Name:       "tacit",
		Type:       "evented",
		Unit:       "none",
		StartValue: s.start,
		EndValue:   s.end,
		Events:     s.events,
	}}

	enc := json.NewEncoder(s.f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return s.f.Close()
}
