package sinks

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aclements/go-moremath/stats"

	"github.com/rvtacit/tracedecoder/event"
)

type bb struct {
	start, end uint64
}

// bbHistogramSink buckets basic-block execution by (start,end) address
// pair and records the interval since the previous block boundary, so
// the output answers "how many cycles did this block typically take."
type bbHistogramSink struct {
	f       *os.File
	w       *csv.Writer
	records map[bb][]uint64

	prevAddr      uint64
	prevTimestamp uint64
}

func newBBHistogramSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.bb_stats.csv"))
	if err != nil {
		return nil, err
	}
	return &bbHistogramSink{f: f, w: csv.NewWriter(f), records: make(map[bb][]uint64)}, nil
}

func (s *bbHistogramSink) Consume(e event.Entry) error {
	v, ok := e.(event.Event)
	if !ok {
		return nil
	}
	switch v.Kind {
	case event.KindSyncStart:
		s.prevAddr = v.StartPC
		s.prevTimestamp = v.Timestamp
	case event.KindInferrableJump, event.KindUninferableJump, event.KindTakenBranch, event.KindNonTakenBranch:
		s.record(v.Arc.From, v.Arc.To, v.Timestamp)
	case event.KindTrap:
		// the block ending at the trap's source address is dropped, but
		// the boundary still advances so the next block doesn't absorb
		// the trapped interval.
		s.prevAddr = v.Arc.To
		s.prevTimestamp = v.Timestamp
	}
	return nil
}

func (s *bbHistogramSink) record(from, to, ts uint64) {
	block := bb{start: s.prevAddr, end: from}
	s.records[block] = append(s.records[block], ts-s.prevTimestamp)
	s.prevAddr = to
	s.prevTimestamp = ts
}

func (s *bbHistogramSink) Flush() error {
	if err := s.w.Write([]string{"count", "mean", "netvar", "bb"}); err != nil {
		return err
	}
	for block, intervals := range s.records {
		if len(intervals) == 0 {
			continue
		}
		xs := make([]float64, len(intervals))
		var sum float64
		for i, v := range intervals {
			xs[i] = float64(v)
			sum += float64(v)
		}
		sample := stats.Sample{Xs: xs}
		min, _ := sample.Bounds()
		netvar := sum - min*float64(len(intervals))
		row := []string{
			fmt.Sprintf("%d", len(intervals)),
			fmt.Sprintf("%g", sample.Mean()),
			fmt.Sprintf("%g", netvar),
			fmt.Sprintf("%#x-%#x", block.start, block.end),
		}
		if err := s.w.Write(row); err != nil {
			return err
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.f.Close()
}
