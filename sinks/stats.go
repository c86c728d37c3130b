package sinks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/wire"
)

// statsSink accumulates whole-trace summary counters, grounded on the
// "how dense is this trace" question a developer asks right after
// capturing one: instruction/packet counts, predictor hit rate, and
// bits-per-instruction against the on-disk trace size.
type statsSink struct {
	f        *os.File
	w        *bufio.Writer
	fileSize int64

	runtimeCfg  wire.RuntimeCfg
	haveRuntime bool
	insnCount   uint64
	packetCount uint64
	hitCount    uint64
	missCount   uint64
}

func newStatsSink(shared *Shared, _ []byte) (Sink, error) {
	f, err := os.Create(filepath.Join(shared.OutDir, "trace.stats.txt"))
	if err != nil {
		return nil, err
	}
	return &statsSink{f: f, w: bufio.NewWriter(f), fileSize: shared.TraceSize}, nil
}

func (s *statsSink) Consume(e event.Entry) error {
	switch v := e.(type) {
	case event.Instruction:
		s.insnCount++
	case event.Event:
		s.packetCount++
		switch v.Kind {
		case event.KindSyncStart:
			s.runtimeCfg = v.RuntimeCfg
			s.haveRuntime = true
		case event.KindBPHit:
			if s.haveRuntime && s.runtimeCfg.BrMode == wire.BrPredict {
				s.hitCount += v.HitCount
			}
		case event.KindBPMiss:
			if s.haveRuntime && s.runtimeCfg.BrMode == wire.BrPredict {
				s.missCount++
			}
		}
	}
	return nil
}

func (s *statsSink) Flush() error {
	fmt.Fprintf(s.w, "instruction count: %d\n", s.insnCount)
	fmt.Fprintf(s.w, "packet count: %d\n", s.packetCount)
	if s.haveRuntime && s.runtimeCfg.BrMode == wire.BrPredict && s.hitCount+s.missCount > 0 {
		rate := float64(s.hitCount) / float64(s.hitCount+s.missCount) * 100.0
		fmt.Fprintf(s.w, "hit rate: %.2f%%\n", rate)
	}
	if s.insnCount > 0 && s.fileSize > 0 {
		bpi := float64(s.fileSize) * 8.0 / float64(s.insnCount)
		fmt.Fprintf(s.w, "bits per instruction: %.4f\n", bpi)
	}
	if s.fileSize > 0 {
		fmt.Fprintf(s.w, "trace payload size: %.2fKiB\n", float64(s.fileSize)/1024.0)
	}
	if s.packetCount > 0 && s.fileSize > 0 {
		bpp := float64(s.fileSize) * 8.0 / float64(s.packetCount)
		fmt.Fprintf(s.w, "bits per packet: %.4f\n", bpp)
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
