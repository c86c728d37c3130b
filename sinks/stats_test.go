package sinks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/wire"
)

func newTestStatsSink(t *testing.T, traceSize int64) *statsSink {
	t.Helper()
	s, err := newStatsSink(&Shared{OutDir: t.TempDir(), TraceSize: traceSize}, nil)
	assert.NoError(t, err)
	return s.(*statsSink)
}

func TestStatsSinkCountsInstructionsAndPackets(t *testing.T) {
	s := newTestStatsSink(t, 0)

	assert.NoError(t, s.Consume(event.Instruction{}))
	assert.NoError(t, s.Consume(event.Instruction{}))
	assert.NoError(t, s.Consume(event.SyncPeriodic(1)))
	assert.NoError(t, s.Flush())

	out, err := os.ReadFile(s.f.Name())
	assert.NoError(t, err)
	assert.Contains(t, string(out), "instruction count: 2\n")
	assert.Contains(t, string(out), "packet count: 1\n")
	assert.NotContains(t, string(out), "hit rate")
}

func TestStatsSinkComputesHitRateOnlyInPredictMode(t *testing.T) {
	s := newTestStatsSink(t, 0)

	assert.NoError(t, s.Consume(event.SyncStart(0, wire.RuntimeCfg{BrMode: wire.BrPredict}, 0, 0, 0)))
	assert.NoError(t, s.Consume(event.BPHit(0, 3)))
	assert.NoError(t, s.Consume(event.BPMiss(0)))
	assert.NoError(t, s.Flush())

	out, err := os.ReadFile(s.f.Name())
	assert.NoError(t, err)
	assert.Contains(t, string(out), "hit rate: 75.00%\n")
}

func TestStatsSinkSkipsHitRateUnderBrTarget(t *testing.T) {
	s := newTestStatsSink(t, 0)

	assert.NoError(t, s.Consume(event.SyncStart(0, wire.RuntimeCfg{BrMode: wire.BrTarget}, 0, 0, 0)))
	assert.NoError(t, s.Consume(event.BPHit(0, 3)))
	assert.NoError(t, s.Flush())

	out, err := os.ReadFile(s.f.Name())
	assert.NoError(t, err)
	assert.NotContains(t, string(out), "hit rate")
}

func TestStatsSinkReportsBitsPerInstructionAndPacket(t *testing.T) {
	s := newTestStatsSink(t, 1024)

	assert.NoError(t, s.Consume(event.Instruction{}))
	assert.NoError(t, s.Consume(event.Instruction{}))
	assert.NoError(t, s.Consume(event.SyncPeriodic(1)))
	assert.NoError(t, s.Flush())

	out, err := os.ReadFile(s.f.Name())
	assert.NoError(t, err)
	lines := strings.Split(string(out), "\n")
	assert.Contains(t, lines, "bits per instruction: 4096.0000")
	assert.Contains(t, lines, "bits per packet: 8192.0000")
	assert.Contains(t, lines, "trace payload size: 1.00KiB")
}

func TestStatsSinkWritesToDefaultOutFile(t *testing.T) {
	s := newTestStatsSink(t, 0)
	assert.NoError(t, s.Flush())
	assert.Equal(t, "trace.stats.txt", filepath.Base(s.f.Name()))
}
