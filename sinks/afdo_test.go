package sinks

import (
	"bufio"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/wire"
)

func newTestAFDOSink(t *testing.T, rawOpts []byte) *afdoSink {
	t.Helper()
	s, err := newAFDOSink(&Shared{OutDir: t.TempDir()}, rawOpts)
	assert.NoError(t, err)
	return s.(*afdoSink)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestAFDOSinkRangeMapSpansFromLastArcToNextArc(t *testing.T) {
	s := newTestAFDOSink(t, nil)

	assert.NoError(t, s.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 0)))
	assert.NoError(t, s.Consume(event.TakenBranch(4, event.Arc{From: 0x1004, To: 0x1100})))
	assert.NoError(t, s.Consume(event.InferrableJump(8, event.Arc{From: 0x1104, To: 0x1200})))
	assert.NoError(t, s.Flush())

	lines := readLines(t, s.f.Name())
	assert.Equal(t, "2", lines[0])
	assert.Contains(t, lines, "1000-1100:1")
	assert.Contains(t, lines, "1100-1200:1")
	assert.Equal(t, "0", lines[3])
	assert.Equal(t, "2", lines[4])
	assert.Contains(t, lines, "1004->1100:1")
	assert.Contains(t, lines, "1104->1200:1")
}

func TestAFDOSinkSubtractsConfiguredELFStart(t *testing.T) {
	s := newTestAFDOSink(t, []byte(`{"elf_start": 4096}`))

	assert.NoError(t, s.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x2000, rv.PrvUser, 0)))
	assert.NoError(t, s.Consume(event.TakenBranch(4, event.Arc{From: 0x2004, To: 0x2100})))
	assert.NoError(t, s.Flush())

	out := strings.Join(readLines(t, s.f.Name()), "\n")
	assert.Contains(t, out, "1000-1100:1")
	assert.Contains(t, out, "1004->1100:1")
}

func TestAFDOSinkIncludesTrapArcs(t *testing.T) {
	s := newTestAFDOSink(t, nil)

	assert.NoError(t, s.Consume(event.SyncStart(0, wire.RuntimeCfg{}, 0x1000, rv.PrvUser, 0)))
	assert.NoError(t, s.Consume(event.Trap(4, event.TrapException, [2]rv.Prv{rv.PrvUser, rv.PrvSupervisor},
		event.Arc{From: 0x1004, To: 0x80000000}, event.Ctx{})))
	assert.NoError(t, s.Flush())

	out := strings.Join(readLines(t, s.f.Name()), "\n")
	assert.Contains(t, out, "1000-80000000:1")
	assert.Contains(t, out, "1004->80000000:1")
}
