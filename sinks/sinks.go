// Package sinks implements the consumers that subscribe to the decoded
// event bus and turn it into on-disk artifacts: text dumps, statistics,
// call-stack logs, flame graphs, and profile exporters.
package sinks

import (
	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/event"
	"github.com/rvtacit/tracedecoder/wire"
)

// Sink is the capability every consumer of the event bus implements.
// Consume is called once per bus entry, in order; Flush is called once,
// after the bus has closed, to let the sink finalize and write its
// output.
type Sink interface {
	Consume(event.Entry) error
	Flush() error
}

// Shared is the read-only context every sink factory gets: the indices
// built from the run's binaries, the output directory its artifacts
// should land in, and bookkeeping about the trace itself. None of it is
// owned by any one sink, hence "Shared" rather than threading separate
// constructor parameters through every factory.
type Shared struct {
	OutDir     string
	Symbols    *binimage.SymbolIndex
	Insns      *binimage.InstructionIndex
	RuntimeCfg wire.RuntimeCfg
	TraceSize  int64
}

// Factory builds a Sink from the shared run context and its own
// unparsed per-sink options (the corresponding value in
// Config.Receivers).
type Factory func(shared *Shared, rawOpts []byte) (Sink, error)

// Registry maps a sink name, as it appears in a config's "receivers"
// object, to the factory that builds it.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry pre-populated with every built-in sink.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("text", newTextDumpSink)
	r.Register("stats", newStatsSink)
	r.Register("privilege_time", newPrivilegeTimeSink)
	r.Register("bb_histogram", newBBHistogramSink)
	r.Register("call_stack", newCallStackSink)
	r.Register("speedscope", newSpeedscopeSink)
	r.Register("perfetto", newPerfettoSink)
	r.Register("afdo", newAFDOSink)
	r.Register("path_profile", newPathProfileSink)
	r.Register("atomics", newAtomicsSink)
	r.Register("gcda", newGCDASink)
	return r
}

// Register adds or overrides the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build looks up name and invokes its factory.
func (r *Registry) Build(name string, shared *Shared, rawOpts []byte) (Sink, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &UnknownSinkError{Name: name}
	}
	return f(shared, rawOpts)
}

// Names lists every sink name the registry knows, for --help text.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// UnknownSinkError is returned by Build for a name with no registered
// factory.
type UnknownSinkError struct {
	Name string
}

func (e *UnknownSinkError) Error() string {
	return "sinks: unknown sink " + e.Name
}
