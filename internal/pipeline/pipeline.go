// Package pipeline wires the config-described run into a decoder
// goroutine fanning out over the event bus to one goroutine per
// configured sink, and reports the first fatal error.
package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/config"
	"github.com/rvtacit/tracedecoder/decoder"
	"github.com/rvtacit/tracedecoder/eventbus"
	"github.com/rvtacit/tracedecoder/sinks"
	"github.com/rvtacit/tracedecoder/wire"
)

// Options controls a Run beyond what the config file says.
type Options struct {
	OutDir        string
	BusCapacity   int
	DumpSymbolsTo string
	Log           logrus.FieldLogger
}

// Result carries the summary a caller (the CLI, tests) may want to print.
type Result struct {
	Stats decoder.Stats
}

// Run builds the instruction/symbol indices from cfg, then decodes
// cfg.EncodedTrace against them, driving every sink named in
// cfg.Receivers to completion. It returns the decoder's fatal error, if
// any. A sink that errors is logged and stops on its own; it does not stop
// the others or make Run return an error (§7 policy).
func Run(cfg *config.Config, registry *sinks.Registry, opts Options) (Result, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}

	buildCfg := binimage.BuildConfig{
		MachineBinary:           cfg.MachineBinary,
		KernelBinary:            cfg.KernelBinary,
		KernelJumpLabelPatchLog: cfg.KernelJumpLabelPatchLog,
	}
	for _, ub := range cfg.UserBinaries {
		buildCfg.UserBinaries = append(buildCfg.UserBinaries, binimage.UserBinary{Path: ub.Path, ASID: ub.ASID})
	}
	for _, db := range cfg.DriverBinaries {
		buildCfg.DriverBinaries = append(buildCfg.DriverBinaries, binimage.DriverBinary{Path: db.Path, Entry: db.Entry})
	}

	logf := func(format string, args ...any) { log.Warnf(format, args...) }
	insns, symbols, err := binimage.Build(buildCfg, logf)
	if err != nil {
		return Result{}, errors.Wrap(err, "building binary image indices")
	}

	if opts.DumpSymbolsTo != "" {
		if err := dumpSymbolIndex(symbols, opts.DumpSymbolsTo); err != nil {
			return Result{}, errors.Wrap(err, "dumping symbol index")
		}
	}

	traceFile, err := os.Open(cfg.EncodedTrace)
	if err != nil {
		return Result{}, errors.Wrap(err, "opening encoded trace")
	}
	defer traceFile.Close()

	traceSize := int64(0)
	if fi, err := traceFile.Stat(); err == nil {
		traceSize = fi.Size()
	}

	bus := eventbus.New(opts.BusCapacity)
	rd := wire.NewReader(traceFile)
	dec := decoder.New(insns, rd, bus, log.WithField("component", "decoder"))

	shared := &sinks.Shared{
		OutDir:    opts.OutDir,
		Symbols:   symbols,
		Insns:     insns,
		TraceSize: traceSize,
	}

	built, err := buildSinks(registry, cfg, shared)
	if err != nil {
		return Result{}, err
	}

	// Every sink must subscribe before the decoder starts publishing, or a
	// sink joining mid-stream would miss everything published before its
	// Subscribe call (including the mandatory SyncStart).
	var g errgroup.Group
	for name, sink := range built {
		name, sink := name, sink
		sub := bus.Subscribe()
		g.Go(func() error {
			defer bus.Unsubscribe(sub)
			if err := runSink(sink, sub); err != nil {
				log.WithField("sink", name).WithError(err).Error("sink terminated early")
				return nil
			}
			return nil
		})
	}
	g.Go(func() error {
		return dec.Run()
	})

	if err := g.Wait(); err != nil {
		return Result{Stats: dec.Stats()}, err
	}
	return Result{Stats: dec.Stats()}, nil
}

func buildSinks(registry *sinks.Registry, cfg *config.Config, shared *sinks.Shared) (map[string]sinks.Sink, error) {
	built := make(map[string]sinks.Sink, len(cfg.Receivers))
	for name, raw := range cfg.Receivers {
		var enabled struct {
			Enabled *bool `json:"enabled"`
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &enabled)
		}
		if enabled.Enabled != nil && !*enabled.Enabled {
			continue
		}
		sink, err := registry.Build(name, shared, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "configuring sink %q", name)
		}
		built[name] = sink
	}
	return built, nil
}

// runSink drives one sink's consumer loop to bus closure, then flushes it.
// A Consume error from the sink is fatal to that sink only, per §7.
func runSink(sink sinks.Sink, sub *eventbus.Subscriber) error {
	for {
		e, ok := sub.Next()
		if !ok {
			return sink.Flush()
		}
		if err := sink.Consume(e); err != nil {
			return errors.Wrap(err, "consuming event")
		}
	}
}

func dumpSymbolIndex(symbols *binimage.SymbolIndex, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeSymbolIndex(f, symbols)
}
