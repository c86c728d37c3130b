// Command tracedecoder reconstructs the instruction-level execution
// history of a RISC-V target from a compact packet trace and fans the
// reconstructed event stream out to the sinks named in its config file.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rvtacit/tracedecoder/config"
	"github.com/rvtacit/tracedecoder/internal/pipeline"
	"github.com/rvtacit/tracedecoder/sinks"
	"github.com/rvtacit/tracedecoder/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath    string
		dumpSymbolsTo string
		headerOnly    bool
		outDir        string
		busCapacity   int
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "tracedecoder",
		Short: "Replay a RISC-V packet trace into a decoded event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if headerOnly {
				return runHeaderOnly(cfg, log)
			}

			registry := sinks.NewRegistry()
			result, err := pipeline.Run(cfg, registry, pipeline.Options{
				OutDir:        outDir,
				BusCapacity:   busCapacity,
				DumpSymbolsTo: dumpSymbolsTo,
				Log:           log,
			})
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"packets":      result.Stats.Packets,
				"instructions": result.Stats.Instructions,
			}).Info("decode complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the run's JSON config file (required)")
	cmd.Flags().StringVar(&dumpSymbolsTo, "dump-symbol-index", "", "write the built symbol index to this path and continue")
	cmd.Flags().BoolVar(&headerOnly, "header-only", false, "print the parsed first packet and runtime config, then exit")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory sink output files are written under")
	cmd.Flags().IntVar(&busCapacity, "bus-capacity", 0, "event bus bounded capacity (0 = default)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// runHeaderOnly parses only the trace's first packet (per §6.3, a
// diagnostic path that never touches the binary images) and prints its
// sync fields and runtime configuration.
func runHeaderOnly(cfg *config.Config, log logrus.FieldLogger) error {
	f, err := os.Open(cfg.EncodedTrace)
	if err != nil {
		return err
	}
	defer f.Close()

	rd := wire.NewReader(f)
	var pkt wire.Packet
	if _, err := rd.Next(&pkt); err != nil {
		return err
	}
	if pkt.FHeader != wire.FSync || pkt.SyncType != wire.SyncStart {
		return fmt.Errorf("first packet is not FSync(Start)")
	}

	fmt.Printf("start_pc:  %#x\n", wire.Refund(pkt.TargetAddress))
	fmt.Printf("start_prv: %s\n", pkt.TargetPrv)
	fmt.Printf("start_ctx: %d\n", pkt.TargetCtx)
	fmt.Printf("timestamp: %d\n", pkt.Timestamp)
	fmt.Printf("br_mode:   %s\n", pkt.RuntimeCfg.BrMode)
	fmt.Printf("bp_entries: %d\n", pkt.RuntimeCfg.BpEntries)
	return nil
}
