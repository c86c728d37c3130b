package pipeline

import (
	"fmt"
	"io"

	"github.com/rvtacit/tracedecoder/binimage"
	"github.com/rvtacit/tracedecoder/rv"
)

// writeSymbolIndex renders the built symbol index in the plain
// "addr prv ctx name file:line" form `--dump-symbol-index` promises,
// one privilege table at a time.
func writeSymbolIndex(w io.Writer, symbols *binimage.SymbolIndex) error {
	dump := func(prv rv.Prv, ctx uint64) error {
		addrs, infos := symbols.AllAddrs(prv, ctx)
		for i, addr := range addrs {
			info := infos[i]
			loc := "?"
			if info.Src.File != "" {
				loc = fmt.Sprintf("%s:%d", info.Src.File, info.Src.Lines)
			}
			if _, err := fmt.Fprintf(w, "%#016x %s %d %s %s\n", addr, prv, ctx, info.Name, loc); err != nil {
				return err
			}
		}
		return nil
	}

	if err := dump(rv.PrvMachine, 0); err != nil {
		return err
	}
	if err := dump(rv.PrvSupervisor, 0); err != nil {
		return err
	}
	for _, asid := range symbols.UserASIDs() {
		if err := dump(rv.PrvUser, asid); err != nil {
			return err
		}
	}
	return nil
}
