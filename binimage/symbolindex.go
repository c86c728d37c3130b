package binimage

import (
	"debug/dwarf"
	"debug/elf"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rvtacit/tracedecoder/rv"
)

// SourceLocation is the best-effort DWARF line attribution for a symbol.
// File is empty when no DWARF line info was found.
type SourceLocation struct {
	File  string
	Lines uint32
	Prv   rv.Prv
}

// SymbolInfo is everything the symbol index knows about a function entry.
type SymbolInfo struct {
	Name string
	Src  SourceLocation
	Prv  rv.Prv
	Ctx  uint64
}

// SymbolIndex is the per-privilege, per-ASID ordered map from function
// entry to SymbolInfo, built once and read-only thereafter.
type SymbolIndex struct {
	userMaps   map[uint64][]symbolEnt // keyed by asid, sorted by addr
	kernelMap  []symbolEnt
	machineMap []symbolEnt
	emptyMap   []symbolEnt
}

type symbolEnt struct {
	addr uint64
	info SymbolInfo
}

// entries returns the sorted symbol table for (prv, ctx). Supervisor and
// Machine ignore ctx; User requires an indexed ASID or returns the empty
// table.
func (ix *SymbolIndex) entries(prv rv.Prv, ctx uint64) []symbolEnt {
	switch prv {
	case rv.PrvUser:
		if m, ok := ix.userMaps[ctx]; ok {
			return m
		}
		return ix.emptyMap
	case rv.PrvSupervisor, rv.PrvHypervisor:
		return ix.kernelMap
	case rv.PrvMachine:
		return ix.machineMap
	default:
		return ix.emptyMap
	}
}

// Lookup reports whether addr is a known function entry in (prv, ctx),
// and if so its SymbolInfo.
func (ix *SymbolIndex) Lookup(prv rv.Prv, ctx uint64, addr uint64) (SymbolInfo, bool) {
	ents := ix.entries(prv, ctx)
	i := sort.Search(len(ents), func(i int) bool { return ents[i].addr >= addr })
	if i < len(ents) && ents[i].addr == addr {
		return ents[i].info, true
	}
	return SymbolInfo{}, false
}

// Range returns the half-open address range [start, next_start) of the
// function beginning at addr, where next_start is math.MaxUint64 if addr
// names the last symbol in the table.
func (ix *SymbolIndex) Range(prv rv.Prv, ctx uint64, addr uint64) (lo, hi uint64, ok bool) {
	ents := ix.entries(prv, ctx)
	i := sort.Search(len(ents), func(i int) bool { return ents[i].addr >= addr })
	if i >= len(ents) || ents[i].addr != addr {
		return 0, 0, false
	}
	if i+1 < len(ents) {
		return addr, ents[i+1].addr, true
	}
	return addr, ^uint64(0), true
}

// All returns every SymbolInfo indexed for (prv, ctx), in address order,
// without the addresses (see AllAddrs). Used by sinks that build a flat frame table up front
// (flame-graph exporters) rather than looking symbols up on demand.
func (ix *SymbolIndex) All(prv rv.Prv, ctx uint64) []SymbolInfo {
	ents := ix.entries(prv, ctx)
	out := make([]SymbolInfo, len(ents))
	for i, e := range ents {
		out[i] = e.info
	}
	return out
}

// AllAddrs is like All but pairs each SymbolInfo with its entry address.
func (ix *SymbolIndex) AllAddrs(prv rv.Prv, ctx uint64) ([]uint64, []SymbolInfo) {
	ents := ix.entries(prv, ctx)
	addrs := make([]uint64, len(ents))
	infos := make([]SymbolInfo, len(ents))
	for i, e := range ents {
		addrs[i] = e.addr
		infos[i] = e.info
	}
	return addrs, infos
}

// UserASIDs lists the ASIDs with an indexed symbol table, for diagnostics
// such as --dump-symbol-index.
func (ix *SymbolIndex) UserASIDs() []uint64 {
	out := make([]uint64, 0, len(ix.userMaps))
	for asid := range ix.userMaps {
		out = append(out, asid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// isGhostSymbol reports whether name is an assembler-local label that
// should never appear in the symbol index.
func isGhostSymbol(name string) bool {
	return strings.HasPrefix(name, "$x") || strings.HasPrefix(name, "$d") || strings.HasPrefix(name, ".L")
}

// buildSymbolTable enumerates every symbol bound to an executable section
// of f, in address order, deduplicating aliases (a non-empty name beats an
// empty one; otherwise the first one seen wins) and dropping ghost
// symbols. offset shifts every address, used to fold a driver image into
// the kernel map at its configured load address.
func buildSymbolTable(f *elf.File, dwarfData *dwarf.Data, prv rv.Prv, ctx uint64, offset uint64) ([]symbolEnt, error) {
	execSections := execSectionIndices(f)

	syms, err := f.Symbols()
	if err != nil && len(execSections) > 0 {
		return nil, errors.Wrap(err, "reading ELF symbol table")
	}

	lines := dwarfLineTable(dwarfData)

	byAddr := make(map[uint64]SymbolInfo)
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC && elf.ST_TYPE(sym.Info) != elf.STT_NOTYPE {
			continue
		}
		if int(sym.Section) < 0 || int(sym.Section) >= len(f.Sections) {
			continue
		}
		if !execSections[int(sym.Section)] {
			continue
		}
		if isGhostSymbol(sym.Name) {
			continue
		}
		addr := sym.Value + offset
		info := SymbolInfo{Name: sym.Name, Prv: prv, Ctx: ctx}
		info.Src = lookupSourceLocation(lines, sym.Value, prv)

		existing, ok := byAddr[addr]
		if !ok {
			byAddr[addr] = info
			continue
		}
		if strings.TrimSpace(existing.Name) == "" && strings.TrimSpace(info.Name) != "" {
			byAddr[addr] = info
		}
	}

	out := make([]symbolEnt, 0, len(byAddr))
	for addr, info := range byAddr {
		out = append(out, symbolEnt{addr, info})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out, nil
}

func execSectionIndices(f *elf.File) map[int]bool {
	out := make(map[int]bool)
	for i, sec := range f.Sections {
		if sec.Flags&elf.SHF_EXECINSTR != 0 {
			out[i] = true
		}
	}
	return out
}

func lookupSourceLocation(lines []dwarf.LineEntry, addr uint64, prv rv.Prv) SourceLocation {
	i := sort.Search(len(lines), func(i int) bool { return lines[i].Address > addr })
	if i == 0 || lines[i-1].EndSequence {
		return SourceLocation{Prv: prv}
	}
	return SourceLocation{File: lines[i-1].File.Name, Lines: uint32(lines[i-1].Line), Prv: prv}
}

func dwarfLineTable(d *dwarf.Data) []dwarf.LineEntry {
	if d == nil {
		return nil
	}
	var out []dwarf.LineEntry
	r := d.Reader()
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := d.LineReader(ent)
		if err != nil || lr == nil {
			continue
		}
		for {
			var lent dwarf.LineEntry
			if lr.Next(&lent) != nil {
				break
			}
			out = append(out, lent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
