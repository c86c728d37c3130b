package binimage

import "github.com/rvtacit/tracedecoder/rv"

// NewSymbolIndexForTesting builds a SymbolIndex directly from in-memory
// address->info tables, bypassing ELF parsing, for tests in this package
// and its consumers (decoder, unwind, sinks) that need a small synthetic
// symbol table without a real binary image.
func NewSymbolIndexForTesting(userSyms map[uint64]map[uint64]SymbolInfo, kernelSyms, machineSyms map[uint64]SymbolInfo) *SymbolIndex {
	toEnts := func(prv rv.Prv, ctx uint64, byAddr map[uint64]SymbolInfo) []symbolEnt {
		ents := make([]symbolEnt, 0, len(byAddr))
		for addr, info := range byAddr {
			info.Prv, info.Ctx = prv, ctx
			ents = append(ents, symbolEnt{addr: addr, info: info})
		}
		sortSymbolEnts(ents)
		return ents
	}

	userMaps := make(map[uint64][]symbolEnt, len(userSyms))
	for asid, byAddr := range userSyms {
		userMaps[asid] = toEnts(rv.PrvUser, asid, byAddr)
	}

	return &SymbolIndex{
		userMaps:   userMaps,
		kernelMap:  toEnts(rv.PrvSupervisor, 0, kernelSyms),
		machineMap: toEnts(rv.PrvMachine, 0, machineSyms),
	}
}

// NewInstructionIndexForTesting builds an InstructionIndex directly from
// in-memory address->instruction maps.
func NewInstructionIndexForTesting(userInsns map[uint64]map[uint64]rv.Insn, kernelInsns, machineInsns map[uint64]rv.Insn) *InstructionIndex {
	if kernelInsns == nil {
		kernelInsns = map[uint64]rv.Insn{}
	}
	if machineInsns == nil {
		machineInsns = map[uint64]rv.Insn{}
	}
	return &InstructionIndex{
		userMaps:   userInsns,
		kernelMap:  kernelInsns,
		machineMap: machineInsns,
		emptyMap:   map[uint64]rv.Insn{},
	}
}
