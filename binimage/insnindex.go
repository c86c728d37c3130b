package binimage

import (
	"bufio"
	"debug/dwarf"
	"debug/elf"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rvtacit/tracedecoder/rv"
	"github.com/rvtacit/tracedecoder/rvdisasm"
)

// InstructionIndex is the per-privilege, per-ASID address -> decoded
// instruction map, built once and read-only thereafter.
type InstructionIndex struct {
	userMaps   map[uint64]map[uint64]rv.Insn
	kernelMap  map[uint64]rv.Insn
	machineMap map[uint64]rv.Insn
	emptyMap   map[uint64]rv.Insn
}

// HasUserCtx reports whether ctx has an indexed user-space instruction map,
// i.e. whether a trap returning to this ASID can resume emitting events.
func (ix *InstructionIndex) HasUserCtx(ctx uint64) bool {
	_, ok := ix.userMaps[ctx]
	return ok
}

// Lookup returns the instruction at addr in (prv, ctx).
func (ix *InstructionIndex) Lookup(prv rv.Prv, ctx uint64, addr uint64) (rv.Insn, bool) {
	m := ix.mapFor(prv, ctx)
	insn, ok := m[addr]
	return insn, ok
}

func (ix *InstructionIndex) mapFor(prv rv.Prv, ctx uint64) map[uint64]rv.Insn {
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

// UserBinary pairs an application ELF with the ASID it should be indexed
// under.
type UserBinary struct {
	Path string
	ASID uint64
}

// DriverBinary pairs a driver ELF with the kernel-space address its .text
// section is loaded at.
type DriverBinary struct {
	Path  string
	Entry uint64
}

// BuildConfig collects every binary-image input named in §6.2 of the
// configuration file.
type BuildConfig struct {
	UserBinaries            []UserBinary
	MachineBinary           string
	KernelBinary            string
	KernelJumpLabelPatchLog string
	DriverBinaries          []DriverBinary
}

// Build constructs both the instruction index and the symbol index from a
// single pass over the configured binaries, mirroring the two indices'
// shared ELF-enumeration logic.
func Build(cfg BuildConfig, logf func(format string, args ...any)) (*InstructionIndex, *SymbolIndex, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	dasm := rvdisasm.New()

	if cfg.MachineBinary == "" {
		return nil, nil, errors.New("machine_binary is required")
	}
	mf, mElf, mDwarf, err := openELF(cfg.MachineBinary)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening machine binary")
	}
	defer mf.Close()

	machineInsns, err := disassembleExec(dasm, mElf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "disassembling machine binary")
	}
	if len(machineInsns) == 0 {
		return nil, nil, errors.New("no executable instructions found in machine binary")
	}
	machineSyms, err := buildSymbolTable(mElf, mDwarf, rv.PrvMachine, 0, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "building machine symbol table")
	}

	userInsns := make(map[uint64]map[uint64]rv.Insn, len(cfg.UserBinaries))
	userSyms := make(map[uint64][]symbolEnt, len(cfg.UserBinaries))
	for _, ub := range cfg.UserBinaries {
		uf, uElf, uDwarf, err := openELF(ub.Path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening user binary %s", ub.Path)
		}
		insns, err := disassembleExec(dasm, uElf)
		uf.Close()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "disassembling user binary %s", ub.Path)
		}
		if len(insns) == 0 {
			return nil, nil, errors.Errorf("no executable instructions found in user binary %s", ub.Path)
		}
		userInsns[ub.ASID] = insns
		syms, err := buildSymbolTable(uElf, uDwarf, rv.PrvUser, ub.ASID, 0)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "building symbol table for %s", ub.Path)
		}
		userSyms[ub.ASID] = syms
		logf("user binary %s (asid %d): %d instructions, %d symbols", ub.Path, ub.ASID, len(insns), len(syms))
	}

	kernelInsns := make(map[uint64]rv.Insn)
	var kernelSyms []symbolEnt
	if cfg.KernelBinary != "" {
		kf, kElf, kDwarf, err := openELF(cfg.KernelBinary)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening kernel binary")
		}
		kernelInsns, err = disassembleExec(dasm, kElf)
		kf.Close()
		if err != nil {
			return nil, nil, errors.Wrap(err, "disassembling kernel binary")
		}
		if len(kernelInsns) == 0 {
			return nil, nil, errors.New("no executable instructions found in kernel binary")
		}
		kernelSyms, err = buildSymbolTable(kElf, kDwarf, rv.PrvSupervisor, 0, 0)
		if err != nil {
			return nil, nil, errors.Wrap(err, "building kernel symbol table")
		}

		for _, drv := range cfg.DriverBinaries {
			df, dElf, dDwarf, err := openELF(drv.Path)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "opening driver binary %s", drv.Path)
			}
			driverInsns, err := disassembleExecText(dasm, dElf, drv.Entry)
			df.Close()
			if err != nil {
				return nil, nil, errors.Wrapf(err, "disassembling driver binary %s", drv.Path)
			}
			for addr, insn := range driverInsns {
				kernelInsns[addr] = insn
			}
			driverSyms, err := buildSymbolTable(dElf, dDwarf, rv.PrvSupervisor, 0, drv.Entry)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "building symbol table for driver %s", drv.Path)
			}
			kernelSyms = append(kernelSyms, driverSyms...)
			logf("driver binary %s @ %#x: %d instructions merged", drv.Path, drv.Entry, len(driverInsns))
		}

		if cfg.KernelJumpLabelPatchLog != "" {
			if err := applyJumpLabelPatches(dasm, kernelInsns, cfg.KernelJumpLabelPatchLog, logf); err != nil {
				return nil, nil, errors.Wrap(err, "applying kernel jump-label patch log")
			}
		}
	}

	ix := &InstructionIndex{
		userMaps:   userInsns,
		kernelMap:  kernelInsns,
		machineMap: machineInsns,
		emptyMap:   map[uint64]rv.Insn{},
	}

	sortSymbolEnts(kernelSyms)
	sortSymbolEnts(machineSyms)
	for asid := range userSyms {
		sortSymbolEnts(userSyms[asid])
	}

	sx := &SymbolIndex{
		userMaps:   userSyms,
		kernelMap:  kernelSyms,
		machineMap: machineSyms,
		emptyMap:   nil,
	}

	return ix, sx, nil
}

func sortSymbolEnts(ents []symbolEnt) {
	sort.Slice(ents, func(i, j int) bool { return ents[i].addr < ents[j].addr })
}

func openELF(path string) (*os.File, *elf.File, *dwarf.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	switch ef.Machine {
	case elf.EM_RISCV:
	default:
		f.Close()
		return nil, nil, nil, errors.Errorf("unsupported architecture %s", ef.Machine)
	}
	d, _ := ef.DWARF()
	return f, ef, d, nil
}

func disassembleExec(dasm *rvdisasm.Disassembler, f *elf.File) (map[uint64]rv.Insn, error) {
	out := make(map[uint64]rv.Insn)
	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, errors.Wrapf(err, "reading section %s", sec.Name)
		}
		for addr, insn := range dasm.DecodeAll(data, sec.Addr) {
			out[addr] = insn
		}
	}
	return out, nil
}

func disassembleExecText(dasm *rvdisasm.Disassembler, f *elf.File, loadAddr uint64) (map[uint64]rv.Insn, error) {
	sec := f.Section(".text")
	if sec == nil {
		return nil, errors.New("no .text section found")
	}
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	return dasm.DecodeAll(data, loadAddr), nil
}

// applyJumpLabelPatches reads a CSV-like log of `addr,raw_insn` (both hex,
// no 0x prefix) and overwrites the kernel instruction map entry for each
// address with the freshly decoded replacement. A line that fails to
// disassemble is a warn-and-continue case, not fatal.
func applyJumpLabelPatches(dasm *rvdisasm.Disassembler, insns map[uint64]rv.Insn, path string, logf func(string, ...any)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			logf("malformed jump-label patch log line %q", line)
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
		if err != nil {
			logf("malformed jump-label patch address %q", parts[0])
			continue
		}
		raw, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 32)
		if err != nil {
			logf("malformed jump-label patch instruction %q", parts[1])
			continue
		}
		word := []byte{byte(raw), byte(raw >> 8), byte(raw >> 16), byte(raw >> 24)}
		insn, ok := dasm.DecodeOne(word)
		if !ok {
			logf("error disassembling jump-label patch at %#x: %#x", addr, raw)
			continue
		}
		insns[addr] = insn
	}
	return sc.Err()
}
