package wire

// BrMode selects how the decoder resolves branch packets.
type BrMode uint8

const (
	BrTarget  BrMode = 0
	BrPredict BrMode = 1
)

func (m BrMode) String() string {
	if m == BrPredict {
		return "predict"
	}
	return "target"
}

// RuntimeCfg is read from every FSync packet and applied from the first
// (SyncStart) packet only. BpEntries is
// the predictor table size; zero disables the predictor, which is only
// valid under BrTarget.
type RuntimeCfg struct {
	BrMode    BrMode
	BpEntries uint32
}

// decodeRuntimeCfg unpacks the runtime-config byte: bits [1:0] select
// BrMode, bits [7:2] hold bp_entries/64.
func decodeRuntimeCfg(b byte) RuntimeCfg {
	return RuntimeCfg{
		BrMode:    BrMode(b & 0x3),
		BpEntries: uint32(b>>2) * 64,
	}
}
