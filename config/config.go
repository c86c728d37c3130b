// Package config loads the JSON run description that points the pipeline
// at an encoded trace, the binaries it was captured against, and the
// set of sinks to drive with the resulting event stream.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// UserBinary pairs a userspace ELF with the ASID it was captured under.
type UserBinary struct {
	Path string `json:"path"`
	ASID uint64 `json:"asid"`
}

// DriverBinary is a kernel module ELF folded into the kernel address
// space at a fixed load offset.
type DriverBinary struct {
	Path  string
	Entry uint64
}

// UnmarshalJSON decodes the wire shape driver_binary_entry_tuples uses: a
// 2-element array of [path, "0xHEX"] rather than a {path, entry} object,
// with the entry offset written as a hex string.
func (d *DriverBinary) UnmarshalJSON(data []byte) error {
	var tuple [2]string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return errors.Wrap(err, `driver_binary_entry_tuples: expected ["path", "0xHEX"]`)
	}
	entry, err := strconv.ParseUint(tuple[1], 0, 64)
	if err != nil {
		return errors.Wrapf(err, "driver_binary_entry_tuples: parsing entry %q", tuple[1])
	}
	d.Path = tuple[0]
	d.Entry = entry
	return nil
}

// Config is the top-level run description.
type Config struct {
	EncodedTrace string `json:"encoded_trace"`

	UserBinaries []UserBinary `json:"user_binaries"`

	MachineBinary           string `json:"machine_binary"`
	KernelBinary            string `json:"kernel_binary"`
	KernelJumpLabelPatchLog string `json:"kernel_jump_label_patch_log"`

	DriverBinaries []DriverBinary `json:"driver_binary_entry_tuples"`

	// Receivers maps a sink name (see sinks.Registry) to its
	// sink-specific options, passed through unparsed.
	Receivers map[string]json.RawMessage `json:"receivers"`
}

// legacyConfig captures the field this format renamed, so old config
// files keep working.
type legacyConfig struct {
	ApplicationBinaryASIDTuples []UserBinary `json:"application_binary_asid_tuples"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	if len(cfg.UserBinaries) == 0 {
		var legacy legacyConfig
		if err := json.Unmarshal(data, &legacy); err == nil {
			cfg.UserBinaries = legacy.ApplicationBinaryASIDTuples
		}
	}

	if cfg.EncodedTrace == "" {
		return nil, errors.New("config: encoded_trace is required")
	}
	if cfg.MachineBinary == "" {
		return nil, errors.New("config: machine_binary is required")
	}

	return &cfg, nil
}
