package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesCurrentFieldNames(t *testing.T) {
	path := writeConfig(t, `{
		"encoded_trace": "trace.bin",
		"machine_binary": "vmlinux",
		"user_binaries": [{"path": "a.out", "asid": 7}],
		"receivers": {"stats": {"enabled": true}}
	}`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "trace.bin", cfg.EncodedTrace)
	assert.Equal(t, "vmlinux", cfg.MachineBinary)
	assert.Equal(t, []UserBinary{{Path: "a.out", ASID: 7}}, cfg.UserBinaries)
	assert.Contains(t, cfg.Receivers, "stats")
}

func TestLoadFallsBackToLegacyUserBinariesField(t *testing.T) {
	path := writeConfig(t, `{
		"encoded_trace": "trace.bin",
		"machine_binary": "vmlinux",
		"application_binary_asid_tuples": [{"path": "legacy.out", "asid": 3}]
	}`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, []UserBinary{{Path: "legacy.out", ASID: 3}}, cfg.UserBinaries)
}

func TestLoadPrefersCurrentFieldOverLegacy(t *testing.T) {
	path := writeConfig(t, `{
		"encoded_trace": "trace.bin",
		"machine_binary": "vmlinux",
		"user_binaries": [{"path": "current.out", "asid": 1}],
		"application_binary_asid_tuples": [{"path": "legacy.out", "asid": 3}]
	}`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, []UserBinary{{Path: "current.out", ASID: 1}}, cfg.UserBinaries)
}

func TestLoadRequiresEncodedTrace(t *testing.T) {
	path := writeConfig(t, `{"machine_binary": "vmlinux"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresMachineBinary(t *testing.T) {
	path := writeConfig(t, `{"encoded_trace": "trace.bin"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesDriverBinaryEntryTuples(t *testing.T) {
	path := writeConfig(t, `{
		"encoded_trace": "trace.bin",
		"machine_binary": "vmlinux",
		"driver_binary_entry_tuples": [["nic.ko", "0x80001000"], ["gpu.ko", "0x80002000"]]
	}`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, []DriverBinary{
		{Path: "nic.ko", Entry: 0x80001000},
		{Path: "gpu.ko", Entry: 0x80002000},
	}, cfg.DriverBinaries)
}

func TestLoadRejectsMalformedDriverBinaryEntry(t *testing.T) {
	path := writeConfig(t, `{
		"encoded_trace": "trace.bin",
		"machine_binary": "vmlinux",
		"driver_binary_entry_tuples": [["nic.ko", "not-hex"]]
	}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadPassesReceiverOptionsThroughUnparsed(t *testing.T) {
	path := writeConfig(t, `{
		"encoded_trace": "trace.bin",
		"machine_binary": "vmlinux",
		"receivers": {"gcda": {"enabled": true, "out": "trace.gcda"}}
	}`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	var opts struct {
		Enabled bool   `json:"enabled"`
		Out     string `json:"out"`
	}
	assert.NoError(t, json.Unmarshal(cfg.Receivers["gcda"], &opts))
	assert.True(t, opts.Enabled)
	assert.Equal(t, "trace.gcda", opts.Out)
}
