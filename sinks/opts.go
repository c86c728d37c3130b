package sinks

import "encoding/json"

// parseOpts unmarshals raw into dst, tolerating a nil/empty payload (the
// sink just keeps its zero-value defaults).
func parseOpts(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
