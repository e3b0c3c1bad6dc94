// Package persist implements the on-disk format for the registry's learned
// state (spec §4.9): a deterministic CBOR encoding of every machine's
// display name, MAC, and boot graph snapshot.
package persist

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/bootwake/bootwaked/internal/registry"
)

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("persist: building canonical encode mode: %v", err))
	}
	return m
}()

// document is the literal on-disk shape: an ordered list of machines so the
// encoding is stable across runs with the same registration order.
type document struct {
	Machines []registry.MachineRecord
}

// Save atomically rewrites path with the registry's current state. It
// writes to a temporary file in the same directory and renames over the
// target so a crash mid-write never leaves a truncated save file.
func Save(path string, records []registry.MachineRecord) error {
	data, err := encMode.Marshal(document{Machines: records})
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persist: rename temp file into place: %w", err)
	}
	return nil
}

// Load reads path and decodes it into machine records. A missing file is
// not an error — it means an empty server — but a present, undecodable
// file fails loudly rather than silently discarding learned state.
func Load(path string) ([]registry.MachineRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", path, err)
	}

	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("persist: decode %s: %w", path, err)
	}
	return doc.Machines, nil
}
