// Package image loads and saves firmware images for the flasher: raw
// binaries and Intel HEX files, selected by file extension.
package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Segment is a contiguous run of image bytes at a flash address. Raw
// binaries produce a single segment at the caller-supplied base address;
// HEX files carry their own addresses.
type Segment struct {
	Addr uint32
	Data []byte
}

// Load reads a firmware image. Files ending in .hex or .ihex are parsed as
// Intel HEX; everything else is read verbatim into one segment at baseAddr.
func Load(path string, baseAddr uint32) ([]Segment, error) {
	if isHex(path) {
		return loadHex(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	return []Segment{{Addr: baseAddr, Data: data}}, nil
}

// Save writes data read back from the device. A .hex/.ihex extension
// produces an Intel HEX file with the given base address, anything else a
// raw binary.
func Save(path string, addr uint32, data []byte) error {
	if !isHex(path) {
		return os.WriteFile(path, data, 0o644)
	}

	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return mem.DumpIntelHex(f, 16)
}

func isHex(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return true
	}
	return false
}

func loadHex(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var segments []Segment
	for _, seg := range mem.GetDataSegments() {
		segments = append(segments, Segment{Addr: seg.Address, Data: seg.Data})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("image %s has no data records", path)
	}
	return segments, nil
}
