// Package metadata reads and writes the loader-facing tables: the region
// table locating encrypted ranges and the indirect-instruction address
// table. Both formats are fixed little-endian records with no header; the
// record count is implied by file size.
package metadata

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockseal/blockseal/internal/region"
)

const (
	// RegionTableName is the loader's expected region table file name.
	RegionTableName = "blocks_list.bin"
	// IndirectTableName is the loader's expected indirect-instruction
	// table file name.
	IndirectTableName = "call_address_list.bin"

	regionRecordSize = 16
	addrRecordSize   = 8
)

// WriteRegionTable writes one 16-byte record per region — 8-byte
// little-endian start, then end — in ascending start order. The table is
// materialized fully and published atomically via rename, so the loader
// never observes a partial table.
func WriteRegionTable(path string, regions []region.Range) error {
	buf := make([]byte, 0, len(regions)*regionRecordSize)
	for _, r := range regions {
		buf = binary.LittleEndian.AppendUint64(buf, r.Start)
		buf = binary.LittleEndian.AppendUint64(buf, r.End)
	}
	return publish(path, buf)
}

// WriteIndirectTable writes one 8-byte little-endian address per record, in
// the order the analysis backend reported them.
func WriteIndirectTable(path string, addrs []uint64) error {
	buf := make([]byte, 0, len(addrs)*addrRecordSize)
	for _, addr := range addrs {
		buf = binary.LittleEndian.AppendUint64(buf, addr)
	}
	return publish(path, buf)
}

// ReadRegionTable decodes a region table, mirroring what the runtime loader
// does at load time.
func ReadRegionTable(path string) ([]region.Range, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region table: %w", err)
	}
	if len(data)%regionRecordSize != 0 {
		return nil, fmt.Errorf("region table %s: size %d is not a multiple of %d", path, len(data), regionRecordSize)
	}
	regions := make([]region.Range, 0, len(data)/regionRecordSize)
	for off := 0; off < len(data); off += regionRecordSize {
		regions = append(regions, region.Range{
			Start: binary.LittleEndian.Uint64(data[off:]),
			End:   binary.LittleEndian.Uint64(data[off+8:]),
		})
	}
	return regions, nil
}

// ReadIndirectTable decodes an indirect-instruction address table.
func ReadIndirectTable(path string) ([]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indirect table: %w", err)
	}
	if len(data)%addrRecordSize != 0 {
		return nil, fmt.Errorf("indirect table %s: size %d is not a multiple of %d", path, len(data), addrRecordSize)
	}
	addrs := make([]uint64, 0, len(data)/addrRecordSize)
	for off := 0; off < len(data); off += addrRecordSize {
		addrs = append(addrs, binary.LittleEndian.Uint64(data[off:]))
	}
	return addrs, nil
}

// publish writes data to a temporary file in path's directory and renames
// it into place.
func publish(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write table %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close table %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish table %s: %w", path, err)
	}
	return nil
}
