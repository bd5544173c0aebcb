package metadata

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/blockseal/blockseal/internal/region"
)

func TestRegionTableFormat(t *testing.T) {
	regions := []region.Range{
		{Start: 0x100, End: 0x140},
		{Start: 0x200, End: 0x248},
		{Start: 0xFFFF_FFFF_0000_0000, End: 0xFFFF_FFFF_0000_0010},
	}
	path := filepath.Join(t.TempDir(), RegionTableName)
	if err := WriteRegionTable(path, regions); err != nil {
		t.Fatalf("WriteRegionTable: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if len(data) != 48 {
		t.Fatalf("3 regions produced %d bytes, want 48", len(data))
	}
	for i, r := range regions {
		start := binary.LittleEndian.Uint64(data[i*16:])
		end := binary.LittleEndian.Uint64(data[i*16+8:])
		if start != r.Start || end != r.End {
			t.Errorf("record %d = (0x%x, 0x%x), want %s", i, start, end, r)
		}
	}

	decoded, err := ReadRegionTable(path)
	if err != nil {
		t.Fatalf("ReadRegionTable: %v", err)
	}
	if !reflect.DeepEqual(decoded, regions) {
		t.Fatalf("round trip = %v, want %v", decoded, regions)
	}
}

func TestRegionTableEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegionTableName)
	if err := WriteRegionTable(path, nil); err != nil {
		t.Fatalf("WriteRegionTable: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat table: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("empty region set produced %d bytes, want 0", info.Size())
	}
}

func TestIndirectTablePreservesOrder(t *testing.T) {
	addrs := []uint64{0x4010, 0x1000, 0x2500}
	path := filepath.Join(t.TempDir(), IndirectTableName)
	if err := WriteIndirectTable(path, addrs); err != nil {
		t.Fatalf("WriteIndirectTable: %v", err)
	}
	decoded, err := ReadIndirectTable(path)
	if err != nil {
		t.Fatalf("ReadIndirectTable: %v", err)
	}
	if !reflect.DeepEqual(decoded, addrs) {
		t.Fatalf("round trip = %#x, want %#x", decoded, addrs)
	}
}

func TestReadRegionTableRejectsRaggedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegionTableName)
	if err := os.WriteFile(path, make([]byte, 17), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ReadRegionTable(path); err == nil {
		t.Fatal("17-byte table accepted")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteRegionTable(filepath.Join(dir, RegionTableName), []region.Range{{Start: 1, End: 2}}); err != nil {
		t.Fatalf("WriteRegionTable: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != RegionTableName {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}
