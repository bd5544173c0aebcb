package analysis

import (
	"debug/elf"
	"fmt"
	"sort"
)

const relaEntrySize = 24 // Elf64_Rela: r_offset, r_info, r_addend

// ELFRelocations extracts the addresses of symbol-less relocations (such as
// R_X86_64_RELATIVE rebasing entries) from an ELF image's SHT_RELA
// sections. These are the entries whose symbol index is zero, matching what
// the external backend reports for other formats. Addresses are returned
// sorted ascending, rebased to the image base and deduplicated.
func ELFRelocations(path string) ([]uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%s: only 64-bit images are supported", path)
	}

	var imageBase uint64
	if f.Type == elf.ET_EXEC {
		imageBase = ^uint64(0)
		for _, prog := range f.Progs {
			if prog.Type == elf.PT_LOAD && prog.Vaddr < imageBase {
				imageBase = prog.Vaddr
			}
		}
		if imageBase == ^uint64(0) {
			imageBase = 0
		}
	}

	seen := make(map[uint64]struct{})
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", sec.Name, err)
		}
		for off := 0; off+relaEntrySize <= len(data); off += relaEntrySize {
			rOffset := f.ByteOrder.Uint64(data[off:])
			rInfo := f.ByteOrder.Uint64(data[off+8:])
			if rInfo>>32 != 0 {
				continue // bound to a symbol
			}
			seen[rOffset-imageBase] = struct{}{}
		}
	}

	addrs := make([]uint64, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs, nil
}

// ELFRelocFallback decorates a backend so that when it reports no
// relocations for an ELF input, the addresses are extracted natively from
// the image's relocation sections instead. Sidecars produced by analyzers
// that only export control-flow data stay usable this way.
type ELFRelocFallback struct {
	Backend
}

func (b ELFRelocFallback) RelocationAddresses(path string) ([]uint64, error) {
	relocs, err := b.Backend.RelocationAddresses(path)
	if err != nil || len(relocs) > 0 {
		return relocs, err
	}
	if !isELF(path) {
		return relocs, nil
	}
	return ELFRelocations(path)
}

func isELF(path string) bool {
	f, err := elf.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
