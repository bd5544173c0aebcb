// Package layout discovers the code-section mapping of an executable and
// translates between virtual addresses and raw file offsets.
package layout

import (
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"
	"os"
)

// ErrLayout marks executables without a usable code section or with a
// malformed section table.
var ErrLayout = errors.New("no code section layout")

// A Layout describes how the code section's virtual address range maps onto
// raw file offsets. Virtual addresses are relative to the image base, the
// same base the analysis backend reports addresses against.
type Layout struct {
	VirtualStart uint64
	RawStart     uint64
	RawSize      uint64
}

// Delta is the constant subtracted from a virtual address to obtain its raw
// file offset. Computed once per run.
func (l Layout) Delta() int64 {
	return int64(l.VirtualStart) - int64(l.RawStart)
}

// Raw translates a virtual address inside the code section to its raw file
// offset.
func (l Layout) Raw(v uint64) (uint64, error) {
	if v < l.VirtualStart || v >= l.VirtualStart+l.RawSize {
		return 0, fmt.Errorf("address 0x%x outside code section [0x%x, 0x%x)",
			v, l.VirtualStart, l.VirtualStart+l.RawSize)
	}
	return uint64(int64(v) - l.Delta()), nil
}

// CodeSection reads the executable at path and returns the layout of its
// code section. ELF and PE images are supported; anything else, or an image
// with no executable section, fails with an error wrapping ErrLayout.
func CodeSection(path string) (Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return Layout{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		return Layout{}, fmt.Errorf("%w: read magic of %s: %v", ErrLayout, path, err)
	}

	switch {
	case magic == [4]byte{0x7F, 'E', 'L', 'F'}:
		return elfCodeSection(path)
	case magic[0] == 'M' && magic[1] == 'Z':
		return peCodeSection(path)
	default:
		return Layout{}, fmt.Errorf("%w: %s: unrecognized executable format", ErrLayout, path)
	}
}

func elfCodeSection(path string) (Layout, error) {
	f, err := elf.Open(path)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: parse %s: %v", ErrLayout, path, err)
	}
	defer f.Close()

	// Addresses in ET_EXEC images are absolute; rebase them to the lowest
	// loadable segment so the layout speaks the same base-relative language
	// as the analysis backend. ET_DYN images are already zero-based.
	var imageBase uint64
	if f.Type == elf.ET_EXEC {
		imageBase = ^uint64(0)
		for _, prog := range f.Progs {
			if prog.Type == elf.PT_LOAD && prog.Vaddr < imageBase {
				imageBase = prog.Vaddr
			}
		}
		if imageBase == ^uint64(0) {
			return Layout{}, fmt.Errorf("%w: %s has no loadable segments", ErrLayout, path)
		}
	}

	sec := findELFCodeSection(f)
	if sec == nil {
		return Layout{}, fmt.Errorf("%w: %s has no executable section", ErrLayout, path)
	}
	return Layout{
		VirtualStart: sec.Addr - imageBase,
		RawStart:     sec.Offset,
		RawSize:      sec.FileSize,
	}, nil
}

func findELFCodeSection(f *elf.File) *elf.Section {
	const execFlags = elf.SHF_ALLOC | elf.SHF_EXECINSTR
	var best *elf.Section
	for _, sec := range f.Sections {
		if sec.Flags&execFlags != execFlags || sec.Type != elf.SHT_PROGBITS {
			continue
		}
		if sec.Name == ".text" {
			return sec
		}
		if best == nil || sec.Addr < best.Addr {
			best = sec
		}
	}
	return best
}

func peCodeSection(path string) (Layout, error) {
	f, err := pe.Open(path)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: parse %s: %v", ErrLayout, path, err)
	}
	defer f.Close()

	sec := findPECodeSection(f)
	if sec == nil {
		return Layout{}, fmt.Errorf("%w: %s has no executable section", ErrLayout, path)
	}
	// Section RVAs are already image-base relative.
	return Layout{
		VirtualStart: uint64(sec.VirtualAddress),
		RawStart:     uint64(sec.Offset),
		RawSize:      uint64(sec.Size),
	}, nil
}

func findPECodeSection(f *pe.File) *pe.Section {
	const imageScnMemExecute = 0x20000000
	var best *pe.Section
	for _, sec := range f.Sections {
		if sec.Characteristics&imageScnMemExecute == 0 || sec.Size == 0 {
			continue
		}
		if sec.Name == ".text" {
			return sec
		}
		if best == nil || sec.VirtualAddress < best.VirtualAddress {
			best = sec
		}
	}
	return best
}
