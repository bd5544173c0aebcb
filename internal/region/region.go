package region

import (
	"fmt"
	"sort"
)

// pointerWidth is the relocation slot size for the 64-bit targets this tool
// protects. The selector's density filter divides by it directly.
const pointerWidth = 8

// A Range is a half-open interval [Start, End) of virtual addresses,
// relative to the image base.
type Range struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() uint64 {
	return r.End - r.Start
}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr uint64) bool {
	return r.Start <= addr && addr < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("0x%x - 0x%x", r.Start, r.End)
}

// Validate checks that ranges are well formed, sorted ascending by start and
// pairwise non-overlapping. The rewriter's copy-through cursor silently
// corrupts the output if either property is violated, so callers check
// ingested data here instead of trusting the analysis backend.
func Validate(ranges []Range) error {
	for i, r := range ranges {
		if r.Start >= r.End {
			return fmt.Errorf("range %d (%s) is empty or inverted", i, r)
		}
		if i > 0 && r.Start < ranges[i-1].End {
			return fmt.Errorf("range %d (%s) overlaps or precedes range %d (%s)", i, r, i-1, ranges[i-1])
		}
	}
	return nil
}

// ValidateAddrs checks that addrs are sorted ascending with no duplicates.
func ValidateAddrs(addrs []uint64) error {
	for i := 1; i < len(addrs); i++ {
		if addrs[i] <= addrs[i-1] {
			return fmt.Errorf("address %d (0x%x) is not strictly after 0x%x", i, addrs[i], addrs[i-1])
		}
	}
	return nil
}

// countRelocs returns how many of the sorted relocation addresses fall
// inside r.
func countRelocs(relocs []uint64, r Range) int {
	lo := sort.Search(len(relocs), func(i int) bool { return relocs[i] >= r.Start })
	hi := sort.Search(len(relocs), func(i int) bool { return relocs[i] >= r.End })
	return hi - lo
}

// Select reduces candidate basic-block ranges to the final set of regions to
// encrypt. Blocks shorter than limitFactor are dropped. A block is also
// dropped when it holds at least one relocation per pointer-sized slot:
// such density marks a jump or pointer table rather than code, and
// encrypting it would corrupt data the loader cannot tell apart from
// instructions. The comparison is strictly actual < expected, matching the
// loader's expectations exactly.
//
// blocks and relocs must both be sorted ascending; the result is sorted by
// start and inherits non-overlap from the input, since blocks are only ever
// dropped, never split.
func Select(blocks []Range, relocs []uint64, limitFactor uint64) []Range {
	selected := make([]Range, 0, len(blocks))
	for _, b := range blocks {
		if b.Size() < limitFactor {
			continue
		}
		expected := int(b.Size() / pointerWidth)
		if countRelocs(relocs, b) >= expected {
			continue
		}
		selected = append(selected, b)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Start < selected[j].Start })
	return selected
}
