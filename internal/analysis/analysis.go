// Package analysis defines the contract with the external disassembly/CFG
// backend and ingests its results. The core never recovers control flow
// itself; it consumes three tables — basic-block ranges, symbol-less
// relocation addresses and indirect control-flow instruction addresses —
// and refuses malformed ones rather than silently corrupting the output.
package analysis

import (
	"errors"
	"fmt"

	"github.com/blockseal/blockseal/internal/region"
)

// ErrAnalysis marks failures of, or invalid data from, the analysis
// backend.
var ErrAnalysis = errors.New("analysis backend")

// Backend is the interface the external disassembly/CFG tool is consumed
// through. All addresses are virtual and relative to the image base.
//
// Preconditions on implementations: relocation addresses sorted ascending,
// basic-block ranges sorted ascending by start and non-overlapping.
// Callers still verify both through Ingest, since a violation would
// corrupt the rewritten executable without any visible failure.
type Backend interface {
	// RelocationAddresses returns the addresses of relocations without an
	// associated symbol, sorted ascending.
	RelocationAddresses(path string) ([]uint64, error)

	// BasicBlockRanges returns the non-overlapping basic-block ranges of
	// the executable, dropping blocks smaller than minSize, sorted
	// ascending by start.
	BasicBlockRanges(path string, minSize uint64) ([]region.Range, error)

	// IndirectBranchAddresses returns the addresses of instructions whose
	// control-flow target is register- or memory-indirect, in backend
	// report order.
	IndirectBranchAddresses(path string) ([]uint64, error)
}

// A Report is one validated snapshot of everything the backend knows about
// an executable.
type Report struct {
	Relocations      []uint64
	BasicBlocks      []region.Range
	IndirectBranches []uint64
}

// Ingest pulls all three tables from the backend and validates the
// documented preconditions.
func Ingest(b Backend, path string, minSize uint64) (*Report, error) {
	relocs, err := b.RelocationAddresses(path)
	if err != nil {
		return nil, fmt.Errorf("%w: relocations of %s: %v", ErrAnalysis, path, err)
	}
	if err := region.ValidateAddrs(relocs); err != nil {
		return nil, fmt.Errorf("%w: relocation table: %v", ErrAnalysis, err)
	}

	blocks, err := b.BasicBlockRanges(path, minSize)
	if err != nil {
		return nil, fmt.Errorf("%w: basic blocks of %s: %v", ErrAnalysis, path, err)
	}
	if err := region.Validate(blocks); err != nil {
		return nil, fmt.Errorf("%w: basic block table: %v", ErrAnalysis, err)
	}

	indirect, err := b.IndirectBranchAddresses(path)
	if err != nil {
		return nil, fmt.Errorf("%w: indirect branches of %s: %v", ErrAnalysis, path, err)
	}

	return &Report{
		Relocations:      relocs,
		BasicBlocks:      blocks,
		IndirectBranches: indirect,
	}, nil
}
