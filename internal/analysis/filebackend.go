package analysis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blockseal/blockseal/internal/region"
)

// SidecarSuffix is appended to the executable path to locate its analysis
// sidecar when no explicit path is configured.
const SidecarSuffix = ".analysis.yaml"

// sidecarDoc is the on-disk shape of an analysis sidecar. The external
// analyzer (typically an angr export) writes one per executable.
type sidecarDoc struct {
	Relocations      []uint64       `yaml:"relocations"`
	BasicBlocks      []region.Range `yaml:"basic_blocks"`
	IndirectBranches []uint64       `yaml:"indirect_branches"`
}

// FileBackend reads analysis results from a YAML sidecar exported by the
// external disassembly tool. If Path is empty, the sidecar is looked up
// next to the executable as <exe>.analysis.yaml.
type FileBackend struct {
	// Path overrides the sidecar location.
	Path string

	loaded map[string]*sidecarDoc
}

func (fb *FileBackend) sidecar(exePath string) (*sidecarDoc, error) {
	sidecarPath := fb.Path
	if sidecarPath == "" {
		sidecarPath = exePath + SidecarSuffix
	}
	if doc, ok := fb.loaded[sidecarPath]; ok {
		return doc, nil
	}

	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("read analysis sidecar: %w", err)
	}
	var doc sidecarDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse analysis sidecar %s: %w", sidecarPath, err)
	}

	if fb.loaded == nil {
		fb.loaded = make(map[string]*sidecarDoc)
	}
	fb.loaded[sidecarPath] = &doc
	return &doc, nil
}

func (fb *FileBackend) RelocationAddresses(path string) ([]uint64, error) {
	doc, err := fb.sidecar(path)
	if err != nil {
		return nil, err
	}
	return doc.Relocations, nil
}

func (fb *FileBackend) BasicBlockRanges(path string, minSize uint64) ([]region.Range, error) {
	doc, err := fb.sidecar(path)
	if err != nil {
		return nil, err
	}
	blocks := make([]region.Range, 0, len(doc.BasicBlocks))
	for _, b := range doc.BasicBlocks {
		if b.End-b.Start >= minSize {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func (fb *FileBackend) IndirectBranchAddresses(path string) ([]uint64, error) {
	doc, err := fb.sidecar(path)
	if err != nil {
		return nil, err
	}
	return doc.IndirectBranches, nil
}
