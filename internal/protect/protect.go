// Package protect drives the whole pipeline: resolve the code-section
// layout, load the license, ingest the analysis backend's tables, select
// regions, rewrite the image and emit the loader metadata. The pipeline is
// strictly sequential; the first failure aborts the run and anything
// already written to the output directory must be treated as untrustworthy.
package protect

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/blockseal/blockseal/internal/analysis"
	"github.com/blockseal/blockseal/internal/blockcrypt"
	"github.com/blockseal/blockseal/internal/layout"
	"github.com/blockseal/blockseal/internal/license"
	"github.com/blockseal/blockseal/internal/metadata"
	"github.com/blockseal/blockseal/internal/region"
	"github.com/blockseal/blockseal/internal/rewrite"
)

// A Result reports what a successful run produced, for CLI output.
type Result struct {
	Regions          []region.Range
	Relocations      []uint64
	IndirectBranches []uint64

	OutputPath        string
	RegionTablePath   string
	IndirectTablePath string
}

// Run protects the executable at exePath according to cfg, which must have
// been finalized, consuming analysis results from backend. The license is
// read in full before any region is processed.
func Run(cfg Config, exePath string, backend analysis.Backend) (*Result, error) {
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", cfg.OutDir, err)
	}

	lay, err := layout.CodeSection(exePath)
	if err != nil {
		return nil, err
	}
	slog.Debug("resolved code section",
		"virtualStart", fmt.Sprintf("0x%x", lay.VirtualStart),
		"rawStart", fmt.Sprintf("0x%x", lay.RawStart),
		"rawSize", lay.RawSize)

	lic, err := license.Load(cfg.LicensePath)
	if err != nil {
		return nil, err
	}

	report, err := analysis.Ingest(backend, exePath, cfg.LimitFactor)
	if err != nil {
		return nil, err
	}
	slog.Debug("analysis ingested",
		"blocks", len(report.BasicBlocks),
		"relocations", len(report.Relocations),
		"indirectBranches", len(report.IndirectBranches))

	regions := region.Select(report.BasicBlocks, report.Relocations, cfg.LimitFactor)
	slog.Info("regions selected", "candidates", len(report.BasicBlocks), "selected", len(regions))

	params := blockcrypt.DefaultParams()
	rw := &rewrite.Rewriter{
		Layout:  lay,
		Params:  params,
		License: lic,
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress && len(regions) > 0 {
		bar = progressbar.Default(int64(len(regions)), "encrypting")
		defer bar.Close()
	}
	rw.OnRegion = func(r region.Range, rawStart uint64) {
		slog.Debug("region encrypted", "region", r.String(), "rawStart", fmt.Sprintf("0x%x", rawStart))
		if bar != nil {
			bar.Add(1)
		}
	}

	outputPath := cfg.OutputPath()
	if err := rw.Encrypt(exePath, outputPath, regions); err != nil {
		return nil, err
	}

	regionTablePath := filepath.Join(cfg.OutDir, metadata.RegionTableName)
	if err := metadata.WriteRegionTable(regionTablePath, regions); err != nil {
		return nil, err
	}
	indirectTablePath := filepath.Join(cfg.OutDir, metadata.IndirectTableName)
	if err := metadata.WriteIndirectTable(indirectTablePath, report.IndirectBranches); err != nil {
		return nil, err
	}
	slog.Info("metadata written", "regionTable", regionTablePath, "indirectTable", indirectTablePath)

	return &Result{
		Regions:           regions,
		Relocations:       report.Relocations,
		IndirectBranches:  report.IndirectBranches,
		OutputPath:        outputPath,
		RegionTablePath:   regionTablePath,
		IndirectTablePath: indirectTablePath,
	}, nil
}
