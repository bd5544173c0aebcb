package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/blockseal/blockseal/internal/analysis"
	"github.com/blockseal/blockseal/internal/license"
	"github.com/blockseal/blockseal/internal/protect"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blockseal [flags] <path_to_exe>")
	flag.PrintDefaults()
}

func mainE() error {
	var (
		configPath   = flag.String("config", "", "YAML config file")
		outDir       = flag.String("out", "", "output directory (default: out/ beside the input)")
		licensePath  = flag.String("license", "", "license file (default: <out>/License.dat)")
		analysisPath = flag.String("analysis", "", "analysis sidecar (default: <exe>.analysis.yaml)")
		limitFactor  = flag.Uint64("limit", 0, "minimum basic-block size in bytes")
		verbose      = flag.Bool("v", false, "enable debug logging")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	exePath := flag.Arg(0)

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := protect.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}
	if *licensePath != "" {
		cfg.LicensePath = *licensePath
	}
	if *analysisPath != "" {
		cfg.AnalysisPath = *analysisPath
	}
	if *limitFactor != 0 {
		cfg.LimitFactor = *limitFactor
	}
	cfg.Finalize(exePath)
	cfg.Progress = term.IsTerminal(int(os.Stderr.Fd()))

	// The license must already be provisioned next to the output; protecting
	// without it would produce an executable nothing can decrypt.
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", cfg.OutDir, err)
	}
	if _, err := os.Stat(cfg.LicensePath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s not found at %s\n", license.DefaultFileName, cfg.LicensePath)
		fmt.Fprintln(os.Stderr, "Please provision the license file before protecting.")
		os.Exit(1)
	}

	backend := analysis.ELFRelocFallback{Backend: &analysis.FileBackend{Path: cfg.AnalysisPath}}

	res, err := protect.Run(cfg, exePath, backend)
	if err != nil {
		return err
	}

	for _, addr := range res.Relocations {
		fmt.Println(addr)
	}
	fmt.Println("Basic Block Address Ranges (start, end) [virtual addresses]:")
	for _, r := range res.Regions {
		fmt.Println(r)
	}
	fmt.Println(len(res.Regions))
	return nil
}

func main() {
	if err := mainE(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
