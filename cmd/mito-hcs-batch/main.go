// Command mito-hcs-batch runs the full analysis over a directory of
// high-content screening images:
//
//	mito-hcs-batch [-o outdir] [-config-file cfg.toml] [-workers n] indir
//
// Each complete field of view under indir is segmented (nuclei, cells,
// mitochondria), featurized, and measured; outputs are written per field
// of view under outdir (default indir/mito-hcs) together with one
// collated summary table.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"mito-hcs/internal/batch"
	"mito-hcs/internal/config"
	"mito-hcs/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		outdir     string
		configFile string
		workers    int
	)
	flag.StringVar(&outdir, "o", "", "output directory (default <indir>/mito-hcs)")
	flag.StringVar(&outdir, "outdir", "", "output directory (default <indir>/mito-hcs)")
	flag.StringVar(&configFile, "config-file", "", "TOML configuration file (default: bundled parameters)")
	flag.IntVar(&workers, "workers", 0, "worker pool size (default: one per CPU)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] indir\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one input directory, got %d arguments", flag.NArg())
	}
	indir := flag.Arg(0)
	if outdir == "" {
		outdir = filepath.Join(indir, "mito-hcs")
	}

	log := logger.NewConsoleLogger(logger.LevelFromEnv())

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	runner, err := batch.NewRunner(cfg, log, workers)
	if err != nil {
		return err
	}
	return runner.Run(indir, outdir)
}
