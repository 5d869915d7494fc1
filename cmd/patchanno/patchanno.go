package main

import (
	"context"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roomalign/server/config"
	"github.com/cyclopcam/roomalign/server/preprocess"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("patchanno", "Build the patch annotation cache from projected object id maps")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML config file", Required: true})
	split := parser.String("s", "split", &argparse.Options{Help: "Split to process (overrides preprocess.split)", Default: ""})
	patchW := parser.Int("", "patch-w", &argparse.Options{Help: "Number of patch columns (overrides data.img_encoding.patch_w)", Default: 0})
	patchH := parser.Int("", "patch-h", &argparse.Options{Help: "Number of patch rows (overrides data.img_encoding.patch_h)", Default: 0})
	scanNet := parser.Flag("", "scannet", &argparse.Options{Help: "Annotate ScanNet scenes under data.root_dir/<split> from their segment groups, instead of 3RScan object id maps"})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Minimum fraction of a patch covered by its dominant object (overrides preprocess.patch_threshold)", Default: -1.0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := config.LoadConfig(*configFile)
	check(err)
	if *split != "" {
		cfg.Preprocess.Split = *split
	}
	if *patchW != 0 {
		cfg.Data.ImgEncoding.PatchW = *patchW
	}
	if *patchH != 0 {
		cfg.Data.ImgEncoding.PatchH = *patchH
	}
	if *threshold >= 0 {
		cfg.Preprocess.PatchThreshold = *threshold
	}
	cfg.Preprocess.WritePatchAnno = true

	runner, err := preprocess.NewRunner(logger, cfg)
	check(err)
	defer runner.Close()

	if *scanNet {
		scenes, err := runner.ScanNetScenes()
		check(err)
		summary, err := runner.AnnotateScanNet(context.Background(), scenes)
		check(err)
		if len(summary.Failed) != 0 {
			runner.Close()
			os.Exit(1)
		}
		return
	}

	scans, err := runner.Scans()
	check(err)
	nFailed := 0
	for _, scan := range scans {
		n, err := runner.AnnotateScan(scan)
		if err != nil {
			logger.Errorf("%v: %v", scan, err)
			nFailed++
			continue
		}
		logger.Infof("%v: %v frames", scan, n)
	}
	logger.Infof("Annotated %v/%v scans with a %v x %v patch grid", len(scans)-nFailed, len(scans), cfg.Data.ImgEncoding.PatchW, cfg.Data.ImgEncoding.PatchH)
	if nFailed != 0 {
		runner.Close()
		os.Exit(1)
	}
}
