package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

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
	parser := argparse.NewParser("projectscans", "Project annotated 3RScan meshes into every camera frame")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML config file", Required: true})
	split := parser.String("s", "split", &argparse.Options{Help: "Split to process (overrides preprocess.split)", Default: ""})
	scan := parser.String("", "scan", &argparse.Options{Help: "Process only this scan", Default: ""})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Number of worker threads (overrides preprocess.workers)", Default: 0})
	override := parser.Flag("", "override", &argparse.Options{Help: "Reprocess scans that are already done", Default: false})
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
	if *workers != 0 {
		cfg.Preprocess.Workers = *workers
	}
	if *override {
		cfg.Preprocess.Override = true
	}

	runner, err := preprocess.NewRunner(logger, cfg)
	check(err)
	defer runner.Close()

	scans := []string{*scan}
	if *scan == "" {
		scans, err = runner.Scans()
		check(err)
	}
	logger.Infof("Processing %v scans of split '%v'", len(scans), cfg.Preprocess.Split)

	// Ctrl+C stops handing out scans, but lets the in-flight ones finish
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runner.Run(ctx, scans)
	if err != nil {
		logger.Warnf("Interrupted: %v", err)
	}
	for scan, msg := range summary.Failed {
		logger.Errorf("%v: %v", scan, msg)
	}
	if len(summary.Failed) != 0 || err != nil {
		runner.Close()
		os.Exit(1)
	}
}
