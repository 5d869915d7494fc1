package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roomalign/pkg/batch"
	"github.com/cyclopcam/roomalign/pkg/perfstats"
	"github.com/cyclopcam/roomalign/pkg/stats"
	"github.com/cyclopcam/roomalign/server/config"
	"github.com/cyclopcam/roomalign/server/dataset"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("datasetinfo", "Build items of a patch-object dataset split, and optionally score room retrieval")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML config file", Required: true})
	split := parser.String("s", "split", &argparse.Options{Help: "Split (train, val or test)", Default: "train"})
	numItems := parser.Int("n", "items", &argparse.Options{Help: "Number of items to build (0 = all)", Default: 16})
	batchSize := parser.Int("b", "batch", &argparse.Options{Help: "Batch size for collation", Default: 4})
	doRetrieval := parser.Flag("r", "retrieval", &argparse.Options{Help: "Score room retrieval (val/test with precomputed patch features)", Default: false})
	asJSON := parser.Flag("", "json", &argparse.Options{Help: "Print retrieval results as JSON", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := config.LoadConfig(*configFile)
	check(err)

	ds, err := dataset.New(logger, cfg, *split)
	check(err)
	defer ds.Close()

	logger.Infof("%v scans, %v items, %v scans with object embeddings", len(ds.ScanIDs()), ds.Len(), ds.Objects().NumScans())

	n := ds.Len()
	if *numItems > 0 {
		n = min(n, *numItems)
	}
	var buildTime perfstats.TimeAccumulator
	var temporal perfstats.Counter
	objects := []int{}
	crossScene := []int{}
	matched := []float64{}
	pending := []*batch.Pair{}
	nBatches := 0
	for i := 0; i < n; i++ {
		var pair *batch.Pair
		buildTime.Time(func() {
			pair, err = ds.Item(i)
		})
		check(err)
		nt := pair.NonTemporal
		temporal.Add(pair.Temporal != nil)
		objects = append(objects, nt.NumObjects)
		crossScene = append(crossScene, nt.NumCrossSceneObjects)
		matched = append(matched, float64(nt.Matrices.PatchObjMatch.Sum())/float64(nt.PatchRows*nt.PatchCols))

		pending = append(pending, pair)
		if len(pending) == *batchSize || i == n-1 {
			ntb, ttb, err := ds.Collate(pending)
			check(err)
			if ntb != nil {
				nBatches++
				tLen := 0
				if ttb != nil {
					tLen = ttb.Len()
				}
				logger.Debugf("Batch %v: %v items, %v objects, %v temporal items", nBatches, ntb.Len(), ntb.NumObjects(), tLen)
			}
			pending = pending[:0]
		}
	}
	if n != 0 {
		logger.Infof("Item build time: %v", buildTime.String())
		logger.Infof("In-scene objects per item: mean %.1f, median %.1f", stats.Mean(objects), stats.Median(objects))
		logger.Infof("Cross-scene objects per item: mean %.1f", stats.Mean(crossScene))
		logger.Infof("Fraction of patches matched to an object: mean %.3f", stats.Mean(matched))
		logger.Infof("Items with a temporal pair: %.1f%%", temporal.Rate()*100)
	}

	if *doRetrieval {
		res, err := ds.EvaluateRetrieval(*numItems)
		check(err)
		if *asJSON {
			j, err := json.MarshalIndent(res, "", "  ")
			check(err)
			fmt.Println(string(j))
		} else {
			fmt.Printf("Non-temporal: %v samples, recall %v, mean rank %.2f\n", res.NonTemporal.Samples, res.NonTemporal.Recall, res.NonTemporal.MeanRank)
			fmt.Printf("Temporal:     %v samples, recall %v, mean rank %.2f\n", res.Temporal.Samples, res.Temporal.Recall, res.Temporal.MeanRank)
		}
	}
}
