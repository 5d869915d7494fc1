// Package preprocess projects the annotated meshes of 3RScan scans into
// every camera frame, producing per-frame object id maps, and optionally
// projected colors, patch annotations and visualisations.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cespare/xxhash/v2"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roomalign/pkg/artifact"
	"github.com/cyclopcam/roomalign/pkg/geom"
	"github.com/cyclopcam/roomalign/pkg/iox"
	"github.com/cyclopcam/roomalign/pkg/patch"
	"github.com/cyclopcam/roomalign/pkg/plymesh"
	"github.com/cyclopcam/roomalign/pkg/raycast"
	"github.com/cyclopcam/roomalign/pkg/scan3r"
	"github.com/cyclopcam/roomalign/pkg/sceneindex"
	"github.com/cyclopcam/roomalign/pkg/vis"
	"github.com/cyclopcam/roomalign/server/config"
	plog "github.com/cyclopcam/roomalign/server/log"
)

type Runner struct {
	Log    *plog.PrefixLogger
	Layout artifact.Layout

	cfg    *config.Config
	ledger *Ledger
}

// Summary is the outcome of Run
type Summary struct {
	Done     []string
	Skipped  []string          // Already done by an earlier run
	Failed   map[string]string // Scan -> error
	Duration time.Duration
}

// NewRunner opens the ledger in the dataset's files directory
func NewRunner(log logs.Log, cfg *config.Config) (*Runner, error) {
	if err := cfg.ValidatePreprocess(); err != nil {
		return nil, err
	}
	layout := artifact.NewLayout(cfg.Data.RootDir, cfg.SGAligner.ScanType, cfg.SGAligner.UsePredicted, "orig")
	if err := os.MkdirAll(layout.FilesDir(), 0755); err != nil {
		return nil, err
	}
	prefixed := plog.NewPrefixLogger(log, "preprocess")
	ledger, err := OpenLedger(prefixed, layout.LedgerFile())
	if err != nil {
		return nil, err
	}
	return &Runner{
		Log:    prefixed,
		Layout: layout,
		cfg:    cfg,
		ledger: ledger,
	}, nil
}

func (r *Runner) Close() {
	r.ledger.Close()
}

func (r *Runner) Ledger() *Ledger {
	return r.ledger
}

// ListScans returns the reference scans whose table type is split, and
// optionally their rescans, in ascending order.
func ListScans(groups []sceneindex.Group, split string, rescan bool) []string {
	scans := []string{}
	for _, g := range groups {
		if g.Type != split {
			continue
		}
		scans = append(scans, g.Reference)
		if rescan {
			for _, s := range g.Scans {
				scans = append(scans, s.Reference)
			}
		}
	}
	slices.Sort(scans)
	return scans
}

// Scans lists the scans selected by the preprocess config
func (r *Runner) Scans() ([]string, error) {
	fn := r.Layout.ScanTableFile()
	groups, err := artifact.LoadScanTable(fn)
	if err != nil {
		return nil, artifact.Missing("*", "scan table", fn, err)
	}
	return ListScans(groups, r.cfg.Preprocess.Split, r.cfg.Preprocess.Rescan), nil
}

// Run processes scans on a fixed pool of workers. A scan that fails is
// recorded in the ledger and the summary, and does not stop the others.
// Once ctx is cancelled no new scans are started, and ctx.Err() is returned
// after the in-flight scans finish.
func (r *Runner) Run(ctx context.Context, scans []string) (*Summary, error) {
	summary, err := runPool(ctx, r.cfg.Preprocess.Workers, scans, r.runScan)
	r.Log.Infof("%v done, %v skipped, %v failed, in %.1f seconds", len(summary.Done), len(summary.Skipped), len(summary.Failed), summary.Duration.Seconds())
	return summary, err
}

// runPool calls fn for every scan, on at most 'workers' goroutines
func runPool(ctx context.Context, workers int, scans []string, fn func(scan string) (skipped bool, err error)) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		Failed: map[string]string{},
	}
	var summaryLock sync.Mutex

	queue := make(chan string, len(scans))
	for _, s := range scans {
		queue <- s
	}
	close(queue)

	nThreads := min(workers, max(1, len(scans)))
	threadResults := make(chan error, nThreads)
	worker := func() {
		for scan := range queue {
			if ctx.Err() != nil {
				break
			}
			skipped, err := fn(scan)
			summaryLock.Lock()
			if err != nil {
				summary.Failed[scan] = err.Error()
			} else if skipped {
				summary.Skipped = append(summary.Skipped, scan)
			} else {
				summary.Done = append(summary.Done, scan)
			}
			summaryLock.Unlock()
		}
		threadResults <- nil
	}
	for i := 0; i < nThreads; i++ {
		go worker()
	}
	for i := 0; i < nThreads; i++ {
		<-threadResults
	}
	slices.Sort(summary.Done)
	slices.Sort(summary.Skipped)
	summary.Duration = time.Since(start)
	return summary, ctx.Err()
}

// runScan processes one scan, unless it is already done.
// Geometry and IO errors are logged and written to the ledger.
func (r *Runner) runScan(scan string) (skipped bool, err error) {
	log := r.Log.Scan(scan)
	if !r.cfg.Preprocess.Override {
		done, err := r.ledger.IsDone(scan)
		if err != nil {
			return false, err
		}
		if done && iox.FileExists(r.Layout.ObjectIDMapFile(scan)) {
			log.Debugf("Already done")
			return true, nil
		}
	}
	job := &ScanJob{
		ScanID:    scan,
		StartedAt: dbh.MakeIntTime(time.Now()),
	}
	nFrames, err := r.ProcessScan(scan)
	job.FinishedAt = dbh.MakeIntTime(time.Now())
	job.Frames = nFrames
	if err != nil {
		log.Errorf("Failed: %v", err)
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		log.Infof("Projected %v frames in %.1f seconds", nFrames, job.Duration().Seconds())
		job.Status = StatusDone
	}
	if ledgerErr := r.ledger.Record(job); ledgerErr != nil {
		log.Errorf("Failed to write ledger: %v", ledgerErr)
		if err == nil {
			err = ledgerErr
		}
	}
	return false, err
}

// ProcessScan projects the scan's mesh into every step'th frame, and writes
// the outputs. Returns the number of frames projected.
func (r *Runner) ProcessScan(scan string) (int, error) {
	pc := &r.cfg.Preprocess
	meshFile := r.Layout.MeshFile(scan)
	ply, err := plymesh.ReadFile(meshFile, plymesh.DefaultLabelProperty)
	if err != nil {
		return 0, artifact.Missing(scan, "mesh", meshFile, err)
	}
	mesh := raycast.MeshFromPLY(ply)

	seqDir := r.Layout.SequenceDir(scan)
	allFrames, err := scan3r.ListFrames(seqDir)
	if err != nil {
		return 0, artifact.Missing(scan, "frame sequence", seqDir, err)
	}
	frames := scan3r.Subsample(allFrames, pc.Step)
	k, err := scan3r.LoadIntrinsics(seqDir)
	if err != nil {
		return 0, err
	}
	poses, err := scan3r.LoadPoses(seqDir, frames)
	if err != nil {
		return 0, err
	}
	extrinsics := make([]geom.Mat4, len(poses))
	for i, pose := range poses {
		if extrinsics[i], err = pose.Inverse(); err != nil {
			return 0, fmt.Errorf("Pose of frame %v: %w", frames[i], err)
		}
	}

	projections, err := raycast.Project(mesh, frames, extrinsics, []geom.Intrinsics{k})
	if err != nil {
		return 0, err
	}

	idMaps := make(map[int]*patch.IDImage, len(projections))
	for frame, p := range projections {
		idMaps[frame] = &patch.IDImage{Width: p.Width, Height: p.Height, Pixels: p.ObjectIDs}
	}
	if err := artifact.WriteObjectIDMaps(r.Layout.ObjectIDMapFile(scan), idMaps); err != nil {
		return 0, err
	}

	if pc.WriteColor {
		for frame, p := range projections {
			if err := r.writeColor(scan, frame, p); err != nil {
				return 0, err
			}
		}
	}

	var annos map[int]*patch.Annotation
	if enc := &r.cfg.Data.ImgEncoding; (pc.WritePatchAnno || pc.WriteVis) && enc.PatchW > 0 && enc.PatchH > 0 {
		if annos, err = r.quantizeAll(idMaps); err != nil {
			return 0, err
		}
	}
	if pc.WritePatchAnno {
		if err := r.writePatchAnnotations(scan, annos); err != nil {
			return 0, err
		}
	}

	if pc.WriteVis {
		if err := r.writeVis(scan, idMaps, annos); err != nil {
			return 0, err
		}
	}
	return len(projections), nil
}

// AnnotateScan rebuilds the patch annotation cache of a scan from its
// object id maps, for a patch grid other than the one used at projection time.
func (r *Runner) AnnotateScan(scan string) (int, error) {
	fn := r.Layout.ObjectIDMapFile(scan)
	idMaps, err := artifact.ReadObjectIDMaps(fn)
	if err != nil {
		return 0, artifact.Missing(scan, "object id maps", fn, err)
	}
	annos, err := r.quantizeAll(idMaps)
	if err != nil {
		return 0, err
	}
	return len(annos), r.writePatchAnnotations(scan, annos)
}

func (r *Runner) quantizeAll(idMaps map[int]*patch.IDImage) (map[int]*patch.Annotation, error) {
	enc := &r.cfg.Data.ImgEncoding
	annos := make(map[int]*patch.Annotation, len(idMaps))
	for frame, m := range idMaps {
		a, err := patch.Quantize(m, enc.PatchH, enc.PatchW, r.cfg.Preprocess.PatchThreshold)
		if err != nil {
			return nil, fmt.Errorf("Frame %v: %w", frame, err)
		}
		annos[frame] = a
	}
	return annos, nil
}

func (r *Runner) writePatchAnnotations(scan string, annos map[int]*patch.Annotation) error {
	enc := &r.cfg.Data.ImgEncoding
	return artifact.WritePatchAnnotations(r.Layout.PatchAnnotationFile(scan, enc.PatchW, enc.PatchH), annos)
}

func (r *Runner) writeColor(scan string, frame int, p *raycast.Projection) error {
	img := cimg.NewImage(p.Width, p.Height, cimg.PixelFormatRGB)
	for y := 0; y < p.Height; y++ {
		copy(img.Pixels[y*img.Stride:y*img.Stride+p.Width*3], p.Color[y*p.Width*3:(y+1)*p.Width*3])
	}
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 90, 0))
	if err != nil {
		return err
	}
	fn := filepath.Join(r.Layout.ColorDir(scan), scan3r.FrameName(frame)+".jpg")
	return iox.WriteFileAtomic(fn, func(w io.Writer) error {
		_, err := w.Write(jpg)
		return err
	})
}

// writeVis renders every frame's object ids, with the patch grid on top if
// annos is not nil. A scan's palette depends only on the seed and the scan id.
func (r *Runner) writeVis(scan string, idMaps map[int]*patch.IDImage, annos map[int]*patch.Annotation) error {
	ids := []int32{}
	for _, m := range idMaps {
		ids = append(ids, vis.IDs(m)...)
	}
	rng := rand.New(rand.NewPCG(r.cfg.Seed, xxhash.Sum64String(scan)))
	palette := vis.NewPalette(rng, ids)
	dir := r.Layout.VisDir(scan)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for frame, m := range idMaps {
		img := vis.RenderIDImage(m, palette)
		var out image.Image = img
		if a := annos[frame]; a != nil {
			out = vis.DrawPatchGrid(img, a, palette, false)
		}
		if err := vis.SavePNG(filepath.Join(dir, scan3r.FrameName(frame)+".png"), out); err != nil {
			return err
		}
	}
	return nil
}
