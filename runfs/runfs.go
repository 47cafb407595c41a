// Package runfs derives the dataset layout for a run and provisions its
// output directory tree.
package runfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/82ndAirborneDiv/coolit.train/config"
	"github.com/82ndAirborneDiv/coolit.train/dataset"
	"github.com/pkg/errors"
)

// RunContext holds the resolved paths and dataset counts for one run.
// Fields are computed once; the output directories are created once and
// never reused across runs.
type RunContext struct {
	TrainDir string
	ValidDir string

	// OutputDir is the dated run directory; ModelDir the timestamped
	// subdirectory that receives checkpoints and logs.
	OutputDir string
	ModelDir  string

	TrainPos, TrainNeg int
	ValidPos, ValidNeg int
}

// Derive resolves the train/validation directories and counts examples
// per class. It performs no writes, so a failure here leaves no partial
// state behind.
func Derive(cfg *config.RunConfig) (*RunContext, error) {
	root := filepath.Join(cfg.ImgBaseDir, cfg.ImgDir)
	ctx := &RunContext{
		TrainDir: filepath.Join(root, "train"),
		ValidDir: filepath.Join(root, "validation"),
	}

	for _, dir := range []string{ctx.TrainDir, ctx.ValidDir} {
		for _, class := range []string{dataset.PositiveClass, dataset.NegativeClass} {
			sub := filepath.Join(dir, class)
			info, err := os.Stat(sub)
			if err != nil || !info.IsDir() {
				return nil, errors.Errorf("expected class subfolder %s", sub)
			}
		}
	}

	var err error
	if ctx.TrainPos, ctx.TrainNeg, err = countClass(ctx.TrainDir); err != nil {
		return nil, err
	}
	if ctx.ValidPos, ctx.ValidNeg, err = countClass(ctx.ValidDir); err != nil {
		return nil, err
	}
	return ctx, nil
}

func countClass(dir string) (pos, neg int, err error) {
	ds, err := dataset.Open(dir)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "counting examples under %s", dir)
	}
	pos, neg = ds.ClassCounts()
	return pos, neg, nil
}

// Provision creates the per-run output tree:
// <OutputBaseDir>/<date>/models/<timestamp>/. Collisions within the
// same second are not handled; one run per process invocation is
// assumed.
func (ctx *RunContext) Provision(cfg *config.RunConfig, now time.Time) error {
	ctx.OutputDir = filepath.Join(cfg.OutputBaseDir, now.Format("2006-01-02"))
	ctx.ModelDir = filepath.Join(ctx.OutputDir, "models", now.Format("20060102-150405"))
	if err := os.MkdirAll(ctx.ModelDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating run directory %s", ctx.ModelDir)
	}
	return nil
}

// Summary describes the dataset for run logging.
func (ctx *RunContext) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "train: %d %s, %d %s (%s)\n",
		ctx.TrainPos, dataset.PositiveClass, ctx.TrainNeg, dataset.NegativeClass, ctx.TrainDir)
	fmt.Fprintf(&sb, "validation: %d %s, %d %s (%s)\n",
		ctx.ValidPos, dataset.PositiveClass, ctx.ValidNeg, dataset.NegativeClass, ctx.ValidDir)
	return sb.String()
}
