// Package training drives the staged transfer-learning schedule: a
// dense-head stage on the frozen backbone, then one or two fine-tune
// stages that progressively unfreeze backbone layers.
package training

import (
	"log"
	"math"
	"path/filepath"
	"time"

	"github.com/82ndAirborneDiv/coolit.train/checkpoints"
	"github.com/82ndAirborneDiv/coolit.train/config"
	"github.com/82ndAirborneDiv/coolit.train/engine"
	"github.com/82ndAirborneDiv/coolit.train/feed"
	"github.com/82ndAirborneDiv/coolit.train/model"
	"github.com/pkg/errors"
)

// Stage names, also used in artifact filenames.
const (
	StageDenseHead = "dense-head"
	StageFineTune1 = "fine-tune-1"
	StageFineTune2 = "fine-tune-2"
)

// Feed yields training or validation batches indefinitely.
type Feed interface {
	Next() (*feed.Batch, error)
}

// Trainable is the slice of the compute engine the controller drives.
// Tests substitute a stub to exercise the schedule without real
// training.
type Trainable interface {
	Spec() *model.Spec
	Compile(opt engine.Optimizer, classWeights map[int]float64)
	TrainBatch(data []float32, labels []int) (loss, acc float64, err error)
	EvaluateBatch(data []float32, labels []int) (loss, acc float64, err error)
	ExportWeights() []engine.Tensor
}

// Stage pairs a stage name with its configuration.
type Stage struct {
	Name   string
	Config config.StageConfig
}

// EpochStats is one epoch's averaged metrics.
type EpochStats struct {
	Epoch        int
	Loss         float64
	Accuracy     float64
	ValLoss      float64
	ValAccuracy  float64
	LearningRate float64
}

// StageResult summarizes one completed stage. BestEpoch is the first
// epoch that reached the minimum validation loss; BestValAccuracy is
// the validation accuracy at that epoch.
type StageResult struct {
	Stage               string
	TrainableParameters int64
	Epochs              []EpochStats
	BestEpoch           int
	BestValLoss         float64
	BestValAccuracy     float64
	Duration            time.Duration
	CheckpointPath      string
	LogPath             string
}

// RunResult collects all stage results for the reporter.
type RunResult struct {
	Stages          []StageResult
	FinalCheckpoint string
}

// Controller owns one training run.
type Controller struct {
	cfg    *config.RunConfig
	net    Trainable
	train  Feed
	valid  Feed
	outDir string
}

func NewController(cfg *config.RunConfig, net Trainable, train, valid Feed, outDir string) *Controller {
	return &Controller{cfg: cfg, net: net, train: train, valid: valid, outDir: outDir}
}

// Stages builds the schedule a run config describes, in order.
func Stages(cfg *config.RunConfig) []Stage {
	stages := []Stage{
		{Name: StageDenseHead, Config: cfg.DenseHead},
		{Name: StageFineTune1, Config: cfg.FineTune1},
	}
	if cfg.DoSecondFineTune && cfg.FineTune2 != nil {
		stages = append(stages, Stage{Name: StageFineTune2, Config: *cfg.FineTune2})
	}
	return stages
}

// Run executes every stage in order. Each fine-tune stage must widen
// (or keep) the trainable region of the previous one; a schedule that
// re-freezes layers is rejected.
func (c *Controller) Run() (*RunResult, error) {
	res := &RunResult{}
	prevTrainable := int64(-1)

	for _, stage := range Stages(c.cfg) {
		sr, err := c.runStage(stage)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %s", stage.Name)
		}
		if sr.TrainableParameters < prevTrainable {
			return nil, errors.Errorf("stage %s shrinks the trainable region (%d < %d parameters)",
				stage.Name, sr.TrainableParameters, prevTrainable)
		}
		prevTrainable = sr.TrainableParameters
		res.Stages = append(res.Stages, sr)
		res.FinalCheckpoint = sr.CheckpointPath
	}
	return res, nil
}

func (c *Controller) runStage(stage Stage) (sr StageResult, err error) {
	sr = StageResult{Stage: stage.Name, BestValLoss: math.Inf(1)}
	start := time.Now()
	defer func() { sr.Duration = time.Since(start) }()

	if err := c.net.Spec().SetTrainableFrom(stage.Config.UnfreezeFrom); err != nil {
		return sr, err
	}
	sr.TrainableParameters = c.net.Spec().TrainableParameters()

	opt, err := engine.NewOptimizer(stage.Config.Optimizer, stage.Config.LearningRate)
	if err != nil {
		return sr, err
	}
	var classWeights map[int]float64
	if stage.Config.ApplyClassWeights {
		classWeights = c.cfg.ClassWeights
	}
	c.net.Compile(opt, classWeights)

	sr.CheckpointPath = filepath.Join(c.outDir, stage.Name+"-model.json")
	sr.LogPath = filepath.Join(c.outDir, stage.Name+"-log.csv")

	csvLog, err := newCSVLogger(sr.LogPath)
	if err != nil {
		return sr, err
	}
	defer csvLog.Close()

	var plateau *plateauScheduler
	if stage.Config.ReduceLROnPlateau {
		plateau = newPlateauScheduler(opt)
	}

	log.Printf("stage %s: %d trainable parameters, %s lr=%g, %d epochs",
		stage.Name, sr.TrainableParameters, opt.Name(), opt.GetLR(), stage.Config.Epochs)

	for epoch := 1; epoch <= stage.Config.Epochs; epoch++ {
		stats, err := c.runEpoch(stage, epoch)
		if err != nil {
			return sr, err
		}
		stats.LearningRate = opt.GetLR()
		sr.Epochs = append(sr.Epochs, stats)

		if err := csvLog.Write(stats); err != nil {
			return sr, err
		}
		log.Printf("stage %s epoch %d/%d: loss=%.4f acc=%.4f val_loss=%.4f val_acc=%.4f",
			stage.Name, epoch, stage.Config.Epochs, stats.Loss, stats.Accuracy, stats.ValLoss, stats.ValAccuracy)

		improved := stats.ValLoss < sr.BestValLoss
		if improved {
			sr.BestValLoss = stats.ValLoss
			sr.BestValAccuracy = stats.ValAccuracy
			sr.BestEpoch = epoch
		}
		if improved || !c.cfg.SaveBestOnly {
			cp := &checkpoints.Checkpoint{
				Spec:    c.net.Spec(),
				Weights: c.net.ExportWeights(),
				State: checkpoints.TrainingState{
					Stage:        stage.Name,
					Epoch:        epoch,
					ValLoss:      stats.ValLoss,
					ValAccuracy:  stats.ValAccuracy,
					Optimizer:    opt.Name(),
					LearningRate: opt.GetLR(),
				},
			}
			if err := checkpoints.Save(sr.CheckpointPath, cp); err != nil {
				return sr, err
			}
		}

		if plateau != nil {
			plateau.Observe(stats.ValLoss)
		}
	}
	return sr, nil
}

func (c *Controller) runEpoch(stage Stage, epoch int) (EpochStats, error) {
	stats := EpochStats{Epoch: epoch}

	for step := 0; step < stage.Config.StepsPerEpoch; step++ {
		b, err := c.train.Next()
		if err != nil {
			return stats, errors.Wrap(err, "training batch")
		}
		loss, acc, err := c.net.TrainBatch(b.Data, b.Labels)
		if err != nil {
			return stats, err
		}
		stats.Loss += loss
		stats.Accuracy += acc
	}
	stats.Loss /= float64(stage.Config.StepsPerEpoch)
	stats.Accuracy /= float64(stage.Config.StepsPerEpoch)

	for step := 0; step < stage.Config.ValidationSteps; step++ {
		b, err := c.valid.Next()
		if err != nil {
			return stats, errors.Wrap(err, "validation batch")
		}
		loss, acc, err := c.net.EvaluateBatch(b.Data, b.Labels)
		if err != nil {
			return stats, err
		}
		stats.ValLoss += loss
		stats.ValAccuracy += acc
	}
	stats.ValLoss /= float64(stage.Config.ValidationSteps)
	stats.ValAccuracy /= float64(stage.Config.ValidationSteps)

	return stats, nil
}
