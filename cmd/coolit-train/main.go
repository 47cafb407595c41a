// Command coolit-train runs one transfer-learning experiment: it
// assembles a classifier from a pretrained backbone, trains it in
// stages, scores the validation set, and writes the evaluation
// artifacts into a fresh run directory.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/82ndAirborneDiv/coolit.train/checkpoints"
	"github.com/82ndAirborneDiv/coolit.train/config"
	"github.com/82ndAirborneDiv/coolit.train/dataset"
	"github.com/82ndAirborneDiv/coolit.train/engine"
	"github.com/82ndAirborneDiv/coolit.train/evaluation"
	"github.com/82ndAirborneDiv/coolit.train/feed"
	"github.com/82ndAirborneDiv/coolit.train/model"
	"github.com/82ndAirborneDiv/coolit.train/runfs"
	"github.com/82ndAirborneDiv/coolit.train/training"
)

func main() {
	configPath := flag.String("config", "", "path to the run configuration (JSON)")
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	if *configPath == "" {
		log.Fatal("usage: coolit-train -config run.json")
	}
	if err := run(*configPath); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	seed := cfg.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Printf("random seed %d", seed)

	ctx, err := runfs.Derive(cfg)
	if err != nil {
		return err
	}
	if err := ctx.Provision(cfg, time.Now()); err != nil {
		return err
	}
	log.Printf("run directory %s", ctx.ModelDir)
	log.Print(ctx.Summary())

	if err := cfg.Save(filepath.Join(ctx.ModelDir, "run-config.json")); err != nil {
		return err
	}
	if err := cfg.WriteRunParameters(filepath.Join(ctx.ModelDir, "run-parameters.txt")); err != nil {
		return err
	}

	trainDS, err := dataset.Open(ctx.TrainDir)
	if err != nil {
		return err
	}
	validDS, err := dataset.Open(ctx.ValidDir)
	if err != nil {
		return err
	}

	spec, err := model.Assemble(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(ctx.ModelDir, "model-structure.txt"), []byte(spec.Summary()), 0o644); err != nil {
		return err
	}
	log.Printf("assembled %s classifier: %d parameters", cfg.Backbone, spec.TotalParameters)

	net, err := engine.NewNetwork(spec, seed)
	if err != nil {
		return err
	}
	if cfg.WeightsDir != "" {
		if err := checkpoints.LoadBackboneWeights(net, cfg.WeightsDir, cfg.Backbone); err != nil {
			return err
		}
	} else {
		log.Print("no weights directory configured, backbone starts from random initialization")
	}

	trainFeed := feed.NewTrainFeed(trainDS, cfg.ImgWidth, cfg.ImgHeight, cfg.BatchSize,
		cfg.HorizontalFlip, cfg.VerticalFlip, seed)
	validFeed := feed.NewValidationFeed(validDS, cfg.ImgWidth, cfg.ImgHeight, cfg.BatchSize)

	ctrl := training.NewController(cfg, net, trainFeed, validFeed, ctx.ModelDir)
	res, err := ctrl.Run()
	if err != nil {
		return err
	}

	// Restore the best weights of the final stage before scoring.
	best, err := checkpoints.Load(res.FinalCheckpoint)
	if err != nil {
		return err
	}
	if err := net.LoadWeights(best.Weights); err != nil {
		return err
	}
	log.Printf("scoring with %s epoch %d (val_loss=%.4f)",
		best.State.Stage, best.State.Epoch, best.State.ValLoss)

	return evaluate(net, validDS, cfg, ctx.ModelDir, res)
}

func evaluate(net *engine.Network, validDS *dataset.BinaryImageDataset, cfg *config.RunConfig, outDir string, res *training.RunResult) error {
	records, err := evaluation.Score(net, validDS, cfg.ImgWidth, cfg.ImgHeight)
	if err != nil {
		return err
	}
	evaluation.SortByProbability(records)

	predictionsPath := filepath.Join(outDir, "predicted-probs.csv")
	if err := evaluation.WritePredictions(predictionsPath, records); err != nil {
		return err
	}
	rows, err := evaluation.Sweep(records)
	if err != nil {
		return err
	}
	if err := evaluation.WriteConfusionCSV(filepath.Join(outDir, "valid-confusion-matrix.csv"), rows); err != nil {
		return err
	}

	// Summary metrics come from the persisted table, not the in-memory
	// records, so the artifact is the single source of truth.
	persisted, err := evaluation.ReadPredictions(predictionsPath)
	if err != nil {
		return err
	}
	auc, err := evaluation.AUCROC(persisted)
	if err != nil {
		return err
	}
	maxAcc, bestSplit, err := evaluation.MaxAccuracy(persisted)
	if err != nil {
		return err
	}

	if err := evaluation.PlotDistribution(filepath.Join(outDir, "probability-distribution.svg"), records); err != nil {
		return err
	}
	if err := evaluation.PlotROC(filepath.Join(outDir, "roc.svg"), records); err != nil {
		return err
	}

	summary := summarize(res, auc, maxAcc, bestSplit, len(records))
	if err := os.WriteFile(filepath.Join(outDir, "summary.txt"), []byte(summary), 0o644); err != nil {
		return err
	}
	log.Print(summary)
	return nil
}

func summarize(res *training.RunResult, auc, maxAcc, bestSplit float64, n int) string {
	s := fmt.Sprintf("validation examples: %d\nAUC: %.4f\nmax accuracy: %.4f at threshold %.4f\n",
		n, auc, maxAcc, bestSplit)
	for _, sr := range res.Stages {
		s += fmt.Sprintf("%s: best epoch %d, val_loss %.4f, val_acc %.4f, %d trainable parameters, %s\n",
			sr.Stage, sr.BestEpoch, sr.BestValLoss, sr.BestValAccuracy, sr.TrainableParameters,
			sr.Duration.Round(time.Second))
	}
	return s
}
