package training

import (
	"os"
	"strings"
	"testing"

	"github.com/82ndAirborneDiv/coolit.train/checkpoints"
	"github.com/82ndAirborneDiv/coolit.train/config"
	"github.com/82ndAirborneDiv/coolit.train/engine"
	"github.com/82ndAirborneDiv/coolit.train/feed"
	"github.com/82ndAirborneDiv/coolit.train/model"
)

// stubNet scripts validation losses so controller behavior can be
// checked without real training.
type stubNet struct {
	spec       *model.Spec
	evalLosses []float64

	trainCalls int
	evalCalls  int
	optimizers []string
	weighted   []bool
}

func newStubNet(t *testing.T) *stubNet {
	t.Helper()
	s := &model.Spec{
		InputShape: []int{1, 2, 2},
		Layers: []model.LayerSpec{
			{Type: model.Conv2D, Name: "conv1", OutChannels: 2, KernelSize: 1, Backbone: true},
			{Type: model.ReLU, Name: "conv1_relu", Backbone: true},
			{Type: model.Conv2D, Name: "conv2", OutChannels: 2, KernelSize: 1, Backbone: true},
			{Type: model.ReLU, Name: "conv2_relu", Backbone: true},
			{Type: model.Flatten, Name: "flatten", Trainable: true},
			{Type: model.Dense, Name: "out", OutputSize: 1, Trainable: true},
			{Type: model.Sigmoid, Name: "out_sigmoid", Trainable: true},
		},
	}
	if err := s.Compile(); err != nil {
		t.Fatal(err)
	}
	return &stubNet{spec: s}
}

func (s *stubNet) Spec() *model.Spec { return s.spec }

func (s *stubNet) Compile(opt engine.Optimizer, classWeights map[int]float64) {
	s.optimizers = append(s.optimizers, opt.Name())
	s.weighted = append(s.weighted, classWeights != nil)
}

func (s *stubNet) TrainBatch(data []float32, labels []int) (float64, float64, error) {
	s.trainCalls++
	return 1.0, 0.5, nil
}

func (s *stubNet) EvaluateBatch(data []float32, labels []int) (float64, float64, error) {
	loss := 0.5
	if s.evalCalls < len(s.evalLosses) {
		loss = s.evalLosses[s.evalCalls]
	}
	s.evalCalls++
	return loss, 0.5, nil
}

func (s *stubNet) ExportWeights() []engine.Tensor { return nil }

// stubFeed yields the same one-sample batch forever.
type stubFeed struct{}

func (stubFeed) Next() (*feed.Batch, error) {
	return &feed.Batch{Data: []float32{0}, Labels: []int{1}, Paths: []string{"x"}, Size: 1}, nil
}

func controllerConfig() *config.RunConfig {
	return &config.RunConfig{
		SaveBestOnly: true,
		ClassWeights: map[int]float64{0: 1.0, 1: 2.0},
		DenseHead: config.StageConfig{
			Optimizer: "rmsprop", LearningRate: 1e-4,
			StepsPerEpoch: 2, Epochs: 3, ValidationSteps: 1,
			ApplyClassWeights: true,
		},
		FineTune1: config.StageConfig{
			Optimizer: "sgd", LearningRate: 1e-5,
			StepsPerEpoch: 2, Epochs: 1, ValidationSteps: 1,
			UnfreezeFrom: "conv1",
		},
	}
}

func TestStagesSchedule(t *testing.T) {
	cfg := controllerConfig()
	if got := Stages(cfg); len(got) != 2 {
		t.Fatalf("stage count = %d, want 2", len(got))
	}
	cfg.DoSecondFineTune = true
	cfg.FineTune2 = &config.StageConfig{Optimizer: "sgd", UnfreezeFrom: "conv1", Epochs: 1}
	got := Stages(cfg)
	if len(got) != 3 || got[2].Name != StageFineTune2 {
		t.Fatalf("stages = %+v", got)
	}
}

func TestRunExecutesSchedule(t *testing.T) {
	cfg := controllerConfig()
	net := newStubNet(t)
	net.evalLosses = []float64{0.5, 0.4, 0.45, 0.3}
	dir := t.TempDir()

	ctrl := NewController(cfg, net, stubFeed{}, stubFeed{}, dir)
	res, err := ctrl.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Stages) != 2 {
		t.Fatalf("stage results = %d, want 2", len(res.Stages))
	}
	// 2 steps per epoch, 3 + 1 epochs.
	if net.trainCalls != 2*3+2*1 {
		t.Errorf("train calls = %d, want 8", net.trainCalls)
	}
	if got := net.optimizers; len(got) != 2 || got[0] != "rmsprop" || got[1] != "sgd" {
		t.Errorf("optimizers = %v", got)
	}
	if !net.weighted[0] || net.weighted[1] {
		t.Errorf("class weighting = %v, want [true false]", net.weighted)
	}

	head := res.Stages[0]
	if head.BestEpoch != 2 || head.BestValLoss != 0.4 {
		t.Errorf("best epoch = %d (%v), want 2 (0.4)", head.BestEpoch, head.BestValLoss)
	}
	ft := res.Stages[1]
	if ft.TrainableParameters <= head.TrainableParameters {
		t.Errorf("fine-tune did not widen trainable region: %d <= %d",
			ft.TrainableParameters, head.TrainableParameters)
	}
	if res.FinalCheckpoint != ft.CheckpointPath {
		t.Errorf("final checkpoint = %s", res.FinalCheckpoint)
	}

	for _, sr := range res.Stages {
		if _, err := os.Stat(sr.CheckpointPath); err != nil {
			t.Errorf("checkpoint missing for %s: %v", sr.Stage, err)
		}
		raw, err := os.ReadFile(sr.LogPath)
		if err != nil {
			t.Fatalf("log missing for %s: %v", sr.Stage, err)
		}
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		if want := len(sr.Epochs) + 1; len(lines) != want {
			t.Errorf("%s log rows = %d, want %d", sr.Stage, len(lines), want)
		}
	}
}

func TestSaveBestOnlyKeepsFirstMinimum(t *testing.T) {
	cfg := controllerConfig()
	net := newStubNet(t)
	// Epoch 2 is the first minimum; epoch 3 ties it and must not
	// replace the checkpoint.
	net.evalLosses = []float64{0.5, 0.4, 0.4, 0.3}
	dir := t.TempDir()

	res, err := NewController(cfg, net, stubFeed{}, stubFeed{}, dir).Run()
	if err != nil {
		t.Fatal(err)
	}
	cp, err := checkpoints.Load(res.Stages[0].CheckpointPath)
	if err != nil {
		t.Fatal(err)
	}
	if cp.State.Epoch != 2 {
		t.Errorf("checkpointed epoch = %d, want 2", cp.State.Epoch)
	}
	if res.Stages[0].BestEpoch != 2 {
		t.Errorf("best epoch = %d, want 2", res.Stages[0].BestEpoch)
	}
}

func TestRunRejectsShrinkingUnfreeze(t *testing.T) {
	cfg := controllerConfig()
	cfg.DoSecondFineTune = true
	// conv2 is later than conv1, so the second fine-tune would shrink
	// the trainable region.
	cfg.FineTune2 = &config.StageConfig{
		Optimizer: "sgd", LearningRate: 1e-6,
		StepsPerEpoch: 1, Epochs: 1, ValidationSteps: 1,
		UnfreezeFrom: "conv2",
	}
	net := newStubNet(t)

	if _, err := NewController(cfg, net, stubFeed{}, stubFeed{}, t.TempDir()).Run(); err == nil {
		t.Fatal("expected error for shrinking unfreeze boundary")
	}
}

func TestPlateauSchedulerCutsLR(t *testing.T) {
	opt := engine.NewSGD(0.1, 0.9)
	p := newPlateauScheduler(opt)

	p.Observe(0.5)
	for i := 0; i < plateauPatience; i++ {
		p.Observe(0.6)
	}
	if got := opt.GetLR(); got != 0.1*plateauFactor {
		t.Errorf("lr after plateau = %v, want %v", got, 0.1*plateauFactor)
	}

	// An improvement resets the wait counter.
	p.Observe(0.4)
	p.Observe(0.6)
	if got := opt.GetLR(); got != 0.1*plateauFactor {
		t.Errorf("lr cut too eagerly: %v", got)
	}
}
