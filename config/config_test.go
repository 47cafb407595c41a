package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *RunConfig {
	return &RunConfig{
		ImgBaseDir:    "/data",
		ImgDir:        "towers",
		OutputBaseDir: "/data/output",
		ImgWidth:      150,
		ImgHeight:     150,
		BatchSize:     16,
		Backbone:      "vgg16",
		DenseLayers:   []DenseLayerSpec{{Units: 256, Dropout: 0.5}},
		ClassWeights:  map[int]float64{0: 1.0, 1: 3.0},
		SaveBestOnly:  true,
		DenseHead: StageConfig{
			Optimizer:         "rmsprop",
			LearningRate:      2e-5,
			StepsPerEpoch:     100,
			Epochs:            10,
			ValidationSteps:   50,
			ApplyClassWeights: true,
		},
		FineTune1: StageConfig{
			Optimizer:         "sgd",
			LearningRate:      1e-5,
			StepsPerEpoch:     100,
			Epochs:            10,
			ValidationSteps:   50,
			UnfreezeFrom:      "block5_conv1",
			ReduceLROnPlateau: true,
		},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateSecondFineTune(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing stage", func(c *RunConfig) { c.FineTune2 = nil }},
		{"missing optimizer", func(c *RunConfig) { c.FineTune2.Optimizer = "" }},
		{"missing lr", func(c *RunConfig) { c.FineTune2.LearningRate = 0 }},
		{"missing steps", func(c *RunConfig) { c.FineTune2.StepsPerEpoch = 0 }},
		{"missing epochs", func(c *RunConfig) { c.FineTune2.Epochs = 0 }},
		{"missing validation steps", func(c *RunConfig) { c.FineTune2.ValidationSteps = 0 }},
		{"missing unfreeze layer", func(c *RunConfig) { c.FineTune2.UnfreezeFrom = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.DoSecondFineTune = true
			c.FineTune2 = &StageConfig{
				Optimizer:       "sgd",
				LearningRate:    1e-6,
				StepsPerEpoch:   100,
				Epochs:          5,
				ValidationSteps: 50,
				UnfreezeFrom:    "block4_conv1",
			}
			tt.mutate(c)

			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Rule != "second-fine-tune" && verr.Rule != "optimizer" {
				t.Errorf("unexpected rule %q", verr.Rule)
			}
		})
	}

	// The same stage config is fine when the second fine-tune is off.
	c := validConfig()
	c.DoSecondFineTune = false
	c.FineTune2 = nil
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateSmallFinalLayer(t *testing.T) {
	c := validConfig()
	c.AddSmallFinalLayer = true
	c.SmallFinalLayerSize = 0

	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if verr := err.(*ValidationError); verr.Rule != "small-final-layer" {
		t.Errorf("rule = %q, want small-final-layer", verr.Rule)
	}

	c.SmallFinalLayerSize = 16
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsUnknownNames(t *testing.T) {
	c := validConfig()
	c.Backbone = "resnet50v9"
	if err := c.Validate(); err == nil || err.(*ValidationError).Rule != "backbone" {
		t.Errorf("backbone: got %v, want backbone rule", err)
	}

	c = validConfig()
	c.DenseHead.Optimizer = "rmspr0p"
	if err := c.Validate(); err == nil || err.(*ValidationError).Rule != "optimizer" {
		t.Errorf("optimizer: got %v, want optimizer rule", err)
	}
}

func TestValidateRejectsBadScalars(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		mutate func(*RunConfig)
	}{
		{"zero width", "image-size", func(c *RunConfig) { c.ImgWidth = 0 }},
		{"negative height", "image-size", func(c *RunConfig) { c.ImgHeight = -1 }},
		{"zero batch", "batch-size", func(c *RunConfig) { c.BatchSize = 0 }},
		{"zero units", "dense-layers", func(c *RunConfig) { c.DenseLayers[0].Units = 0 }},
		{"dropout one", "dense-layers", func(c *RunConfig) { c.DenseLayers[0].Dropout = 1.0 }},
		{"bad class label", "class-weights", func(c *RunConfig) { c.ClassWeights[2] = 1.0 }},
		{"negative lr", "stage-fields", func(c *RunConfig) { c.FineTune1.LearningRate = -1 }},
		{"head unfreezes", "stage-fields", func(c *RunConfig) { c.DenseHead.UnfreezeFrom = "block1_conv1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if verr := err.(*ValidationError); verr.Rule != tt.rule {
				t.Errorf("rule = %q, want %q", verr.Rule, tt.rule)
			}
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run-config.json")

	c := validConfig()
	c.DoSecondFineTune = true
	c.FineTune2 = &StageConfig{
		Optimizer:       "adam",
		LearningRate:    1e-6,
		StepsPerEpoch:   80,
		Epochs:          4,
		ValidationSteps: 40,
		UnfreezeFrom:    "block4_conv1",
	}
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Backbone != c.Backbone || got.BatchSize != c.BatchSize {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.FineTune2 == nil || got.FineTune2.UnfreezeFrom != "block4_conv1" {
		t.Errorf("second fine-tune stage lost in round trip: %+v", got.FineTune2)
	}
	if got.ClassWeights[1] != 3.0 {
		t.Errorf("class weights lost in round trip: %v", got.ClassWeights)
	}
}

func TestWriteRunParameters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run-parameters.txt")

	if err := validConfig().WriteRunParameters(path); err != nil {
		t.Fatalf("WriteRunParameters: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	for _, want := range []string{"vgg16", "150x150", "rmsprop", "block5_conv1"} {
		if !strings.Contains(text, want) {
			t.Errorf("run-parameters.txt missing %q", want)
		}
	}
}
