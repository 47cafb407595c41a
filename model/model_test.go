package model

import (
	"strings"
	"testing"

	"github.com/82ndAirborneDiv/coolit.train/config"
)

func assembleConfig() *config.RunConfig {
	return &config.RunConfig{
		ImgWidth:  64,
		ImgHeight: 64,
		Backbone:  "vgg16",
		DenseLayers: []config.DenseLayerSpec{
			{Units: 256, Dropout: 0.5},
			{Units: 64},
		},
	}
}

func TestBackboneConvCounts(t *testing.T) {
	cases := map[string]int{"vgg16": 13, "vgg19": 16}
	for name, want := range cases {
		convs, err := BackboneConvNames(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(convs) != want {
			t.Errorf("%s conv count = %d, want %d", name, len(convs), want)
		}
		if convs[0] != "block1_conv1" {
			t.Errorf("%s first conv = %s", name, convs[0])
		}
	}
	if _, err := BackboneLayers("resnet50"); err == nil {
		t.Error("expected error for unknown architecture")
	}
}

func TestAssembleShapesAndParams(t *testing.T) {
	s, err := Assemble(assembleConfig())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !s.Compiled {
		t.Fatal("model not compiled")
	}
	if got := s.OutputShape; len(got) != 1 || got[0] != 1 {
		t.Errorf("output shape = %v, want [1]", got)
	}

	// 64 halves through five pools down to 2, so the flattened feature
	// vector is 512*2*2.
	fi := s.LayerIndex("flatten")
	if fi < 0 {
		t.Fatal("flatten layer missing")
	}
	if got := s.Layers[fi].OutputShape[0]; got != 512*2*2 {
		t.Errorf("flatten size = %d, want %d", got, 512*2*2)
	}

	ci := s.LayerIndex("block1_conv1")
	if got := s.Layers[ci].ParameterCount; got != 1792 {
		t.Errorf("block1_conv1 params = %d, want 1792", got)
	}

	if s.LayerIndex("fc1_dropout") < 0 {
		t.Error("fc1 dropout missing for rate 0.5")
	}
	if s.LayerIndex("fc2_dropout") >= 0 {
		t.Error("fc2 dropout emitted for rate 0")
	}
}

func TestAssembleSmallFinalLayer(t *testing.T) {
	cfg := assembleConfig()
	cfg.AddSmallFinalLayer = true
	cfg.SmallFinalLayerSize = 16

	s, err := Assemble(cfg)
	if err != nil {
		t.Fatal(err)
	}
	i := s.LayerIndex("fc_small")
	if i < 0 {
		t.Fatal("fc_small missing")
	}
	if got := s.Layers[i].OutputSize; got != 16 {
		t.Errorf("fc_small size = %d, want 16", got)
	}
	pi := s.LayerIndex("predictions")
	if got := s.Layers[pi].InputSize; got != 16 {
		t.Errorf("predictions input = %d, want 16", got)
	}
}

func TestSetTrainableFromUnfreezesProgressively(t *testing.T) {
	s, err := Assemble(assembleConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetTrainableFrom(""); err != nil {
		t.Fatal(err)
	}
	headOnly := s.TrainableParameters()
	if headOnly <= 0 {
		t.Fatal("head parameters not trainable with frozen backbone")
	}
	for _, l := range s.Layers {
		if l.Backbone && l.Trainable {
			t.Fatalf("backbone layer %s trainable after full freeze", l.Name)
		}
	}

	if err := s.SetTrainableFrom("block5_conv1"); err != nil {
		t.Fatal(err)
	}
	fromB5 := s.TrainableParameters()

	if err := s.SetTrainableFrom("block4_conv1"); err != nil {
		t.Fatal(err)
	}
	fromB4 := s.TrainableParameters()

	if !(headOnly < fromB5 && fromB5 < fromB4) {
		t.Errorf("trainable params not increasing: %d, %d, %d", headOnly, fromB5, fromB4)
	}

	// Layers before the boundary stay frozen, the boundary and later
	// backbone layers train.
	if err := s.SetTrainableFrom("block5_conv1"); err != nil {
		t.Fatal(err)
	}
	b := s.LayerIndex("block5_conv1")
	for i, l := range s.Layers {
		if !l.Backbone {
			continue
		}
		want := i >= b
		if l.Trainable != want {
			t.Errorf("layer %s trainable = %v, want %v", l.Name, l.Trainable, want)
		}
	}

	if err := s.SetTrainableFrom("flatten"); err == nil {
		t.Error("expected error unfreezing from a head layer")
	}
	if err := s.SetTrainableFrom("no_such_layer"); err == nil {
		t.Error("expected error for unknown layer name")
	}
}

func TestSummaryListsLayers(t *testing.T) {
	s, err := Assemble(assembleConfig())
	if err != nil {
		t.Fatal(err)
	}
	sum := s.Summary()
	for _, want := range []string{"block1_conv1", "flatten", "predictions", "Total parameters"} {
		if !strings.Contains(sum, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}
