package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// DenseLayerSpec configures one dense block in the classification head.
// A dropout layer is emitted after the dense+relu pair only when Dropout
// is strictly positive.
type DenseLayerSpec struct {
	Units   int     `json:"units"`
	Dropout float64 `json:"dropout"`
}

// StageConfig holds the per-stage training parameters. Every training
// stage gets its own optimizer, learning rate and step/epoch budget.
type StageConfig struct {
	Optimizer       string  `json:"optimizer"`
	LearningRate    float64 `json:"learning_rate"`
	StepsPerEpoch   int     `json:"steps_per_epoch"`
	Epochs          int     `json:"epochs"`
	ValidationSteps int     `json:"validation_steps"`

	// UnfreezeFrom names the first backbone layer to make trainable;
	// that layer and everything after it train, everything before it
	// stays frozen. Empty means the whole backbone is frozen.
	UnfreezeFrom string `json:"unfreeze_from"`

	// ApplyClassWeights enables the configured class-weight mapping
	// during this stage's optimization. The shipped configuration turns
	// this on for the dense-head stage only.
	ApplyClassWeights bool `json:"apply_class_weights"`

	// ReduceLROnPlateau attaches the plateau scheduler to this stage.
	ReduceLROnPlateau bool `json:"reduce_lr_on_plateau"`
}

// RunConfig is the complete parameter set for one run. It is built
// once, validated eagerly, and read-only afterwards.
type RunConfig struct {
	// Dataset layout: <ImgBaseDir>/<ImgDir>/{train,validation}/{tower,notower}
	ImgBaseDir string `json:"img_base_dir"`
	ImgDir     string `json:"img_dir"`

	// OutputBaseDir receives one dated directory per run.
	OutputBaseDir string `json:"output_base_dir"`

	// WeightsDir holds pretrained backbone checkpoints, one JSON file
	// per architecture name. Empty means random initialization (tests).
	WeightsDir string `json:"weights_dir"`

	ImgWidth  int `json:"img_width"`
	ImgHeight int `json:"img_height"`
	BatchSize int `json:"batch_size"`

	Backbone string `json:"backbone"`

	DenseLayers []DenseLayerSpec `json:"dense_layers"`

	AddSmallFinalLayer  bool `json:"add_small_final_layer"`
	SmallFinalLayerSize int  `json:"small_final_layer_size"`

	// ClassWeights maps the binary label (0 or 1) to its loss weight.
	ClassWeights map[int]float64 `json:"class_weights"`

	// SaveBestOnly keeps only the lowest-validation-loss checkpoint per
	// stage; otherwise every epoch is persisted.
	SaveBestOnly bool `json:"save_best_only"`

	HorizontalFlip bool `json:"horizontal_flip"`
	VerticalFlip   bool `json:"vertical_flip"`

	DoSecondFineTune bool `json:"do_second_fine_tune"`

	DenseHead StageConfig  `json:"dense_head"`
	FineTune1 StageConfig  `json:"fine_tune_1"`
	FineTune2 *StageConfig `json:"fine_tune_2,omitempty"`

	// RandSeed seeds weight initialization and feed shuffling.
	RandSeed int64 `json:"rand_seed"`
}

// ValidationError names the validation rule that rejected the config.
// Each rule produces a distinct Rule string so failures can be told
// apart without parsing messages.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed (%s): %s", e.Rule, e.Message)
}

func invalid(rule, format string, args ...interface{}) error {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Validate runs every configuration check eagerly. The first failure
// aborts the run; nothing has touched the filesystem at this point.
func (c *RunConfig) Validate() error {
	if c.ImgBaseDir == "" || c.ImgDir == "" {
		return invalid("dataset-path", "img_base_dir and img_dir must both be set")
	}
	if c.OutputBaseDir == "" {
		return invalid("output-path", "output_base_dir must be set")
	}
	if c.ImgWidth <= 0 || c.ImgHeight <= 0 {
		return invalid("image-size", "image size must be two positive dimensions, got %dx%d", c.ImgWidth, c.ImgHeight)
	}
	if c.BatchSize <= 0 {
		return invalid("batch-size", "batch size must be a positive scalar, got %d", c.BatchSize)
	}
	if !IsSupportedBackbone(c.Backbone) {
		return invalid("backbone", "unknown backbone %q, supported: %v", c.Backbone, SupportedBackbones)
	}
	if len(c.DenseLayers) == 0 {
		return invalid("dense-layers", "at least one dense layer is required in the head")
	}
	for i, dl := range c.DenseLayers {
		if dl.Units <= 0 {
			return invalid("dense-layers", "dense layer %d: units must be positive, got %d", i, dl.Units)
		}
		if dl.Dropout < 0 || dl.Dropout >= 1 {
			return invalid("dense-layers", "dense layer %d: dropout must be in [0, 1), got %g", i, dl.Dropout)
		}
	}
	if c.AddSmallFinalLayer && c.SmallFinalLayerSize <= 0 {
		return invalid("small-final-layer", "add_small_final_layer is set but small_final_layer_size is missing")
	}
	for label := range c.ClassWeights {
		if label != 0 && label != 1 {
			return invalid("class-weights", "class weight for label %d: labels must be 0 or 1", label)
		}
	}

	if err := validateStage("dense_head", &c.DenseHead, false); err != nil {
		return err
	}
	if err := validateStage("fine_tune_1", &c.FineTune1, true); err != nil {
		return err
	}
	if c.DoSecondFineTune {
		if c.FineTune2 == nil {
			return invalid("second-fine-tune", "do_second_fine_tune is set but fine_tune_2 is missing")
		}
		if err := validateStage("fine_tune_2", c.FineTune2, true); err != nil {
			if verr, ok := err.(*ValidationError); ok {
				// Missing second-stage fields are their own signal.
				return invalid("second-fine-tune", "%s", verr.Message)
			}
			return err
		}
	}
	return nil
}

// validateStage checks one stage's fields. Fine-tune stages must name
// the backbone layer to unfreeze from; the dense-head stage must not.
func validateStage(name string, sc *StageConfig, fineTune bool) error {
	if !IsSupportedOptimizer(sc.Optimizer) {
		return invalid("optimizer", "%s: unknown optimizer %q, supported: %v", name, sc.Optimizer, SupportedOptimizers)
	}
	if sc.LearningRate <= 0 {
		return invalid("stage-fields", "%s: learning_rate must be a positive scalar, got %g", name, sc.LearningRate)
	}
	if sc.StepsPerEpoch <= 0 {
		return invalid("stage-fields", "%s: steps_per_epoch must be a positive scalar, got %d", name, sc.StepsPerEpoch)
	}
	if sc.Epochs <= 0 {
		return invalid("stage-fields", "%s: epochs must be a positive scalar, got %d", name, sc.Epochs)
	}
	if sc.ValidationSteps <= 0 {
		return invalid("stage-fields", "%s: validation_steps must be a positive scalar, got %d", name, sc.ValidationSteps)
	}
	if fineTune && sc.UnfreezeFrom == "" {
		return invalid("stage-fields", "%s: unfreeze_from must name a backbone layer", name)
	}
	if !fineTune && sc.UnfreezeFrom != "" {
		return invalid("stage-fields", "%s: the dense-head stage trains with a fully frozen backbone", name)
	}
	return nil
}

// Save writes the config as indented JSON so a run can be reconstructed
// from its artifacts.
func (c *RunConfig) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating config file %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return nil
}

// LoadConfig reads a previously saved config. The result is validated
// before being returned.
func LoadConfig(path string) (*RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", path)
	}
	defer f.Close()

	var c RunConfig
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteRunParameters writes a human-readable parameter listing into the
// run directory.
func (c *RunConfig) WriteRunParameters(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	fmt.Fprintf(f, "backbone: %s\n", c.Backbone)
	fmt.Fprintf(f, "image size: %dx%d\n", c.ImgWidth, c.ImgHeight)
	fmt.Fprintf(f, "batch size: %d\n", c.BatchSize)
	fmt.Fprintf(f, "dense layers: %v\n", c.DenseLayers)
	fmt.Fprintf(f, "add small final layer: %v (size %d)\n", c.AddSmallFinalLayer, c.SmallFinalLayerSize)
	fmt.Fprintf(f, "class weights: %v\n", c.ClassWeights)
	fmt.Fprintf(f, "save best only: %v\n", c.SaveBestOnly)
	fmt.Fprintf(f, "horizontal flip: %v, vertical flip: %v\n", c.HorizontalFlip, c.VerticalFlip)
	fmt.Fprintf(f, "second fine-tune: %v\n", c.DoSecondFineTune)

	writeStage := func(name string, sc *StageConfig) {
		fmt.Fprintf(f, "%s: optimizer=%s lr=%g steps_per_epoch=%d epochs=%d validation_steps=%d",
			name, sc.Optimizer, sc.LearningRate, sc.StepsPerEpoch, sc.Epochs, sc.ValidationSteps)
		if sc.UnfreezeFrom != "" {
			fmt.Fprintf(f, " unfreeze_from=%s", sc.UnfreezeFrom)
		}
		if sc.ApplyClassWeights {
			fmt.Fprintf(f, " class_weights=on")
		}
		fmt.Fprintln(f)
	}
	writeStage("dense head", &c.DenseHead)
	writeStage("fine-tune 1", &c.FineTune1)
	if c.DoSecondFineTune && c.FineTune2 != nil {
		writeStage("fine-tune 2", c.FineTune2)
	}
	return nil
}
