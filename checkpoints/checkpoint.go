// Package checkpoints persists model weights and training state as
// JSON, and loads pretrained backbone weight files.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/82ndAirborneDiv/coolit.train/engine"
	"github.com/82ndAirborneDiv/coolit.train/model"
	"github.com/pkg/errors"
)

const formatVersion = 1

// TrainingState records where in the run a checkpoint was taken.
type TrainingState struct {
	Stage        string  `json:"stage"`
	Epoch        int     `json:"epoch"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	Optimizer    string  `json:"optimizer"`
	LearningRate float64 `json:"learning_rate"`
}

// Checkpoint is the self-describing on-disk format: the model
// structure travels with the weights, so a checkpoint can be loaded
// without the original run config.
type Checkpoint struct {
	Version int             `json:"version"`
	Spec    *model.Spec     `json:"spec"`
	Weights []engine.Tensor `json:"weights"`
	State   TrainingState   `json:"state"`
}

// Save writes the checkpoint through a temp file and rename, so a
// crash mid-write never leaves a truncated checkpoint behind.
func Save(path string, cp *Checkpoint) error {
	cp.Version = formatVersion
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing checkpoint %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming checkpoint into place")
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint %s", path)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %s", path)
	}
	if cp.Version != formatVersion {
		return nil, errors.Errorf("checkpoint %s has format version %d, want %d", path, cp.Version, formatVersion)
	}
	return &cp, nil
}

// Snapshot captures a network into checkpoint form.
func Snapshot(net *engine.Network, state TrainingState) *Checkpoint {
	return &Checkpoint{
		Version: formatVersion,
		Spec:    net.Spec(),
		Weights: net.ExportWeights(),
		State:   state,
	}
}

// BackbonePath names the pretrained weight file for an architecture,
// e.g. <dir>/vgg16-weights.json.
func BackbonePath(weightsDir, backbone string) string {
	return filepath.Join(weightsDir, fmt.Sprintf("%s-weights.json", backbone))
}

// LoadBackboneWeights loads pretrained feature-extractor weights into
// the network. The file holds backbone tensors only; head layers keep
// their fresh initialization.
func LoadBackboneWeights(net *engine.Network, weightsDir, backbone string) error {
	path := BackbonePath(weightsDir, backbone)
	cp, err := Load(path)
	if err != nil {
		return errors.Wrapf(err, "loading pretrained %s weights", backbone)
	}
	if err := net.LoadWeights(cp.Weights); err != nil {
		return errors.Wrapf(err, "applying pretrained %s weights", backbone)
	}
	return nil
}
