package model

import (
	"fmt"

	"github.com/82ndAirborneDiv/coolit.train/config"
	"github.com/pkg/errors"
)

// Assemble builds the complete classifier for a run: the frozen
// pretrained backbone, a flatten, the configured dense head with ReLU
// activations and optional dropout, an optional small final dense
// layer, and a single sigmoid output unit. The returned model is
// compiled; the backbone starts fully frozen.
func Assemble(cfg *config.RunConfig) (*Spec, error) {
	backbone, err := BackboneLayers(cfg.Backbone)
	if err != nil {
		return nil, err
	}

	s := &Spec{
		InputShape: []int{3, cfg.ImgHeight, cfg.ImgWidth},
		Layers:     backbone,
	}
	s.Layers = append(s.Layers, LayerSpec{Type: Flatten, Name: "flatten", Trainable: true})

	for i, dl := range cfg.DenseLayers {
		name := fmt.Sprintf("fc%d", i+1)
		s.Layers = append(s.Layers,
			LayerSpec{Type: Dense, Name: name, OutputSize: dl.Units, Trainable: true},
			LayerSpec{Type: ReLU, Name: name + "_relu", Trainable: true},
		)
		if dl.Dropout > 0 {
			s.Layers = append(s.Layers, LayerSpec{
				Type:      Dropout,
				Name:      name + "_dropout",
				Rate:      dl.Dropout,
				Trainable: true,
			})
		}
	}

	if cfg.AddSmallFinalLayer {
		s.Layers = append(s.Layers,
			LayerSpec{Type: Dense, Name: "fc_small", OutputSize: cfg.SmallFinalLayerSize, Trainable: true},
			LayerSpec{Type: ReLU, Name: "fc_small_relu", Trainable: true},
		)
	}

	s.Layers = append(s.Layers,
		LayerSpec{Type: Dense, Name: "predictions", OutputSize: 1, Trainable: true},
		LayerSpec{Type: Sigmoid, Name: "predictions_sigmoid", Trainable: true},
	)

	if err := s.Compile(); err != nil {
		return nil, errors.Wrap(err, "assembling classifier")
	}
	return s, nil
}
