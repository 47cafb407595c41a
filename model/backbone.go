package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// vggBlocks lists the number of convolutions per block for each
// supported backbone. Every convolution is 3x3 stride 1 pad 1; every
// block ends in a 2x2 max pool.
var vggBlocks = map[string][]int{
	"vgg16": {2, 2, 3, 3, 3},
	"vgg19": {2, 2, 4, 4, 4},
}

var vggFilters = []int{64, 128, 256, 512, 512}

// BackboneLayers returns the frozen pretrained feature extractor for
// the named architecture. Layer names follow the published weight
// files (block1_conv1 .. block5_pool), so unfreeze boundaries in run
// configs name real layers.
func BackboneLayers(name string) ([]LayerSpec, error) {
	blocks, ok := vggBlocks[name]
	if !ok {
		return nil, errors.Errorf("unknown backbone architecture %q", name)
	}

	var layers []LayerSpec
	for b, convs := range blocks {
		for c := 0; c < convs; c++ {
			convName := fmt.Sprintf("block%d_conv%d", b+1, c+1)
			layers = append(layers,
				LayerSpec{
					Type:        Conv2D,
					Name:        convName,
					OutChannels: vggFilters[b],
					KernelSize:  3,
					Stride:      1,
					Padding:     1,
					Backbone:    true,
				},
				LayerSpec{
					Type:     ReLU,
					Name:     convName + "_relu",
					Backbone: true,
				},
			)
		}
		layers = append(layers, LayerSpec{
			Type:     MaxPool2D,
			Name:     fmt.Sprintf("block%d_pool", b+1),
			PoolSize: 2,
			Backbone: true,
		})
	}
	return layers, nil
}

// BackboneConvNames lists the convolution layer names of the named
// architecture in network order.
func BackboneConvNames(name string) ([]string, error) {
	layers, err := BackboneLayers(name)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range layers {
		if l.Type == Conv2D {
			names = append(names, l.Name)
		}
	}
	return names, nil
}
