// Package feed turns an image dataset into an infinite sequence of
// fixed-size batches. Both the training and validation feeds restart
// automatically at the end of a pass, so the training controller can
// request an arbitrary number of steps per epoch.
package feed

import (
	"math/rand"

	"github.com/82ndAirborneDiv/coolit.train/dataset"
	"github.com/82ndAirborneDiv/coolit.train/preprocessing"
	"github.com/pkg/errors"
)

// Batch is one fixed-size batch of preprocessed images.
type Batch struct {
	// Data holds Size images in CHW order, concatenated.
	Data   []float32
	Labels []int
	Paths  []string
	Size   int
}

// BatchFeed produces batches from a dataset indefinitely. The training
// feed shuffles between passes and may mirror images; the validation
// feed iterates in dataset order with no augmentation.
type BatchFeed struct {
	ds        *dataset.BinaryImageDataset
	proc      *preprocessing.ImageProcessor
	batchSize int

	shuffle bool
	hflip   bool
	vflip   bool
	rng     *rand.Rand

	order []int
	pos   int
}

// NewTrainFeed creates the augmenting, shuffling training feed.
func NewTrainFeed(ds *dataset.BinaryImageDataset, width, height, batchSize int, hflip, vflip bool, seed int64) *BatchFeed {
	f := &BatchFeed{
		ds:        ds,
		proc:      preprocessing.NewImageProcessor(width, height),
		batchSize: batchSize,
		shuffle:   true,
		hflip:     hflip,
		vflip:     vflip,
		rng:       rand.New(rand.NewSource(seed)),
	}
	f.reset()
	return f
}

// NewValidationFeed creates the deterministic validation feed.
func NewValidationFeed(ds *dataset.BinaryImageDataset, width, height, batchSize int) *BatchFeed {
	f := &BatchFeed{
		ds:        ds,
		proc:      preprocessing.NewImageProcessor(width, height),
		batchSize: batchSize,
	}
	f.reset()
	return f
}

func (f *BatchFeed) reset() {
	if f.order == nil {
		f.order = make([]int, f.ds.Len())
		for i := range f.order {
			f.order[i] = i
		}
	}
	if f.shuffle {
		f.rng.Shuffle(len(f.order), func(i, j int) {
			f.order[i], f.order[j] = f.order[j], f.order[i]
		})
	}
	f.pos = 0
}

// BatchSize returns the fixed batch size.
func (f *BatchFeed) BatchSize() int { return f.batchSize }

// Next yields the next batch, wrapping around (and reshuffling, for the
// training feed) whenever the dataset is exhausted.
func (f *BatchFeed) Next() (*Batch, error) {
	b := &Batch{
		Labels: make([]int, 0, f.batchSize),
		Paths:  make([]string, 0, f.batchSize),
	}

	for b.Size < f.batchSize {
		if f.pos >= len(f.order) {
			f.reset()
		}
		idx := f.order[f.pos]
		f.pos++

		img, err := f.proc.Load(f.ds.Path(idx))
		if err != nil {
			return nil, errors.Wrapf(err, "loading batch item %s", f.ds.Path(idx))
		}
		if f.hflip && f.rng.Intn(2) == 1 {
			img.FlipHorizontal()
		}
		if f.vflip && f.rng.Intn(2) == 1 {
			img.FlipVertical()
		}

		b.Data = append(b.Data, img.Data...)
		b.Labels = append(b.Labels, f.ds.Label(idx))
		b.Paths = append(b.Paths, f.ds.Path(idx))
		b.Size++
	}
	return b, nil
}
