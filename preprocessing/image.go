// Package preprocessing decodes and normalizes images for network
// input: nearest-neighbor resize to the configured target size, pixel
// values rescaled to [0, 1], CHW float32 layout.
package preprocessing

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ImageProcessor decodes and preprocesses images to a fixed target size.
type ImageProcessor struct {
	width  int
	height int
}

// NewImageProcessor creates a processor with the given target size.
func NewImageProcessor(width, height int) *ImageProcessor {
	return &ImageProcessor{width: width, height: height}
}

// ProcessedImage is a decoded image ready for network input, stored in
// CHW order with values in [0, 1].
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// Load opens and preprocesses the image at path.
func (p *ImageProcessor) Load(path string) (*ProcessedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	defer f.Close()

	img, err := p.DecodeAndPreprocess(f)
	if err != nil {
		return nil, errors.Wrapf(err, "preprocessing image %s", path)
	}
	return img, nil
}

// DecodeAndPreprocess decodes a JPEG or PNG image, resizes it to the
// target size and rescales pixel values to [0, 1].
func (p *ImageProcessor) DecodeAndPreprocess(r io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}

	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.New("decoded image is empty")
	}

	scaleX := float64(srcW) / float64(p.width)
	scaleY := float64(srcH) / float64(p.height)

	plane := p.width * p.height
	data := make([]float32, 3*plane)

	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			srcY := bounds.Min.Y + int(float64(y)*scaleY)
			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}

			r16, g16, b16, _ := img.At(srcX, srcY).RGBA()

			idx := y*p.width + x
			data[0*plane+idx] = float32(r16) / 65535.0
			data[1*plane+idx] = float32(g16) / 65535.0
			data[2*plane+idx] = float32(b16) / 65535.0
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    p.width,
		Height:   p.height,
		Channels: 3,
	}, nil
}

// FlipHorizontal mirrors the image around its vertical axis in place.
func (pi *ProcessedImage) FlipHorizontal() {
	plane := pi.Width * pi.Height
	for c := 0; c < pi.Channels; c++ {
		for y := 0; y < pi.Height; y++ {
			row := c*plane + y*pi.Width
			for x := 0; x < pi.Width/2; x++ {
				a, b := row+x, row+pi.Width-1-x
				pi.Data[a], pi.Data[b] = pi.Data[b], pi.Data[a]
			}
		}
	}
}

// FlipVertical mirrors the image around its horizontal axis in place.
func (pi *ProcessedImage) FlipVertical() {
	plane := pi.Width * pi.Height
	for c := 0; c < pi.Channels; c++ {
		for y := 0; y < pi.Height/2; y++ {
			top := c*plane + y*pi.Width
			bottom := c*plane + (pi.Height-1-y)*pi.Width
			for x := 0; x < pi.Width; x++ {
				pi.Data[top+x], pi.Data[bottom+x] = pi.Data[bottom+x], pi.Data[top+x]
			}
		}
	}
}
