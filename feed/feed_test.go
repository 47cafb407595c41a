package feed

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/82ndAirborneDiv/coolit.train/dataset"
)

// writeJPEG writes a small solid-color JPEG fixture.
func writeJPEG(t *testing.T, path string, c color.Color) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fixtureDataset(t *testing.T) *dataset.BinaryImageDataset {
	t.Helper()
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "tower", "a.jpg"), color.RGBA{R: 255, A: 255})
	writeJPEG(t, filepath.Join(root, "tower", "b.jpg"), color.RGBA{G: 255, A: 255})
	writeJPEG(t, filepath.Join(root, "notower", "c.jpg"), color.RGBA{B: 255, A: 255})

	ds, err := dataset.Open(root)
	if err != nil {
		t.Fatalf("dataset.Open: %v", err)
	}
	return ds
}

func TestFeedYieldsIndefinitely(t *testing.T) {
	ds := fixtureDataset(t)
	f := NewValidationFeed(ds, 4, 4, 2)

	// Request more batches than the dataset contains; the feed must
	// wrap around instead of terminating.
	for i := 0; i < 5; i++ {
		b, err := f.Next()
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		if b.Size != 2 {
			t.Fatalf("batch %d size = %d, want 2", i, b.Size)
		}
		if len(b.Data) != 2*3*4*4 {
			t.Fatalf("batch %d data length = %d, want %d", i, len(b.Data), 2*3*4*4)
		}
		if len(b.Labels) != 2 || len(b.Paths) != 2 {
			t.Fatalf("batch %d labels/paths = %d/%d, want 2/2", i, len(b.Labels), len(b.Paths))
		}
	}
}

func TestValidationFeedIsDeterministic(t *testing.T) {
	ds := fixtureDataset(t)
	a := NewValidationFeed(ds, 4, 4, 3)
	b := NewValidationFeed(ds, 4, 4, 3)

	ba, err := a.Next()
	if err != nil {
		t.Fatal(err)
	}
	bb, err := b.Next()
	if err != nil {
		t.Fatal(err)
	}
	for i := range ba.Paths {
		if ba.Paths[i] != bb.Paths[i] {
			t.Errorf("path %d: %s != %s", i, ba.Paths[i], bb.Paths[i])
		}
	}
}

func TestTrainFeedLabelsMatchPaths(t *testing.T) {
	ds := fixtureDataset(t)
	f := NewTrainFeed(ds, 4, 4, 3, true, true, 1)

	b, err := f.Next()
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range b.Paths {
		if b.Labels[i] != dataset.LabelForPath(p) {
			t.Errorf("label for %s = %d, want %d", p, b.Labels[i], dataset.LabelForPath(p))
		}
	}
}
