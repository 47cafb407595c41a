// Package dataset loads the fixed two-class image-folder layout used by
// the cooling tower classifier: a root directory with one subfolder per
// class, tower (positive) and notower (negative).
package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Class folder names. The ground-truth label of a file is derived from
// its path: 0 if the path contains the negative-class token, 1 otherwise.
const (
	PositiveClass = "tower"
	NegativeClass = "notower"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// BinaryImageDataset holds the file paths and derived labels found
// under one dataset root.
type BinaryImageDataset struct {
	root   string
	paths  []string
	labels []int
}

// Open scans root recursively for image files. Both class subfolders
// must exist directly under root; any other layout is rejected.
func Open(root string) (*BinaryImageDataset, error) {
	for _, class := range []string{PositiveClass, NegativeClass} {
		info, err := os.Stat(filepath.Join(root, class))
		if err != nil || !info.IsDir() {
			return nil, errors.Errorf("dataset root %s is missing class subfolder %q", root, class)
		}
	}

	d := &BinaryImageDataset{root: root}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		d.paths = append(d.paths, path)
		d.labels = append(d.labels, LabelForPath(path))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning dataset root %s", root)
	}
	if len(d.paths) == 0 {
		return nil, errors.Errorf("no images found under %s", root)
	}

	// Deterministic ordering regardless of filesystem iteration order.
	sort.Sort(byPath{d})
	return d, nil
}

// LabelForPath derives the binary ground truth from the path naming
// convention: 0 if the path contains the negative-class folder token
// anywhere, 1 otherwise.
func LabelForPath(path string) int {
	if strings.Contains(filepath.ToSlash(path), NegativeClass) {
		return 0
	}
	return 1
}

// Len returns the number of images in the dataset.
func (d *BinaryImageDataset) Len() int { return len(d.paths) }

// Path returns the file path at index i.
func (d *BinaryImageDataset) Path(i int) string { return d.paths[i] }

// Label returns the derived label at index i.
func (d *BinaryImageDataset) Label(i int) int { return d.labels[i] }

// Paths returns all file paths in dataset order.
func (d *BinaryImageDataset) Paths() []string {
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

// ClassCounts returns the number of positive and negative examples.
func (d *BinaryImageDataset) ClassCounts() (pos, neg int) {
	for _, l := range d.labels {
		if l == 1 {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

type byPath struct{ d *BinaryImageDataset }

func (b byPath) Len() int           { return len(b.d.paths) }
func (b byPath) Less(i, j int) bool { return b.d.paths[i] < b.d.paths[j] }
func (b byPath) Swap(i, j int) {
	b.d.paths[i], b.d.paths[j] = b.d.paths[j], b.d.paths[i]
	b.d.labels[i], b.d.labels[j] = b.d.labels[j], b.d.labels[i]
}
