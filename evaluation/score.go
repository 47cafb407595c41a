// Package evaluation scores the trained classifier on the validation
// set and derives threshold-sweep metrics from the predictions.
package evaluation

import (
	"encoding/csv"
	"os"
	"sort"
	"strconv"

	"github.com/82ndAirborneDiv/coolit.train/dataset"
	"github.com/82ndAirborneDiv/coolit.train/preprocessing"
	"github.com/pkg/errors"
)

// PredictionRecord is one scored validation example.
type PredictionRecord struct {
	Path        string
	Label       int
	Probability float64
}

// Predictor is the inference slice of the compute engine.
type Predictor interface {
	Predict(data []float32, batch int) ([]float64, error)
}

// Score loads every example of the dataset in order into one batch
// tensor and requests probabilities for all of them in a single call.
func Score(p Predictor, ds *dataset.BinaryImageDataset, width, height int) ([]PredictionRecord, error) {
	var data []float32
	proc := preprocessing.NewImageProcessor(width, height)
	for i := 0; i < ds.Len(); i++ {
		img, err := proc.Load(ds.Path(i))
		if err != nil {
			return nil, errors.Wrapf(err, "scoring %s", ds.Path(i))
		}
		data = append(data, img.Data...)
	}

	probs, err := p.Predict(data, ds.Len())
	if err != nil {
		return nil, errors.Wrap(err, "predicting validation set")
	}

	records := make([]PredictionRecord, ds.Len())
	for i := range records {
		records[i] = PredictionRecord{
			Path:        ds.Path(i),
			Label:       ds.Label(i),
			Probability: probs[i],
		}
	}
	return records, nil
}

// SortByProbability orders records ascending by predicted probability,
// the order the threshold sweep requires.
func SortByProbability(records []PredictionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Probability < records[j].Probability
	})
}

// WritePredictions writes the scored records as CSV.
func WritePredictions(path string, records []PredictionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating predictions file %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"probability", "path", "label"}); err != nil {
		return errors.Wrap(err, "writing predictions header")
	}
	for _, r := range records {
		row := []string{strconv.FormatFloat(r.Probability, 'g', -1, 64), r.Path, strconv.Itoa(r.Label)}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "writing prediction row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flushing predictions")
}

// ReadPredictions loads a file written by WritePredictions.
func ReadPredictions(path string) ([]PredictionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening predictions file %s", path)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "parsing predictions file %s", path)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("predictions file %s is empty", path)
	}

	records := make([]PredictionRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 3 {
			return nil, errors.Errorf("malformed prediction row %v", row)
		}
		prob, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing probability in row %v", row)
		}
		label, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing label in row %v", row)
		}
		records = append(records, PredictionRecord{Path: row[1], Label: label, Probability: prob})
	}
	return records, nil
}
