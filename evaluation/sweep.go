package evaluation

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ConfusionRow is the confusion matrix at one split of the
// probability-sorted prediction list. SplitIndex i (1-based) predicts
// the i lowest-scoring examples negative and the rest positive;
// SplitValue is the probability of the last example below the split.
// Rate fields are NaN when their denominator is zero.
type ConfusionRow struct {
	SplitIndex int
	SplitValue float64

	CountBelow int
	CountAbove int

	FalseNeg int
	TrueNeg  int
	FalsePos int
	TruePos  int

	Sensitivity float64
	Specificity float64
	Precision   float64
	NPV         float64
}

// Sweep evaluates every split of the sorted predictions: one row per
// boundary between adjacent examples, N-1 rows total. Each row is a
// full recount rather than an incremental update of the previous one.
// Records must already be sorted ascending by probability.
func Sweep(records []PredictionRecord) ([]ConfusionRow, error) {
	if len(records) < 2 {
		return nil, errors.Errorf("sweep needs at least 2 predictions, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Probability < records[i-1].Probability {
			return nil, errors.New("predictions must be sorted ascending by probability")
		}
	}

	rows := make([]ConfusionRow, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		row := ConfusionRow{
			SplitIndex: i,
			SplitValue: records[i-1].Probability,
			CountBelow: i,
			CountAbove: len(records) - i,
		}
		for j, r := range records {
			predictedPos := j >= i
			switch {
			case predictedPos && r.Label == 1:
				row.TruePos++
			case predictedPos && r.Label == 0:
				row.FalsePos++
			case !predictedPos && r.Label == 0:
				row.TrueNeg++
			default:
				row.FalseNeg++
			}
		}
		row.Sensitivity = ratio(row.TruePos, row.TruePos+row.FalseNeg)
		row.Specificity = ratio(row.TrueNeg, row.TrueNeg+row.FalsePos)
		row.Precision = ratio(row.TruePos, row.TruePos+row.FalsePos)
		row.NPV = ratio(row.TrueNeg, row.TrueNeg+row.FalseNeg)
		rows = append(rows, row)
	}
	return rows, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return math.NaN()
	}
	return float64(num) / float64(den)
}

var confusionHeader = []string{
	"split_index", "split_value", "count_below", "count_above",
	"false_neg", "true_neg", "false_pos", "true_pos",
	"sensitivity", "specificity", "precision", "npv",
}

// WriteConfusionCSV writes the sweep as CSV. NaN rates are written as
// NA so downstream tooling distinguishes undefined from zero.
func WriteConfusionCSV(path string, rows []ConfusionRow) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating confusion matrix file %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(confusionHeader); err != nil {
		return errors.Wrap(err, "writing confusion matrix header")
	}
	for _, r := range rows {
		row := []string{
			strconv.Itoa(r.SplitIndex),
			strconv.FormatFloat(r.SplitValue, 'g', -1, 64),
			strconv.Itoa(r.CountBelow),
			strconv.Itoa(r.CountAbove),
			strconv.Itoa(r.FalseNeg),
			strconv.Itoa(r.TrueNeg),
			strconv.Itoa(r.FalsePos),
			strconv.Itoa(r.TruePos),
			formatRate(r.Sensitivity),
			formatRate(r.Specificity),
			formatRate(r.Precision),
			formatRate(r.NPV),
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "writing confusion matrix row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flushing confusion matrix")
}

func formatRate(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
