package evaluation

import (
	"github.com/pkg/errors"
)

// rocPoints walks the sorted predictions once and emits one
// (fpr, tpr, threshold) point per distinct probability, anchored at
// the all-positive corner. Deliberately computed straight from the
// prediction records rather than from the confusion sweep, so the two
// cross-check each other.
type rocPoint struct {
	fpr, tpr  float64
	threshold float64
}

func rocCurve(records []PredictionRecord) ([]rocPoint, error) {
	if len(records) == 0 {
		return nil, errors.New("no predictions")
	}
	sorted := append([]PredictionRecord(nil), records...)
	SortByProbability(sorted)

	totalPos, totalNeg := 0, 0
	for _, r := range sorted {
		if r.Label == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return nil, errors.New("ROC undefined: predictions lack one of the classes")
	}

	// Threshold below everything predicts all positive.
	pts := []rocPoint{{fpr: 1, tpr: 1, threshold: sorted[0].Probability}}
	belowNeg, belowPos := 0, 0
	for i, r := range sorted {
		if r.Label == 1 {
			belowPos++
		} else {
			belowNeg++
		}
		// Emit a point only at the end of a tie group.
		if i+1 < len(sorted) && sorted[i+1].Probability == r.Probability {
			continue
		}
		pts = append(pts, rocPoint{
			fpr:       float64(totalNeg-belowNeg) / float64(totalNeg),
			tpr:       float64(totalPos-belowPos) / float64(totalPos),
			threshold: r.Probability,
		})
	}
	return pts, nil
}

// AUCROC computes the area under the ROC curve by trapezoidal
// integration over every distinct threshold.
func AUCROC(records []PredictionRecord) (float64, error) {
	pts, err := rocCurve(records)
	if err != nil {
		return 0, err
	}
	auc := 0.0
	for i := 1; i < len(pts); i++ {
		auc += (pts[i-1].fpr - pts[i].fpr) * (pts[i-1].tpr + pts[i].tpr) / 2
	}
	return auc, nil
}

// MaxAccuracy returns the best accuracy achievable at any decision
// threshold and the threshold achieving it. Like AUCROC it works on
// the prediction records directly.
func MaxAccuracy(records []PredictionRecord) (accuracy, threshold float64, err error) {
	if len(records) == 0 {
		return 0, 0, errors.New("no predictions")
	}
	sorted := append([]PredictionRecord(nil), records...)
	SortByProbability(sorted)

	totalPos := 0
	for _, r := range sorted {
		if r.Label == 1 {
			totalPos++
		}
	}
	n := float64(len(sorted))

	// All-positive baseline, then raise the threshold past each
	// distinct probability.
	accuracy = float64(totalPos) / n
	threshold = sorted[0].Probability
	tn, fn := 0, 0
	for i, r := range sorted {
		if r.Label == 1 {
			fn++
		} else {
			tn++
		}
		if i+1 < len(sorted) && sorted[i+1].Probability == r.Probability {
			continue
		}
		if i+1 == len(sorted) {
			break
		}
		acc := float64(tn+totalPos-fn) / n
		if acc > accuracy {
			accuracy = acc
			threshold = sorted[i+1].Probability
		}
	}
	return accuracy, threshold, nil
}
