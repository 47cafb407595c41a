package evaluation

import (
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const plotSize = 6 * vg.Inch

// PlotDistribution writes an SVG histogram of predicted probabilities,
// one series per true class, so class separation is visible at a
// glance.
func PlotDistribution(path string, records []PredictionRecord) error {
	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "creating distribution plot")
	}
	p.Title.Text = "Predicted probability distribution"
	p.X.Label.Text = "p(tower)"
	p.Y.Label.Text = "count"
	p.X.Min, p.X.Max = 0, 1

	byClass := map[int]plotter.Values{}
	for _, r := range records {
		byClass[r.Label] = append(byClass[r.Label], r.Probability)
	}
	for _, class := range []int{0, 1} {
		vals := byClass[class]
		if len(vals) == 0 {
			continue
		}
		h, err := plotter.NewHist(vals, 20)
		if err != nil {
			return errors.Wrapf(err, "histogram for class %d", class)
		}
		h.FillColor = plotutil.Color(class)
		p.Add(h)
		name := "notower"
		if class == 1 {
			name = "tower"
		}
		p.Legend.Add(name, h)
	}

	return writeSVG(p, path)
}

// PlotROC writes the ROC curve with the chance diagonal for reference.
func PlotROC(path string, records []PredictionRecord) error {
	curve, err := rocCurve(records)
	if err != nil {
		return err
	}

	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "creating ROC plot")
	}
	p.Title.Text = "ROC"
	p.X.Label.Text = "false positive rate"
	p.Y.Label.Text = "true positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	pts := make(plotter.XYs, 0, len(curve)+1)
	for _, c := range curve {
		pts = append(pts, plotter.XY{X: c.fpr, Y: c.tpr})
	}
	pts = append(pts, plotter.XY{X: 0, Y: 0})

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "ROC line")
	}
	line.Width = 2
	line.Color = plotutil.Color(0)
	p.Add(line)
	p.Legend.Add("model", line)

	diag, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "chance diagonal")
	}
	diag.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	diag.Color = plotutil.Color(1)
	p.Add(diag)

	return writeSVG(p, path)
}

func writeSVG(p *plot.Plot, path string) error {
	wt, err := p.WriterTo(plotSize, plotSize, "svg")
	if err != nil {
		return errors.Wrap(err, "rendering plot")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating plot file %s", path)
	}
	defer f.Close()
	if _, err := wt.WriteTo(f); err != nil {
		return errors.Wrapf(err, "writing plot file %s", path)
	}
	return nil
}
