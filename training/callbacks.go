package training

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/82ndAirborneDiv/coolit.train/engine"
	"github.com/pkg/errors"
)

// csvLogger appends one row per epoch to a stage's training log.
type csvLogger struct {
	f *os.File
	w *csv.Writer
}

func newCSVLogger(path string) (*csvLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating training log %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "loss", "accuracy", "val_loss", "val_accuracy", "lr"}); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "writing training log header")
	}
	return &csvLogger{f: f, w: w}, nil
}

func (l *csvLogger) Write(s EpochStats) error {
	row := []string{
		strconv.Itoa(s.Epoch),
		strconv.FormatFloat(s.Loss, 'g', -1, 64),
		strconv.FormatFloat(s.Accuracy, 'g', -1, 64),
		strconv.FormatFloat(s.ValLoss, 'g', -1, 64),
		strconv.FormatFloat(s.ValAccuracy, 'g', -1, 64),
		strconv.FormatFloat(s.LearningRate, 'g', -1, 64),
	}
	if err := l.w.Write(row); err != nil {
		return errors.Wrap(err, "writing training log row")
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *csvLogger) Close() error {
	l.w.Flush()
	return l.f.Close()
}

const (
	plateauPatience = 3
	plateauFactor   = 0.1
	plateauMinLR    = 1e-7
)

// plateauScheduler cuts the learning rate when validation loss stops
// improving, mirroring the usual reduce-on-plateau callback.
type plateauScheduler struct {
	opt  engine.Optimizer
	best float64
	wait int
}

func newPlateauScheduler(opt engine.Optimizer) *plateauScheduler {
	return &plateauScheduler{opt: opt, best: -1}
}

// Observe feeds one epoch's validation loss to the scheduler.
func (p *plateauScheduler) Observe(valLoss float64) {
	if p.best < 0 || valLoss < p.best {
		p.best = valLoss
		p.wait = 0
		return
	}
	p.wait++
	if p.wait >= plateauPatience {
		lr := p.opt.GetLR() * plateauFactor
		if lr < plateauMinLR {
			lr = plateauMinLR
		}
		p.opt.SetLR(lr)
		p.wait = 0
	}
}
