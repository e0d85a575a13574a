package loss

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultTau is the squared-distance threshold of the F-score metric.
const DefaultTau = 1e-4

// Metrics are the evaluation scores of one prediction.
type Metrics struct {
	Chamfer    float64 // mean squared distance, both directions summed
	FScoreTau  float64
	FScore2Tau float64
}

// Evaluate scores pred against the original-length ground-truth cloud.
func Evaluate(pred, gt *mat.Dense, tau float64) (Metrics, error) {
	cd, err := Chamfer(gt, pred)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Chamfer:    stat.Mean(cd.GTToPred, nil) + stat.Mean(cd.PredToGT, nil),
		FScoreTau:  FScore(cd.PredToGT, cd.GTToPred, tau),
		FScore2Tau: FScore(cd.PredToGT, cd.GTToPred, 2*tau),
	}, nil
}

// FScore is the harmonic mean of precision (predicted points within thresh of
// the ground truth) and recall (ground-truth points within thresh of the
// prediction).
func FScore(predToGT, gtToPred []float64, thresh float64) float64 {
	prec := fractionBelow(predToGT, thresh)
	recall := fractionBelow(gtToPred, thresh)
	return 2 * prec * recall / (prec + recall + 1e-8)
}

func fractionBelow(xs []float64, thresh float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	n := 0
	for _, x := range xs {
		if x < thresh {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

// Accumulator averages metrics over many examples.
type Accumulator struct {
	count int
	sum   Metrics
}

// Add records one example.
func (a *Accumulator) Add(m Metrics) {
	a.count++
	a.sum.Chamfer += m.Chamfer
	a.sum.FScoreTau += m.FScoreTau
	a.sum.FScore2Tau += m.FScore2Tau
}

// Count returns the number of recorded examples.
func (a *Accumulator) Count() int { return a.count }

// Mean returns the averaged metrics, zero when nothing was recorded.
func (a *Accumulator) Mean() Metrics {
	if a.count == 0 {
		return Metrics{}
	}
	inv := 1 / float64(a.count)
	return Metrics{
		Chamfer:    a.sum.Chamfer * inv,
		FScoreTau:  a.sum.FScoreTau * inv,
		FScore2Tau: a.sum.FScore2Tau * inv,
	}
}
