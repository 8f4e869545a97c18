package nn

import (
	"math"
)

// Binary cross-entropy over a single scalar prediction in [0,1].
// Predictions are clamped away from 0 and 1 to keep the loss finite.

const bceEpsilon = 1e-7

func bceLoss(pred, label float32) float64 {
	p := math.Min(math.Max(float64(pred), bceEpsilon), 1-bceEpsilon)
	y := float64(label)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// bceGrad returns dLoss/dPred.
func bceGrad(pred, label float32) float32 {
	p := math.Min(math.Max(float64(pred), bceEpsilon), 1-bceEpsilon)
	y := float64(label)
	return float32(-(y/p - (1-y)/(1-p)))
}

// SGD updates parameters in place with a fixed learning rate. The rate is
// the one piece of optimizer state, so swapping it is a recompile, not a
// rebuild.
type SGD struct {
	LearningRate float64
}

func (opt *SGD) Step(params, grads []Param) {
	lr := float32(opt.LearningRate)
	for i, p := range params {
		g := grads[i]
		for j := range p.Data {
			p.Data[j] -= lr * g.Data[j]
		}
	}
}
