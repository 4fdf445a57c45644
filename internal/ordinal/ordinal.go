// Package ordinal lets an ordinary multi-label classifier do ordinal
// regression. With K ordered classes, class l is encoded as K-1 binary
// targets where target i is 1 when l > i: for K=3, 0=[0,0], 1=[1,0], 2=[1,1].
package ordinal

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrClassCount = errors.New("need at least 2 ordinal classes")
	ErrLabelRange = errors.New("label out of range")
)

// threshold is the probability above which a target counts as exceeded.
const threshold = 0.5

// #region encode
// Encode returns the K-1 indicator targets for label.
func Encode(label, numClasses int) ([]float64, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrClassCount, numClasses)
	}
	if label < 0 || label >= numClasses {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrLabelRange, label, numClasses-1)
	}
	out := make([]float64, numClasses-1)
	for i := 0; i < label; i++ {
		out[i] = 1
	}
	return out, nil
}

// EncodeBatch encodes every label. numClasses is explicit because a batch
// need not contain the highest class.
func EncodeBatch(labels []int, numClasses int) ([][]float64, error) {
	out := make([][]float64, len(labels))
	for i, l := range labels {
		row, err := Encode(l, numClasses)
		if err != nil {
			return nil, fmt.Errorf("label %d: %w", i, err)
		}
		out[i] = row
	}
	return out, nil
}

// #endregion encode

// #region decode
// Decode returns the predicted class for per-threshold probabilities: the
// number of leading entries above 0.5. Counting stops at the first entry that
// is not exceeded, so inconsistent outputs like [0.2, 0.9] decode to 0. NaN
// is never exceeded.
func Decode(probs []float64) int {
	n := 0
	for _, p := range probs {
		if !(p > threshold) {
			break
		}
		n++
	}
	return n
}

// Prediction is the decoded output for a batch of logits.
type Prediction struct {
	Labels        []int
	Probabilities [][]float64
}

// DecodeLogits applies the sigmoid to raw model outputs and decodes each row.
func DecodeLogits(logits [][]float64) Prediction {
	pred := Prediction{
		Labels:        make([]int, len(logits)),
		Probabilities: make([][]float64, len(logits)),
	}
	for i, row := range logits {
		probs := make([]float64, len(row))
		for j, x := range row {
			probs[j] = Sigmoid(x)
		}
		pred.Probabilities[i] = probs
		pred.Labels[i] = Decode(probs)
	}
	return pred
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// #endregion decode
