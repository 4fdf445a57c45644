// Package confidence rescales predicted probabilities into confidence scores
// in [0, 1]: 0 at chance level, 1 at a certain prediction.
//
// Scores are only as meaningful as the calibration of the probabilities.
package confidence

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrProbabilityRange = errors.New("probability outside [0, 1]")
	ErrClassCount       = errors.New("need at least 2 classes")
)

// Binary maps the probability p of the positive class to a confidence,
// assuming a fixed 0.5 decision threshold: 2p-1 when p >= 0.5, else 1-2p.
func Binary(p float64) (float64, error) {
	if err := checkProbability(p); err != nil {
		return 0, err
	}
	if p >= 0.5 {
		return 2*p - 1, nil
	}
	return 1 - 2*p, nil
}

// BinaryBatch applies Binary to every probability.
func BinaryBatch(ps []float64) ([]float64, error) {
	out := make([]float64, len(ps))
	for i, p := range ps {
		c, err := Binary(p)
		if err != nil {
			return nil, fmt.Errorf("probability %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// Multiclass maps the probability of the predicted class among numClasses to
// a confidence: (p - 1/K) / (1 - 1/K). Values below chance clamp to 0.
func Multiclass(p float64, numClasses int) (float64, error) {
	if numClasses < 2 {
		return 0, fmt.Errorf("%w: got %d", ErrClassCount, numClasses)
	}
	if err := checkProbability(p); err != nil {
		return 0, err
	}
	chance := 1 / float64(numClasses)
	return math.Max(0, (p-chance)/(1-chance)), nil
}

// Mean averages confidences; 0 for an empty slice.
func Mean(cs []float64) float64 {
	if len(cs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cs {
		sum += c
	}
	return sum / float64(len(cs))
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: %v", ErrProbabilityRange, p)
	}
	return nil
}
