package predictor

import (
	"errors"

	"github.com/signalsfoundry/linkwatch/internal/features"
)

var (
	// ErrNoModel is returned by NullScorer.
	ErrNoModel = errors.New("no failure model loaded")
	// ErrInvalidScore marks a probability that is NaN or outside [0,1].
	ErrInvalidScore = errors.New("invalid failure probability")
)

// Scorer estimates the probability that the link fails soon, given the
// feature vector of the most recent window.
type Scorer interface {
	Score(v features.Vector) (float64, error)
}

// NullScorer is the absent model. A predictor built with it runs in
// rules-only mode.
type NullScorer struct{}

func (NullScorer) Score(features.Vector) (float64, error) { return 0, ErrNoModel }

// isNull reports whether s is the absent model.
func isNull(s Scorer) bool {
	if s == nil {
		return true
	}
	switch s.(type) {
	case NullScorer, *NullScorer:
		return true
	}
	return false
}
