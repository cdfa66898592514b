package predictor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/signalsfoundry/linkwatch/internal/logging"
)

// A model trained on less history than this is not trusted.
const (
	MinDisconnectsForModel = 100
	MinDataPointsForModel  = 500
)

// ErrUndertrained is returned when the artifact's training metadata is
// below the minimums.
var ErrUndertrained = errors.New("model trained on too little data")

// LoadForest reads the artifact at path and checks its training metadata.
func LoadForest(path string) (*ForestModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := DecodeForest(f)
	if err != nil {
		return nil, err
	}
	if m.Training.Disconnects < MinDisconnectsForModel || m.Training.DataPoints < MinDataPointsForModel {
		return nil, fmt.Errorf("%w: %d disconnects / %d data points, need %d / %d", ErrUndertrained,
			m.Training.Disconnects, m.Training.DataPoints, MinDisconnectsForModel, MinDataPointsForModel)
	}
	return m, nil
}

// LoadScorer picks the scorer once at startup. Any problem with the
// artifact degrades to NullScorer; it is never fatal.
func LoadScorer(ctx context.Context, path string, log logging.Logger) Scorer {
	if log == nil {
		log = logging.Noop()
	}
	if path == "" {
		log.Info(ctx, "no model configured; running rules only")
		return NullScorer{}
	}
	m, err := LoadForest(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info(ctx, "model file not found; running rules only", logging.String("path", path))
		} else {
			log.Warn(ctx, "model not loaded; running rules only", logging.String("path", path), logging.Err(err))
		}
		return NullScorer{}
	}
	log.Info(ctx, "model loaded",
		logging.String("path", path),
		logging.Int("trees", len(m.Trees)),
		logging.Int("data_points", m.Training.DataPoints),
		logging.Int("disconnects", m.Training.Disconnects),
	)
	return m
}
