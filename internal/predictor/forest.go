package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/signalsfoundry/linkwatch/internal/features"
)

// ErrBadArtifact is returned when a model file cannot be used.
var ErrBadArtifact = errors.New("bad model artifact")

// ForestModel is an ensemble of binary decision trees exported by the
// offline trainer. The failure probability is the mean leaf value across
// trees.
type ForestModel struct {
	Version      int          `json:"version"`
	FeatureNames []string     `json:"feature_names"`
	Training     TrainingInfo `json:"training"`
	Trees        []Tree       `json:"trees"`
}

// TrainingInfo describes the data the model was fit on.
type TrainingInfo struct {
	DataPoints  int     `json:"data_points"`
	Disconnects int     `json:"disconnects"`
	PacketLoss  int     `json:"packet_loss"`
	Accuracy    float64 `json:"accuracy,omitempty"`
	TrainedAt   string  `json:"trained_at,omitempty"`
}

// Tree is a flattened decision tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is either a split (Feature <= Threshold goes Left) or a leaf
// carrying the failure probability in Value.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// DecodeForest reads and validates a JSON artifact.
func DecodeForest(r io.Reader) (*ForestModel, error) {
	var m ForestModel
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the feature schema and tree structure.
func (m *ForestModel) Validate() error {
	if len(m.FeatureNames) != features.Size {
		return fmt.Errorf("%w: %d feature names, want %d", ErrBadArtifact, len(m.FeatureNames), features.Size)
	}
	for i, name := range m.FeatureNames {
		if name != features.Names[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrBadArtifact, i, name, features.Names[i])
		}
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrBadArtifact)
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrBadArtifact, ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= features.Size {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrBadArtifact, ti, ni, n.Feature)
			}
			// Children must point forward; this also rules out cycles.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("%w: tree %d node %d has bad children", ErrBadArtifact, ti, ni)
			}
		}
	}
	return nil
}

// Score implements Scorer.
func (m *ForestModel) Score(v features.Vector) (float64, error) {
	var sum float64
	for _, t := range m.Trees {
		sum += t.eval(v)
	}
	return sum / float64(len(m.Trees)), nil
}

func (t Tree) eval(v features.Vector) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if v[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
