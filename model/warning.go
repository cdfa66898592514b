package model

import (
	"fmt"
	"time"
)

// WarningLevel grades how close the link is to failing. Levels are
// totally ordered and only ever escalate within one prediction.
type WarningLevel int

const (
	LevelNone WarningLevel = iota
	LevelInfo
	LevelCaution
	LevelWarning
	LevelCritical
)

var levelNames = [...]string{"NONE", "INFO", "CAUTION", "WARNING", "CRITICAL"}

func (l WarningLevel) String() string {
	if l < LevelNone || int(l) >= len(levelNames) {
		return fmt.Sprintf("WarningLevel(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText renders the level by name so JSON payloads stay readable.
func (l WarningLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (l *WarningLevel) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if string(b) == name {
			*l = WarningLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown warning level %q", b)
}

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b WarningLevel) WarningLevel {
	if b > a {
		return b
	}
	return a
}

// AllLevels lists the levels in ascending severity.
func AllLevels() []WarningLevel {
	return []WarningLevel{LevelNone, LevelInfo, LevelCaution, LevelWarning, LevelCritical}
}

// PredictionSource identifies which engine produced a result.
type PredictionSource string

const (
	SourceRules  PredictionSource = "rules"
	SourceML     PredictionSource = "ml"
	SourceHybrid PredictionSource = "hybrid"
	SourceSystem PredictionSource = "system" // monitor-generated, not a prediction
)

// PredictionResult is the outcome of scoring one measurement.
type PredictionResult struct {
	Level    WarningLevel
	Messages []string

	// Probability is the model's failure probability. Only meaningful
	// when HasProbability is set.
	Probability    float64
	HasProbability bool

	Source PredictionSource
}

// Warning is an entry in the operator-facing warning feed.
type Warning struct {
	At          time.Time        `json:"timestamp"`
	Level       WarningLevel     `json:"level"`
	Messages    []string         `json:"messages"`
	Source      PredictionSource `json:"source"`
	Probability float64          `json:"probability,omitempty"`
	HasProb     bool             `json:"-"`
}
