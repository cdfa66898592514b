// Package predictor combines the rule evaluator with an optional failure
// model. Rules always run; the model can only escalate their verdict.
package predictor

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/linkwatch/internal/features"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/rules"
	"github.com/signalsfoundry/linkwatch/model"
)

// band maps a minimum probability to the level and message it implies.
type band struct {
	min     float64
	level   model.WarningLevel
	message string
}

// Bands in descending order; the first match wins.
var bands = []band{
	{0.85, model.LevelCritical, "Model: very high failure risk (%.0f%%); the link may drop at any moment."},
	{0.70, model.LevelWarning, "Model: high failure risk (%.0f%%); take precautions."},
	{0.50, model.LevelCaution, "Model: link stability declining (%.0f%%); keep watching."},
	{0.30, model.LevelInfo, "Model: slight fluctuation detected (%.0f%%)."},
}

// Status is a point-in-time view of the predictor.
type Status struct {
	ModelLoaded      bool   `json:"model_loaded"`
	WindowFill       int    `json:"window_size"`
	TotalPredictions int    `json:"total_predictions"`
	WarningsGiven    int    `json:"warnings_given"`
	ScoringFailures  int    `json:"scoring_failures"`
	Mode             string `json:"mode"`
}

const (
	ModeHybrid = "hybrid (rules + model)"
	ModeRules  = "rules"
)

// Predictor is the hybrid engine. Not safe for concurrent use; the
// monitor serializes calls under its state lock.
type Predictor struct {
	rules  *rules.Evaluator
	scorer Scorer // nil in rules-only mode
	window *features.Window
	log    logging.Logger

	totalPredictions int
	warningsGiven    int
	scoringFailures  int
}

// Option customises a Predictor.
type Option func(*Predictor)

// WithWindowSize overrides the model window length. It must match the
// window the model was trained with.
func WithWindowSize(n int) Option {
	return func(p *Predictor) {
		p.window = features.NewWindow(n)
	}
}

// New builds a predictor. A nil or NullScorer scorer selects rules-only
// mode for the predictor's lifetime.
func New(thresholds rules.Thresholds, scorer Scorer, log logging.Logger, opts ...Option) *Predictor {
	if log == nil {
		log = logging.Noop()
	}
	p := &Predictor{
		rules:  rules.NewEvaluator(thresholds),
		window: features.NewWindow(features.DefaultWindowSize),
		log:    log,
	}
	if !isNull(scorer) {
		p.scorer = scorer
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Predict grades one measurement.
func (p *Predictor) Predict(ctx context.Context, m model.Measurement) model.PredictionResult {
	p.totalPredictions++
	p.window.Add(m)

	level, msgs := p.rules.Evaluate(m)
	res := model.PredictionResult{Level: level, Messages: msgs, Source: model.SourceRules}

	if p.scorer != nil && p.window.Full() {
		prob, err := p.score(p.window.Vector())
		if err != nil {
			p.scoringFailures++
			p.log.Warn(ctx, "scoring failed; using rules only", logging.Err(err), logging.Uint64("seq", m.Seq))
		} else {
			res.Probability = prob
			res.HasProbability = true
			applyBand(&res, prob)
		}
	}

	if res.Level > model.LevelNone {
		p.warningsGiven++
	}
	return res
}

// applyBand escalates res when prob lands in a band above the current
// level. Landing in any band marks the result hybrid even without
// escalation.
func applyBand(res *model.PredictionResult, prob float64) {
	for _, b := range bands {
		if prob < b.min {
			continue
		}
		if b.level > res.Level {
			res.Level = b.level
			res.Messages = append(res.Messages, fmt.Sprintf(b.message, prob*100))
		}
		res.Source = model.SourceHybrid
		return
	}
}

// score calls the model, turning panics and out-of-range output into
// errors.
func (p *Predictor) score(v features.Vector) (prob float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scorer panic: %v", r)
		}
	}()
	prob, err = p.scorer.Score(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidScore, prob)
	}
	return prob, nil
}

// Status reports counters and mode.
func (p *Predictor) Status() Status {
	s := Status{
		ModelLoaded:      p.scorer != nil,
		WindowFill:       p.window.Len(),
		TotalPredictions: p.totalPredictions,
		WarningsGiven:    p.warningsGiven,
		ScoringFailures:  p.scoringFailures,
		Mode:             ModeRules,
	}
	if s.ModelLoaded {
		s.Mode = ModeHybrid
	}
	return s
}

// FormatWarning renders a result as one operator line, "" for NONE.
func FormatWarning(res model.PredictionResult) string {
	if res.Level == model.LevelNone {
		return ""
	}
	return rules.FormatWarning(res.Level, res.Messages)
}

// Reset clears windows, history and counters.
func (p *Predictor) Reset() {
	p.window.Reset()
	p.rules.Reset()
	p.totalPredictions = 0
	p.warningsGiven = 0
	p.scoringFailures = 0
}
