package model

// Quality scores derived from signal strength. Higher is better.
const (
	QualityVeryWeak  = 0
	QualityWeak      = 1
	QualityFair      = 2
	QualityGood      = 3
	QualityExcellent = 4
)

// QualityLabels lists the labels in descending score order, the order
// used by session summaries and dashboards.
var QualityLabels = []string{"Excellent", "Good", "Fair", "Weak", "VeryWeak"}

// QualityFromSignal maps a signal strength in dBm to a 0..4 score.
func QualityFromSignal(dBm int) int {
	switch {
	case dBm >= -50:
		return QualityExcellent
	case dBm >= -60:
		return QualityGood
	case dBm >= -70:
		return QualityFair
	case dBm >= -80:
		return QualityWeak
	default:
		return QualityVeryWeak
	}
}

// QualityLabel returns the display label for a score.
func QualityLabel(score int) string {
	switch score {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	case QualityWeak:
		return "Weak"
	case QualityVeryWeak:
		return "VeryWeak"
	default:
		return "Unknown"
	}
}

// ClampQuality forces a derived score back into the 0..4 range.
func ClampQuality(score int) int {
	if score < QualityVeryWeak {
		return QualityVeryWeak
	}
	if score > QualityExcellent {
		return QualityExcellent
	}
	return score
}
