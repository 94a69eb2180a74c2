package ml

// Accuracy is the fraction of matching predictions. Mismatched or empty
// inputs score 0.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	var correct int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// ClassMetrics is one row of the classification report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport computes per-class precision, recall and F1 for every
// class in classes, indexed by code.
func ClassificationReport(yTrue, yPred []int, classes []string) []ClassMetrics {
	report := make([]ClassMetrics, len(classes))
	for code, label := range classes {
		var tp, predicted, actual int
		for i := range yTrue {
			if yPred[i] == code {
				predicted++
			}
			if yTrue[i] == code {
				actual++
				if yPred[i] == code {
					tp++
				}
			}
		}
		m := ClassMetrics{Label: label, Support: actual}
		if predicted > 0 {
			m.Precision = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			m.Recall = float64(tp) / float64(actual)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report[code] = m
	}
	return report
}
