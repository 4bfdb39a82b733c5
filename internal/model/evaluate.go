package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ayusman/headnod/internal/dataset"
)

// ClassMetrics holds the per-class scores of an evaluation.
type ClassMetrics struct {
	Index     int     `json:"index"`
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation scores a model on a set of examples. Classes lists the label
// indices present in the truth or the predictions, ascending; Confusion is
// indexed by position in Classes, rows are truth.
type Evaluation struct {
	Examples  int            `json:"examples"`
	Accuracy  float64        `json:"accuracy"`
	Loss      float64        `json:"loss"`
	Classes   []int          `json:"classes"`
	PerClass  []ClassMetrics `json:"per_class"`
	Confusion [][]int        `json:"confusion"`
}

// Evaluate runs m over examples. An example the model cannot take fails the
// whole evaluation with ErrSchemaMismatch.
func Evaluate(m *Model, examples []dataset.Example) (*Evaluation, error) {
	var truth, pred []int
	ev := &Evaluation{}
	for i, ex := range examples {
		probs, err := m.Predict(ex.Sequence)
		if err != nil {
			return nil, fmt.Errorf("%w: example %d: %w", ErrSchemaMismatch, i, err)
		}
		truth = append(truth, ex.Label)
		pred = append(pred, argmax(probs))
		if ex.Label >= 0 && ex.Label < len(probs) {
			ev.Loss += crossEntropy(probs, ex.Label)
		}
	}
	if len(truth) > 0 {
		ev.Loss /= float64(len(truth))
	}
	scoreInto(ev, truth, pred, m.meta.Labels)
	return ev, nil
}

// Score computes accuracy, per-class metrics and the confusion matrix of a
// prediction list. Loss is left at zero.
func Score(truth, pred []int, labels dataset.Labels) *Evaluation {
	ev := &Evaluation{}
	scoreInto(ev, truth, pred, labels)
	return ev
}

func scoreInto(ev *Evaluation, truth, pred []int, labels dataset.Labels) {
	ev.Examples = len(truth)

	present := make(map[int]bool)
	for i := range truth {
		present[truth[i]] = true
		present[pred[i]] = true
	}
	ev.Classes = make([]int, 0, len(present))
	for c := range present {
		ev.Classes = append(ev.Classes, c)
	}
	sort.Ints(ev.Classes)

	pos := make(map[int]int, len(ev.Classes))
	for i, c := range ev.Classes {
		pos[c] = i
	}
	ev.Confusion = make([][]int, len(ev.Classes))
	for i := range ev.Confusion {
		ev.Confusion[i] = make([]int, len(ev.Classes))
	}

	correct := 0
	for i := range truth {
		ev.Confusion[pos[truth[i]]][pos[pred[i]]]++
		if truth[i] == pred[i] {
			correct++
		}
	}
	if len(truth) > 0 {
		ev.Accuracy = float64(correct) / float64(len(truth))
	}

	ev.PerClass = make([]ClassMetrics, len(ev.Classes))
	for i, c := range ev.Classes {
		tp := ev.Confusion[i][i]
		var predicted, support int
		for j := range ev.Classes {
			predicted += ev.Confusion[j][i]
			support += ev.Confusion[i][j]
		}
		cm := ClassMetrics{
			Index:     c,
			Label:     labels.Name(c),
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		ev.PerClass[i] = cm
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// String renders a classification report with a confusion matrix.
func (ev *Evaluation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %9s %9s %9s %9s\n", "", "precision", "recall", "f1-score", "support")
	for _, cm := range ev.PerClass {
		fmt.Fprintf(&b, "%-10s %9.2f %9.2f %9.2f %9d\n", cm.Label, cm.Precision, cm.Recall, cm.F1, cm.Support)
	}
	fmt.Fprintf(&b, "\n%-10s %29.2f %9d\n", "accuracy", ev.Accuracy, ev.Examples)

	b.WriteString("\nconfusion (rows: truth)\n")
	fmt.Fprintf(&b, "%-10s", "")
	for _, cm := range ev.PerClass {
		fmt.Fprintf(&b, " %9s", cm.Label)
	}
	b.WriteString("\n")
	for i, row := range ev.Confusion {
		fmt.Fprintf(&b, "%-10s", ev.PerClass[i].Label)
		for _, v := range row {
			fmt.Fprintf(&b, " %9d", v)
		}
		b.WriteString("\n")
	}
	return b.String()
}
