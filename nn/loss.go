// Copyright 2022 Sogang University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss is a scalar loss together with its gradient with respect to the
// logits it was computed from.
type Loss struct {
	Value float64
	Grad  *mat.Dense
}

// CrossEntropy returns the mean softmax cross-entropy of logits against
// labels over every row.
func CrossEntropy(logits *mat.Dense, labels []int) (Loss, error) {
	rows, classes := logits.Dims()
	if rows != len(labels) {
		return Loss{}, errors.Errorf("%d labels for %d rows of logits", len(labels), rows)
	}
	if rows == 0 {
		return Loss{}, errors.New("cross entropy of no rows")
	}

	grad := mat.NewDense(rows, classes, nil)
	var sum float64
	for i, label := range labels {
		if label < 0 || classes <= label {
			return Loss{}, errors.Errorf("label %d of node %d out of range for %d classes", label, i, classes)
		}
		row := grad.RawRowView(i)
		copy(row, logits.RawRowView(i))
		lse := floats.LogSumExp(row)
		sum += lse - row[label]
		for j := range row {
			row[j] = math.Exp(row[j] - lse)
		}
		row[label] -= 1
	}

	n := float64(rows)
	grad.Scale(1/n, grad)
	return Loss{
		Value: sum / n,
		Grad:  grad,
	}, nil
}
