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

// Package metrics computes classification metrics from logits and labels.
package metrics

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Argmax returns the index of the largest logit of every row.
func Argmax(logits mat.Matrix) []int {
	rows, cols := logits.Dims()
	preds := make([]int, rows)
	row := make([]float64, cols)
	for i := range preds {
		mat.Row(row, i, logits)
		preds[i] = floats.MaxIdx(row)
	}
	return preds
}

// F1 returns the micro- and macro-averaged F1 scores of the given
// single-label predictions.  Macro averaging covers every class that occurs
// in either the labels or the predictions.
func F1(labels, preds []int) (micro, macro float64, err error) {
	if len(labels) != len(preds) {
		return 0, 0, errors.Errorf("%d labels for %d predictions", len(labels), len(preds))
	}
	if len(labels) == 0 {
		return 0, 0, nil
	}

	type counts struct{ tp, fp, fn float64 }
	classes := make(map[int]*counts)
	get := func(class int) *counts {
		c, found := classes[class]
		if !found {
			c = new(counts)
			classes[class] = c
		}
		return c
	}

	var tp float64
	for i, label := range labels {
		if preds[i] == label {
			get(label).tp++
			tp++
			continue
		}
		get(preds[i]).fp++
		get(label).fn++
	}

	// With exactly one prediction per sample, micro precision and recall both
	// equal accuracy.
	micro = tp / float64(len(labels))

	// sum in class order so that the result does not depend on map iteration
	keys := maps.Keys(classes)
	slices.Sort(keys)
	for _, class := range keys {
		c := classes[class]
		if denom := 2*c.tp + c.fp + c.fn; denom > 0 {
			macro += 2 * c.tp / denom
		}
	}
	macro /= float64(len(classes))

	return micro, macro, nil
}

// Masked returns the labels and predictions of the nodes selected by mask.
func Masked(labels, preds []int, mask []bool) (l, p []int) {
	for i, set := range mask {
		if set {
			l = append(l, labels[i])
			p = append(p, preds[i])
		}
	}
	return
}
