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

package trainer

import (
	"github.com/9rum/gnnddp/internal/graph"
	"github.com/9rum/gnnddp/internal/metrics"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Evaluator scores a model on a masked subset of a graph and keeps the best
// score seen so far.
type Evaluator struct {
	best float64
	// Checkpoint, if set, is called on every new best.
	Checkpoint func() error
}

// NewEvaluator creates an evaluator whose best score is below any F1 score.
func NewEvaluator() *Evaluator {
	return &Evaluator{best: -1}
}

// Best returns the best score tracked so far.
func (e *Evaluator) Best() float64 {
	return e.best
}

// Evaluate returns the micro-F1 score of m on the nodes of g selected by
// mask.  It leaves m in evaluation mode.
func (e *Evaluator) Evaluate(m Replica, g *graph.Graph, mask []bool) (float64, error) {
	if len(mask) != g.NumNodes() || len(g.Labels) != g.NumNodes() {
		return 0, errors.Errorf("%d labels and %d mask entries for %d nodes", len(g.Labels), len(mask), g.NumNodes())
	}

	m.SetTraining(false)
	logits, err := m.Forward(g)
	if err != nil {
		return 0, errors.Wrap(err, "evaluate")
	}
	labels, preds := metrics.Masked(g.Labels, metrics.Argmax(logits), mask)
	micro, _, err := metrics.F1(labels, preds)
	return micro, err
}

// Track records score and reports whether it beats every score recorded
// before.  A new best is checkpointed when Checkpoint is set.
func (e *Evaluator) Track(score float64) (improved bool, err error) {
	if score <= e.best {
		return false, nil
	}
	e.best = score
	glog.Infof("new best f1: %.4f", score)
	if e.Checkpoint != nil {
		err = errors.Wrap(e.Checkpoint(), "checkpoint best model")
	}
	return true, err
}
