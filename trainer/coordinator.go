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

// Package trainer runs the distributed subgraph-training loop.  Every worker
// trains on its share of the partitions with gradients averaged across the
// group; rank 0 additionally evaluates on the full graph on an adaptive
// cadence, logs results and tracks the best model.
package trainer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/9rum/gnnddp/communicator"
	"github.com/9rum/gnnddp/device"
	"github.com/9rum/gnnddp/internal/data"
	"github.com/9rum/gnnddp/internal/graph"
	"github.com/9rum/gnnddp/internal/metrics"
	"github.com/9rum/gnnddp/nn"
	"github.com/9rum/gnnddp/scheduler"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
)

// Replica is a model replica whose Backward synchronizes gradients with
// every other worker.  Backward must be called exactly once per training
// Forward, in the same order on every worker.
type Replica interface {
	device.Movable
	Forward(g *graph.Graph) (*mat.Dense, error)
	ZeroGrad()
	Backward(ctx context.Context, loss nn.Loss) error
	Step() error
	SetTraining(training bool)
	EmptyCache()
}

// Coordinator drives the training loop of one worker.
type Coordinator struct {
	Config     Config
	Group      communicator.Group
	Model      Replica
	Policy     device.Policy
	Partitions []*data.Partition
	Full       *graph.Graph
	Evaluator  *Evaluator
	// Progress receives the progress bar; nil disables it.
	Progress io.Writer

	State TrainingState
}

// Run trains for the configured number of epochs and finishes with an
// evaluation on the test split on rank 0.  A rank that is assigned no
// partitions, which happens when there are fewer partitions than workers,
// fails with an error before training starts.  The process group is left
// open; its owner closes it.
func (c *Coordinator) Run(ctx context.Context) error {
	c.State = TrainingState{Phase: Initializing}
	rank, worldSize := c.Group.Rank(), c.Group.Size()

	assigned, err := scheduler.Assign(c.Partitions, worldSize, rank)
	if err != nil {
		return err
	}
	if len(assigned) == 0 {
		return errors.Errorf("no partitions for rank %d: %d partitions over %d workers", rank, len(c.Partitions), worldSize)
	}
	if dropped := scheduler.Dropped(len(c.Partitions), worldSize); 0 < dropped && rank == 0 {
		glog.Warningf("%d trailing partitions are not assigned to any worker", dropped)
	}
	indices := make([]int, 0, len(assigned))
	for _, p := range assigned {
		indices = append(indices, p.Index)
	}
	glog.Infof("rank %d assigned partitions %v", rank, indices)

	if c.Evaluator == nil {
		c.Evaluator = NewEvaluator()
	}
	if c.Progress == nil {
		c.Progress = io.Discard
	}

	// the full graph stays where it is placed for the lifetime of the run
	full := c.Full.To(c.Policy.FullGraph())
	c.Model.To(c.Policy.Place(device.Train).Model)

	bar := progressbar.NewOptions(c.Config.Epochs*len(assigned),
		progressbar.OptionSetWriter(c.Progress),
		progressbar.OptionSetDescription(fmt.Sprintf("rank %d", rank)),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("iters"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	defer bar.Finish()

	start := time.Now()
	for epoch := 0; epoch < c.Config.Epochs; epoch++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		c.State.Epoch = epoch
		c.State.Phase = Training
		if err = c.trainEpoch(ctx, assigned, bar); err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}

		if rank == 0 && scheduler.ShouldEvaluate(epoch) {
			c.State.Phase = Evaluating
			if err = c.evaluate(full); err != nil {
				return errors.WithMessagef(err, "epoch %d", epoch)
			}
		}
	}
	glog.Infof("training using time %s", time.Since(start))

	c.State.Phase = Finished
	if rank != 0 {
		return nil
	}
	var score float64
	err = c.Policy.Scoped(device.Evaluate, c.Model, func() (err error) {
		score, err = c.Evaluator.Evaluate(c.Model, full, full.TestMask)
		return
	})
	if err != nil {
		return errors.WithMessage(err, "final evaluation")
	}
	glog.Infof("Test F1-mic %.4f", score)
	return nil
}

// trainEpoch runs one iteration per assigned partition.
func (c *Coordinator) trainEpoch(ctx context.Context, assigned []*data.Partition, bar *progressbar.ProgressBar) error {
	at := c.Policy.Place(device.Train).Graph
	for j, p := range assigned {
		begin := time.Now()

		subgraph := p.To(at)
		c.Model.SetTraining(true)
		logits, err := c.Model.Forward(subgraph)
		if err != nil {
			return errors.WithMessagef(err, "partition %d", p.Index)
		}
		loss, err := nn.CrossEntropy(logits, subgraph.Labels)
		if err != nil {
			return errors.WithMessagef(err, "partition %d", p.Index)
		}
		c.Model.ZeroGrad()
		if err = c.Model.Backward(ctx, loss); err != nil {
			return errors.WithMessagef(err, "partition %d", p.Index)
		}
		if err = c.Model.Step(); err != nil {
			return err
		}
		c.Model.EmptyCache()
		c.State.Duration += time.Since(begin)

		if reportsTraining(c.Group.Rank(), j, len(assigned), c.State.Epoch) {
			micro, macro, err := metrics.F1(subgraph.Labels, metrics.Argmax(logits))
			if err != nil {
				return err
			}
			glog.Infof("epoch:%d/%d, Iteration %d/%d:training loss %.6f", c.State.Epoch+1, c.Config.Epochs, j+1, len(assigned), loss.Value)
			glog.Infof("Train F1-mic %.4f, Train F1-mac %.4f", micro, macro)
		}
		bar.Add(1)
	}
	return nil
}

// reportsTraining reports whether the given iteration of the epoch logs
// training diagnostics: only rank 0 does, after its last partition of every
// reporting epoch.
func reportsTraining(rank, iteration, iterations, epoch int) bool {
	return rank == 0 && iteration == iterations-1 && scheduler.ShouldReportTraining(epoch)
}

// evaluate scores the model on the configured split of the full graph,
// appends the result to the metric log and tracks the best score.
func (c *Coordinator) evaluate(full *graph.Graph) error {
	mask := full.TestMask
	if c.Config.EvalSplit == ValSplit {
		mask = full.ValMask
	}

	var score float64
	err := c.Policy.Scoped(device.Evaluate, c.Model, func() (err error) {
		score, err = c.Evaluator.Evaluate(c.Model, full, mask)
		return
	})
	if err != nil {
		return err
	}
	glog.Infof("F1-mic %.4f", score)

	if _, err = c.Evaluator.Track(score); err != nil {
		return err
	}

	record := Record{
		Dataset:   c.Config.Dataset,
		WorldSize: c.Group.Size(),
		Topology:  c.Config.Topology,
		Epoch:     c.State.Epoch,
		Duration:  c.State.Duration,
		Metric:    score,
	}
	glog.Info(record.String())
	if c.Config.CSV == "" {
		return nil
	}
	return errors.Wrap(appendRecord(c.Config.CSV, record), "append metric log")
}
