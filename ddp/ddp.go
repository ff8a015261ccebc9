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

// Package ddp implements data-parallel training on top of a process group.
// Every worker holds a replica of the model; replicas start from the
// parameters of rank 0 and stay identical because every backward pass
// averages the gradients of all workers before the optimizer sees them.
package ddp

import (
	"context"

	"github.com/9rum/gnnddp/communicator"
	"github.com/9rum/gnnddp/device"
	"github.com/9rum/gnnddp/internal/graph"
	"github.com/9rum/gnnddp/nn"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DataParallel wraps a model replica, its optimizer and the process group
// it synchronizes with.
type DataParallel struct {
	module *nn.GCN
	group  communicator.Group
	opt    *nn.Adam
	buf    []float64
}

// New wraps module and overwrites its parameters with those of rank 0.  It
// must be called by every worker of group.
func New(ctx context.Context, module *nn.GCN, group communicator.Group, opt *nn.Adam) (*DataParallel, error) {
	d := &DataParallel{
		module: module,
		group:  group,
		opt:    opt,
		buf:    make([]float64, numElements(module.Parameters())),
	}

	flatten(d.buf, module.Parameters())
	if err := group.Broadcast(ctx, 0, d.buf); err != nil {
		return nil, errors.Wrap(err, "broadcast parameters")
	}
	unflatten(module.Parameters(), d.buf)

	glog.Infof("rank %d replicated %d parameters from rank 0", group.Rank(), len(d.buf))
	return d, nil
}

// Module returns the wrapped replica.
func (d *DataParallel) Module() *nn.GCN {
	return d.module
}

func (d *DataParallel) Forward(g *graph.Graph) (*mat.Dense, error) {
	return d.module.Forward(g)
}

func (d *DataParallel) ZeroGrad() {
	d.module.ZeroGrad()
}

// Backward computes the local gradients of loss and replaces them with the
// mean over all workers.  It blocks until every worker called Backward.
func (d *DataParallel) Backward(ctx context.Context, loss nn.Loss) error {
	if err := d.module.Backward(loss.Grad); err != nil {
		return err
	}

	grads := d.module.Gradients()
	flatten(d.buf, grads)
	if err := d.group.AllReduce(ctx, d.buf); err != nil {
		return errors.Wrap(err, "all-reduce gradients")
	}
	floats.Scale(1/float64(d.group.Size()), d.buf)
	unflatten(grads, d.buf)
	return nil
}

// Step applies the averaged gradients.
func (d *DataParallel) Step() error {
	return d.opt.Step(d.module.Parameters(), d.module.Gradients())
}

func (d *DataParallel) SetTraining(training bool) {
	d.module.SetTraining(training)
}

func (d *DataParallel) Training() bool {
	return d.module.Training()
}

func (d *DataParallel) Device() device.Device {
	return d.module.Device()
}

func (d *DataParallel) To(dev device.Device) {
	d.module.To(dev)
}

func (d *DataParallel) EmptyCache() {
	d.module.EmptyCache()
}

func numElements(ms []*mat.Dense) (n int) {
	for _, m := range ms {
		r, c := m.Dims()
		n += r * c
	}
	return
}

// flatten copies ms into buf in row-major order.
func flatten(buf []float64, ms []*mat.Dense) {
	off := 0
	for _, m := range ms {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			copy(buf[off:off+c], m.RawRowView(i))
			off += c
		}
	}
}

// unflatten is the inverse of flatten.
func unflatten(ms []*mat.Dense, buf []float64) {
	off := 0
	for _, m := range ms {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			copy(m.RawRowView(i), buf[off:off+c])
			off += c
		}
	}
}
