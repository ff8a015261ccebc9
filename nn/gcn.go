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

// Package nn implements a graph convolutional network for node
// classification together with its loss and optimizer.  Gradients are
// derived by hand; the model keeps the activations of its last training
// forward pass until Backward or EmptyCache releases them.
package nn

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/9rum/gnnddp/device"
	"github.com/9rum/gnnddp/internal/graph"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// GCN is a stack of graph convolutions without bias.  Every layer but the
// last is followed by a ReLU.
type GCN struct {
	weights  []*mat.Dense
	grads    []*mat.Dense
	device   device.Device
	training bool

	// activations of the last training forward pass
	graph      *graph.Graph
	aggregated []*mat.Dense
	pre        []*mat.Dense
}

// NewGCN creates a GCN mapping inFeats input features to classes logits
// through hiddenLayers hidden layers of width hidden.  Weights are drawn
// from a Glorot uniform distribution; workers that use the same seed start
// from the same parameters.
func NewGCN(rng *rand.Rand, inFeats, hidden, classes, hiddenLayers int) (*GCN, error) {
	if inFeats < 1 || hidden < 1 || classes < 1 || hiddenLayers < 0 {
		return nil, errors.Errorf("invalid GCN shape: %d -> %d x %d -> %d", inFeats, hidden, hiddenLayers, classes)
	}

	dims := make([]int, 0, hiddenLayers+2)
	dims = append(dims, inFeats)
	for len(dims) <= hiddenLayers {
		dims = append(dims, hidden)
	}
	dims = append(dims, classes)

	m := &GCN{
		device:   device.CPU,
		training: true,
	}
	for l := 0; l+1 < len(dims); l++ {
		m.weights = append(m.weights, glorot(rng, dims[l], dims[l+1]))
		m.grads = append(m.grads, mat.NewDense(dims[l], dims[l+1], nil))
	}
	return m, nil
}

func glorot(rng *rand.Rand, in, out int) *mat.Dense {
	bound := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	return mat.NewDense(in, out, data)
}

// Parameters returns the layer weights, first layer first.  Updating them in
// place updates the model.
func (m *GCN) Parameters() []*mat.Dense {
	return m.weights
}

// Gradients returns the accumulated gradient of each parameter.
func (m *GCN) Gradients() []*mat.Dense {
	return m.grads
}

// ZeroGrad resets the accumulated gradients.
func (m *GCN) ZeroGrad() {
	for _, grad := range m.grads {
		grad.Zero()
	}
}

// SetTraining switches between training mode, where forward passes keep the
// activations needed by Backward, and evaluation mode, where they do not.
func (m *GCN) SetTraining(training bool) {
	m.training = training
	if !training {
		m.EmptyCache()
	}
}

// Training reports whether the model is in training mode.
func (m *GCN) Training() bool {
	return m.training
}

func (m *GCN) Device() device.Device {
	return m.device
}

// To moves the parameters to d.
func (m *GCN) To(d device.Device) {
	m.device = d
}

// EmptyCache releases the activations kept for Backward.
func (m *GCN) EmptyCache() {
	m.graph, m.aggregated, m.pre = nil, nil, nil
}

// Forward returns the logits of every node of g, a matrix of shape
// (# of nodes, # of classes).  The graph must reside on the same device as
// the model.
func (m *GCN) Forward(g *graph.Graph) (*mat.Dense, error) {
	if g.Device() != m.device {
		return nil, errors.Errorf("graph on %s, model on %s", g.Device(), m.device)
	}
	if g.Features == nil {
		return nil, errors.New("graph has no features")
	}
	if rows, cols := g.Features.Dims(); rows != g.NumNodes() || cols != m.weights[0].RawMatrix().Rows {
		return nil, errors.Errorf("features of shape (%d, %d) for %d nodes and %d input features",
			rows, cols, g.NumNodes(), m.weights[0].RawMatrix().Rows)
	}

	var aggregated, pre []*mat.Dense
	h := g.Features
	for l, w := range m.weights {
		a := g.Propagate(h)
		var z mat.Dense
		z.Mul(a, w)
		if m.training {
			aggregated = append(aggregated, a)
			pre = append(pre, &z)
		}
		if l+1 < len(m.weights) {
			h = relu(&z)
		} else {
			h = &z
		}
	}

	if m.training {
		m.graph, m.aggregated, m.pre = g, aggregated, pre
	}
	return h, nil
}

// Backward accumulates the parameter gradients given the gradient of the
// loss with respect to the logits of the last training forward pass.
func (m *GCN) Backward(dLogits *mat.Dense) error {
	if m.graph == nil {
		return errors.New("backward without a training forward pass")
	}
	defer m.EmptyCache()

	dz := dLogits
	for l := len(m.weights) - 1; 0 <= l; l-- {
		var dw mat.Dense
		dw.Mul(m.aggregated[l].T(), dz)
		m.grads[l].Add(m.grads[l], &dw)
		if l == 0 {
			break
		}

		var da mat.Dense
		da.Mul(dz, m.weights[l].T())
		dh := m.graph.PropagateTranspose(&da)
		dh.Apply(func(i, j int, v float64) float64 {
			if m.pre[l-1].At(i, j) <= 0 {
				return 0
			}
			return v
		}, dh)
		dz = dh
	}
	return nil
}

func relu(z *mat.Dense) *mat.Dense {
	var h mat.Dense
	h.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, 0)
	}, z)
	return &h
}

func (m *GCN) String() string {
	var b strings.Builder
	b.WriteString("GCN(\n")
	for l, w := range m.weights {
		in, out := w.Dims()
		activation := ""
		if l+1 < len(m.weights) {
			activation = ", activation=relu"
		}
		fmt.Fprintf(&b, "  (%d): GraphConv(in=%d, out=%d, normalization=both%s)\n", l, in, out, activation)
	}
	b.WriteString(")")
	return b.String()
}
