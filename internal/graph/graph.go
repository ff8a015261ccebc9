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

// Package graph implements a directed graph with per-node data, in the shape
// the node-classification training loop consumes.  Messages flow from the
// source to the target of each edge, and aggregation is normalized by the
// square roots of the source out-degree and the target in-degree.
package graph

import (
	"fmt"
	"math"

	"github.com/9rum/gnnddp/device"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Graph holds the topology and node data of a graph.  A graph is immutable
// once its node data is attached; To returns a copy rather than moving the
// receiver.
type Graph struct {
	numNodes int
	src      []int
	dst      []int
	norm     []float64
	device   device.Device

	// Features is a matrix of shape (# of nodes, # of features).
	Features *mat.Dense
	// Labels holds a class index per node.
	Labels []int

	TrainMask []bool
	ValMask   []bool
	TestMask  []bool

	// EdgeWeights is optional and holds one weight per edge as stored on disk.
	EdgeWeights []float64
}

// New creates a graph with the given edges.  If numNodes is negative, the
// number of nodes is inferred as the largest node index plus one.
func New(src, dst []int, numNodes int) (*Graph, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("edge list length mismatch: %d sources, %d targets", len(src), len(dst))
	}
	if numNodes < 0 {
		numNodes = inferNumNodes(src, dst)
	}
	if numNodes == 0 {
		return nil, errors.New("graph has no nodes")
	}
	for e := range src {
		if src[e] < 0 || numNodes <= src[e] || dst[e] < 0 || numNodes <= dst[e] {
			return nil, errors.Errorf("edge %d (%d -> %d) out of range for %d nodes", e, src[e], dst[e], numNodes)
		}
	}

	g := &Graph{
		numNodes: numNodes,
		src:      src,
		dst:      dst,
		device:   device.CPU,
	}
	g.normalize()
	return g, nil
}

// inferNumNodes returns the largest node index plus one.
func inferNumNodes(src, dst []int) (n int) {
	for e := range src {
		n = max(n, src[e]+1, dst[e]+1)
	}
	return
}

// normalize computes the symmetric normalization coefficient of each edge.
// Degrees are clamped to one so that isolated nodes propagate nothing rather
// than dividing by zero.
func (g *Graph) normalize() {
	in := make([]float64, g.numNodes)
	out := make([]float64, g.numNodes)
	for e := range g.src {
		out[g.src[e]]++
		in[g.dst[e]]++
	}
	g.norm = make([]float64, len(g.src))
	for e := range g.src {
		g.norm[e] = 1 / math.Sqrt(math.Max(out[g.src[e]], 1)*math.Max(in[g.dst[e]], 1))
	}
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int {
	return g.numNodes
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	return len(g.src)
}

// Edges returns the source and target node of every edge.  The returned
// slices must not be modified.
func (g *Graph) Edges() (src, dst []int) {
	return g.src, g.dst
}

// Device returns where the graph resides.
func (g *Graph) Device() device.Device {
	return g.device
}

// To returns a shallow copy of the graph residing on d.
func (g *Graph) To(d device.Device) *Graph {
	if g.device == d {
		return g
	}
	clone := *g
	clone.device = d
	return &clone
}

// Propagate aggregates the rows of h along the edges: row v of the result is
// the normalized sum of the rows of all sources of edges into v.
func (g *Graph) Propagate(h *mat.Dense) *mat.Dense {
	return g.spmm(h, g.src, g.dst)
}

// PropagateTranspose is the adjoint of Propagate, used to carry gradients
// from targets back to sources.
func (g *Graph) PropagateTranspose(h *mat.Dense) *mat.Dense {
	return g.spmm(h, g.dst, g.src)
}

func (g *Graph) spmm(h *mat.Dense, from, to []int) *mat.Dense {
	rows, cols := h.Dims()
	if rows != g.numNodes {
		panic(fmt.Sprintf("graph: propagating %d rows over %d nodes", rows, g.numNodes))
	}
	out := mat.NewDense(rows, cols, nil)
	for e := range from {
		floats.AddScaled(out.RawRowView(to[e]), g.norm[e], h.RawRowView(from[e]))
	}
	return out
}
