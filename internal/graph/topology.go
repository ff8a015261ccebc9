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

package graph

import (
	"github.com/pkg/errors"
)

// Topology selects how a stored edge list becomes a graph.
type Topology int

const (
	// Upper keeps the edges as stored and adds a self loop to every node.
	Upper Topology = iota
	// Lower reverses every edge and adds a self loop to every node.
	Lower
	// Sym drops stored self loops, adds the reverse of every edge and then
	// one self loop per node.
	Sym
)

// ParseTopology parses the command-line name of a topology.
func ParseTopology(name string) (Topology, error) {
	switch name {
	case "upper":
		return Upper, nil
	case "lower":
		return Lower, nil
	case "sym":
		return Sym, nil
	default:
		return 0, errors.Errorf("invalid topology %q, want one of upper, lower, sym", name)
	}
}

func (t Topology) String() string {
	switch t {
	case Upper:
		return "upper"
	case Lower:
		return "lower"
	case Sym:
		return "sym"
	default:
		return "unknown"
	}
}

// Build constructs a graph from a stored 2-row adjacency (sources, targets)
// under the given topology.  The node count is inferred from the edges.
func Build(src, dst []int, topo Topology) (*Graph, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("edge list length mismatch: %d sources, %d targets", len(src), len(dst))
	}
	switch topo {
	case Upper:
		src, dst = addSelfLoops(src, dst, inferNumNodes(src, dst))
	case Lower:
		src, dst = addSelfLoops(dst, src, inferNumNodes(src, dst))
	case Sym:
		src, dst = symmetrize(src, dst)
	default:
		return nil, errors.Errorf("invalid topology %d", topo)
	}
	return New(src, dst, -1)
}

// addSelfLoops returns a copy of the edges with one self loop appended for
// every node, regardless of existing self loops.
func addSelfLoops(src, dst []int, numNodes int) ([]int, []int) {
	s := make([]int, 0, len(src)+numNodes)
	d := make([]int, 0, len(dst)+numNodes)
	s = append(s, src...)
	d = append(d, dst...)
	for v := 0; v < numNodes; v++ {
		s = append(s, v)
		d = append(d, v)
	}
	return s, d
}

// symmetrize removes self loops, concatenates the reversed edges and adds one
// self loop per remaining node.  Duplicate edges are kept.
func symmetrize(src, dst []int) ([]int, []int) {
	s := make([]int, 0, 2*len(src))
	d := make([]int, 0, 2*len(dst))
	for e := range src {
		if src[e] != dst[e] {
			s = append(s, src[e])
			d = append(d, dst[e])
		}
	}
	for e, n := 0, len(s); e < n; e++ {
		s = append(s, d[e])
		d = append(d, s[e])
	}
	return addSelfLoops(s, d, inferNumNodes(s, d))
}

// Bidirected returns a graph with an edge in each direction for every edge of
// g and no parallel edges.  Node data is carried over.
func (g *Graph) Bidirected() (*Graph, error) {
	type edge struct{ u, v int }
	seen := make(map[edge]struct{}, 2*len(g.src))
	src := make([]int, 0, 2*len(g.src))
	dst := make([]int, 0, 2*len(g.dst))
	add := func(u, v int) {
		if _, found := seen[edge{u, v}]; found {
			return
		}
		seen[edge{u, v}] = struct{}{}
		src = append(src, u)
		dst = append(dst, v)
	}
	for e := range g.src {
		add(g.src[e], g.dst[e])
		add(g.dst[e], g.src[e])
	}

	out, err := New(src, dst, g.numNodes)
	if err != nil {
		return nil, err
	}
	out.device = g.device
	out.Features, out.Labels = g.Features, g.Labels
	out.TrainMask, out.ValMask, out.TestMask = g.TrainMask, g.ValMask, g.TestMask
	return out, nil
}
