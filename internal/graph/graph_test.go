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
	"math/rand"
	"testing"

	"github.com/9rum/gnnddp/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func edgeSet(g *Graph) map[[2]int]int {
	src, dst := g.Edges()
	set := make(map[[2]int]int, len(src))
	for e := range src {
		set[[2]int{src[e], dst[e]}]++
	}
	return set
}

func TestBuildUpper(t *testing.T) {
	g, err := Build([]int{0, 1}, []int{1, 2}, Upper)
	require.NoError(t, err)
	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 5, g.NumEdges())
	assert.Equal(t, map[[2]int]int{{0, 1}: 1, {1, 2}: 1, {0, 0}: 1, {1, 1}: 1, {2, 2}: 1}, edgeSet(g))
}

func TestBuildLower(t *testing.T) {
	g, err := Build([]int{0, 1}, []int{1, 2}, Lower)
	require.NoError(t, err)
	assert.Equal(t, map[[2]int]int{{1, 0}: 1, {2, 1}: 1, {0, 0}: 1, {1, 1}: 1, {2, 2}: 1}, edgeSet(g))
}

func TestBuildSym(t *testing.T) {
	// the stored self loop on node 1 is folded into the added ones
	g, err := Build([]int{0, 1, 1}, []int{1, 1, 2}, Sym)
	require.NoError(t, err)
	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, map[[2]int]int{
		{0, 1}: 1, {1, 2}: 1, {1, 0}: 1, {2, 1}: 1,
		{0, 0}: 1, {1, 1}: 1, {2, 2}: 1,
	}, edgeSet(g))
}

func TestBuildRejectsMismatchedEdges(t *testing.T) {
	_, err := Build([]int{0, 1}, []int{1}, Upper)
	assert.Error(t, err)
	_, err = ParseTopology("diagonal")
	assert.Error(t, err)
}

func TestNewRejectsOutOfRange(t *testing.T) {
	_, err := New([]int{0, 5}, []int{1, 1}, 3)
	assert.Error(t, err)
}

func TestBidirected(t *testing.T) {
	g, err := New([]int{0, 1, 1}, []int{1, 0, 2}, 4)
	require.NoError(t, err)
	b, err := g.Bidirected()
	require.NoError(t, err)
	assert.Equal(t, 4, b.NumNodes())
	assert.Equal(t, map[[2]int]int{{0, 1}: 1, {1, 0}: 1, {1, 2}: 1, {2, 1}: 1}, edgeSet(b))
}

func TestPropagateIsAdjoint(t *testing.T) {
	const (
		numNodes = 50
		numEdges = 200
		features = 7
	)
	src := make([]int, numEdges)
	dst := make([]int, numEdges)
	for e := range src {
		src[e], dst[e] = rand.Intn(numNodes), rand.Intn(numNodes)
	}
	g, err := New(src, dst, numNodes)
	require.NoError(t, err)

	x := mat.NewDense(numNodes, features, nil)
	y := mat.NewDense(numNodes, features, nil)
	for i := 0; i < numNodes; i++ {
		for j := 0; j < features; j++ {
			x.Set(i, j, rand.NormFloat64())
			y.Set(i, j, rand.NormFloat64())
		}
	}

	// <Ax, y> == <x, A^T y>
	lhs := mat.Sum(elem(g.Propagate(x), y))
	rhs := mat.Sum(elem(x, g.PropagateTranspose(y)))
	assert.InDelta(t, lhs, rhs, 1e-9)
}

func elem(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}

func TestPropagateNormalization(t *testing.T) {
	// 0 -> 1 and 2 -> 1: node 1 has in-degree 2, sources have out-degree 1
	g, err := New([]int{0, 2}, []int{1, 1}, 3)
	require.NoError(t, err)
	h := mat.NewDense(3, 1, []float64{1, 10, 100})
	out := g.Propagate(h)
	assert.InDelta(t, 101/1.4142135623730951, out.At(1, 0), 1e-12)
	assert.Zero(t, out.At(0, 0))
	assert.Zero(t, out.At(2, 0))
}

func TestToCopies(t *testing.T) {
	g, err := New([]int{0}, []int{1}, 2)
	require.NoError(t, err)
	moved := g.To(device.CUDA(1))
	assert.Equal(t, device.CPU, g.Device())
	assert.Equal(t, device.CUDA(1), moved.Device())
	assert.Same(t, moved, moved.To(device.CUDA(1)))
}
