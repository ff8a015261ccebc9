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

package data

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/9rum/gnnddp/internal/graph"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const (
	numFeatures = 4
	numClasses  = 3
)

// writePartition writes a chain graph over numNodes nodes with extra feature
// rows appended, so that loading must truncate.
func writePartition(t *testing.T, dir string, index, numNodes, extra int, weighted bool) {
	t.Helper()
	src := make([]int, 0, numNodes-1)
	dst := make([]int, 0, numNodes-1)
	for v := 0; v+1 < numNodes; v++ {
		src = append(src, v)
		dst = append(dst, v+1)
	}
	path := func(name string) string {
		return filepath.Join(dir, fmt.Sprintf("%s_%d.pt", name, index))
	}
	require.NoError(t, WriteIndex(path("adj"), src, dst))
	require.NoError(t, WriteTensor(path("x"), features(numNodes+extra, float64(index))))
	require.NoError(t, WriteLabels(path("y"), labels(numNodes+extra)))
	require.NoError(t, WriteMask(path("train_mask"), make([]bool, numNodes+extra)))
	if weighted {
		require.NoError(t, WriteVector(path("edge_weight"), make([]float64, len(src))))
	}
}

func writeFull(t *testing.T, dir string, numNodes int) {
	t.Helper()
	src, dst := []int{0, 1}, []int{1, 2}
	path := func(name string) string {
		return filepath.Join(dir, name+"_full.pt")
	}
	train := make([]bool, numNodes)
	val := make([]bool, numNodes)
	test := make([]bool, numNodes)
	for v := 0; v < numNodes; v++ {
		switch v % 3 {
		case 0:
			train[v] = true
		case 1:
			val[v] = true
		default:
			test[v] = true
		}
	}
	require.NoError(t, WriteIndex(path("adj"), src, dst))
	require.NoError(t, WriteTensor(path("x"), features(numNodes, -1)))
	require.NoError(t, WriteLabels(path("y"), labels(numNodes)))
	require.NoError(t, WriteMask(path("train_mask"), train))
	require.NoError(t, WriteMask(path("val_mask"), val))
	require.NoError(t, WriteMask(path("test_mask"), test))
}

// features returns a matrix whose first column tags the rows with the given
// marker and whose second column holds the row index.
func features(rows int, marker float64) *mat.Dense {
	x := mat.NewDense(rows, numFeatures, nil)
	for i := 0; i < rows; i++ {
		x.Set(i, 0, marker)
		x.Set(i, 1, float64(i))
		for j := 2; j < numFeatures; j++ {
			x.Set(i, j, rand.NormFloat64())
		}
	}
	return x
}

func labels(n int) []int {
	y := make([]int, n)
	for i := range y {
		y[i] = i % numClasses
	}
	return y
}

func TestLookup(t *testing.T) {
	info, err := Lookup("reddit")
	require.NoError(t, err)
	assert.Equal(t, Info{Name: "reddit", Classes: 41, PinToHost: true, EdgeWeights: true}, info)

	info, err = Lookup("ogbn-arxiv")
	require.NoError(t, err)
	assert.False(t, info.PinToHost)
	assert.True(t, info.Bidirected)

	_, err = Lookup("cora")
	assert.True(t, errors.Is(err, ErrUnknownDataset))
	assert.Contains(t, Names(), "oral")
}

func TestLoad(t *testing.T) {
	const (
		count    = 8
		numNodes = 6
	)
	root := t.TempDir()
	dir := Dir(root, "meta")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for index := 0; index < count; index++ {
		writePartition(t, dir, index, numNodes, index%3, false)
	}
	writeFull(t, dir, 9)

	store, err := Load(root, "meta", count, graph.Upper)
	require.NoError(t, err)
	require.Len(t, store.Partitions, count)

	for index, partition := range store.Partitions {
		assert.Equal(t, index, partition.Index)
		assert.Equal(t, numNodes, partition.NumNodes())
		rows, _ := partition.Features.Dims()
		assert.Equal(t, numNodes, rows)
		assert.Len(t, partition.Labels, numNodes)
		assert.Len(t, partition.TrainMask, numNodes)
		// the partition is loaded from its own files, in order
		assert.Equal(t, float64(index), partition.Features.At(0, 0))
		assert.Nil(t, partition.EdgeWeights)
	}

	assert.Equal(t, 9, store.Full.NumNodes())
	assert.Equal(t, 2, store.Full.NumEdges())

	stats := store.Stats()
	assert.Equal(t, Stats{Nodes: 9, Edges: 2, Classes: 25, Features: numFeatures, Train: 3, Val: 3, Test: 3, MaxLabel: 2}, stats)
}

func TestLoadWeightedBidirected(t *testing.T) {
	root := t.TempDir()
	dir := Dir(root, "ogbn-arxiv")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePartition(t, dir, 0, 5, 0, true)
	writeFull(t, dir, 4)

	store, err := Load(root, "ogbn-arxiv", 1, graph.Sym)
	require.NoError(t, err)
	assert.Len(t, store.Partitions[0].EdgeWeights, 4)
	assert.Equal(t, 4, store.Full.NumEdges())
}

func TestLoadMissingFile(t *testing.T) {
	root := t.TempDir()
	dir := Dir(root, "meta")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePartition(t, dir, 0, 4, 0, false)
	writeFull(t, dir, 4)

	_, err := Load(root, "meta", 2, graph.Upper)
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, loadErr.Path, "_1.pt")
}

func TestLoadUnknownDataset(t *testing.T) {
	_, err := Load(t.TempDir(), "cora", 1, graph.Upper)
	assert.True(t, errors.Is(err, ErrUnknownDataset))
}

func TestTruncate(t *testing.T) {
	x := features(10, 0)
	y := labels(10)
	mask := make([]bool, 10)
	mask[9] = true

	tx, ty, tmask, err := truncate(7, x, y, mask)
	require.NoError(t, err)
	rows, cols := tx.Dims()
	assert.Equal(t, 7, rows)
	assert.Equal(t, numFeatures, cols)
	// front-aligned: row i stays row i
	for i := 0; i < rows; i++ {
		assert.Equal(t, float64(i), tx.At(i, 1))
	}
	assert.Equal(t, y[:7], ty)
	assert.NotContains(t, tmask, true)

	// never pads
	_, _, _, err = truncate(11, x, y, mask)
	assert.Error(t, err)
	_, _, _, err = truncate(7, x, y[:5], mask)
	assert.Error(t, err)
}

func TestShortFeaturesAreRejected(t *testing.T) {
	root := t.TempDir()
	dir := Dir(root, "oral")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePartition(t, dir, 0, 6, 0, false)
	require.NoError(t, WriteTensor(filepath.Join(dir, "x_0.pt"), features(3, 0)))
	writeFull(t, dir, 4)

	_, err := Load(root, "oral", 1, graph.Upper)
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
}
