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
	"path/filepath"
	"runtime"

	"github.com/9rum/gnnddp/internal/graph"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Partition is a pre-computed subgraph used as one training unit.  Index is
// its position in the dataset's partition sequence.
type Partition struct {
	Index int
	*graph.Graph
}

// Store holds every partition of a dataset, in index order, and its full
// graph.  Nothing in a store is mutated after Load returns.
type Store struct {
	Info       Info
	Partitions []*Partition
	Full       *graph.Graph
}

// Dir returns the directory holding the tensor files of the dataset.
func Dir(root, name string) string {
	return filepath.Join(root, name+"_subgs")
}

// Load reads count partitions and the full graph of the named dataset from
// its directory under root.  Partitions are built with the given topology;
// the full graph keeps its edges as stored, in both directions for
// datasets registered as bidirected.
func Load(root, name string, count int, topo graph.Topology) (*Store, error) {
	info, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, errors.Errorf("invalid partition count %d", count)
	}
	dir := Dir(root, name)

	store := &Store{
		Info:       info,
		Partitions: make([]*Partition, count),
	}

	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for index := range store.Partitions {
		index := index
		eg.Go(func() (err error) {
			store.Partitions[index], err = loadPartition(dir, index, topo, info.EdgeWeights)
			return
		})
	}
	eg.Go(func() (err error) {
		store.Full, err = loadFull(dir, info.Bidirected)
		return
	})
	if err = eg.Wait(); err != nil {
		return nil, err
	}

	return store, nil
}

func loadPartition(dir string, index int, topo graph.Topology, weighted bool) (*Partition, error) {
	path := func(name string) string {
		return filepath.Join(dir, fmt.Sprintf("%s_%d.pt", name, index))
	}

	src, dst, err := readIndex(path("adj"))
	if err != nil {
		return nil, err
	}
	x, err := ReadTensor(path("x"))
	if err != nil {
		return nil, err
	}
	y, err := readLabels(path("y"))
	if err != nil {
		return nil, err
	}
	mask, err := readMask(path("train_mask"))
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(src, dst, topo)
	if err != nil {
		return nil, &LoadError{Path: path("adj"), Err: err}
	}
	if rows, _ := x.Dims(); rows > g.NumNodes() {
		glog.Warningf("partition %d: graph has %d nodes but %d feature rows, truncating", index, g.NumNodes(), rows)
	}
	if g.Features, g.Labels, g.TrainMask, err = truncate(g.NumNodes(), x, y, mask); err != nil {
		return nil, &LoadError{Path: path("x"), Err: err}
	}

	if weighted {
		if g.EdgeWeights, err = readVector(path("edge_weight")); err != nil {
			return nil, err
		}
	}

	return &Partition{
		Index: index,
		Graph: g,
	}, nil
}

func loadFull(dir string, bidirected bool) (*graph.Graph, error) {
	path := func(name string) string {
		return filepath.Join(dir, name+"_full.pt")
	}

	src, dst, err := readIndex(path("adj"))
	if err != nil {
		return nil, err
	}
	x, err := ReadTensor(path("x"))
	if err != nil {
		return nil, err
	}
	y, err := readLabels(path("y"))
	if err != nil {
		return nil, err
	}
	masks := make([][]bool, 0, 3)
	for _, name := range []string{"train_mask", "val_mask", "test_mask"} {
		mask, err := readMask(path(name))
		if err != nil {
			return nil, err
		}
		masks = append(masks, mask)
	}

	rows, _ := x.Dims()
	g, err := graph.New(src, dst, rows)
	if err != nil {
		return nil, &LoadError{Path: path("adj"), Err: err}
	}
	if g.Features, g.Labels, g.TrainMask, err = truncate(rows, x, y, masks[0]); err != nil {
		return nil, &LoadError{Path: path("y"), Err: err}
	}
	if _, _, g.ValMask, err = truncate(rows, x, y, masks[1]); err != nil {
		return nil, &LoadError{Path: path("val_mask"), Err: err}
	}
	if _, _, g.TestMask, err = truncate(rows, x, y, masks[2]); err != nil {
		return nil, &LoadError{Path: path("test_mask"), Err: err}
	}

	if bidirected {
		if g, err = g.Bidirected(); err != nil {
			return nil, &LoadError{Path: path("adj"), Err: err}
		}
	}
	return g, nil
}

// truncate fits node data to a graph of n nodes by keeping the leading n
// entries of each tensor.  It never pads: a tensor shorter than n is an error.
func truncate(n int, x *mat.Dense, y []int, mask []bool) (*mat.Dense, []int, []bool, error) {
	rows, cols := x.Dims()
	switch {
	case rows < n:
		return nil, nil, nil, errors.Errorf("%d feature rows for %d nodes", rows, n)
	case len(y) < n:
		return nil, nil, nil, errors.Errorf("%d labels for %d nodes", len(y), n)
	case len(mask) < n:
		return nil, nil, nil, errors.Errorf("%d mask entries for %d nodes", len(mask), n)
	}
	if rows > n {
		x = x.Slice(0, n, 0, cols).(*mat.Dense)
	}
	return x, y[:n], mask[:n], nil
}

// Stats summarizes the full graph of a store.
type Stats struct {
	Nodes    int
	Edges    int
	Classes  int
	Features int
	Train    int
	Val      int
	Test     int
	MaxLabel int
}

// Stats returns the data statistics of the full graph.
func (s *Store) Stats() Stats {
	count := func(mask []bool) (n int) {
		for _, set := range mask {
			if set {
				n++
			}
		}
		return
	}

	_, cols := s.Full.Features.Dims()
	stats := Stats{
		Nodes:    s.Full.NumNodes(),
		Edges:    s.Full.NumEdges(),
		Classes:  s.Info.Classes,
		Features: cols,
		Train:    count(s.Full.TrainMask),
		Val:      count(s.Full.ValMask),
		Test:     count(s.Full.TestMask),
	}
	for _, label := range s.Full.Labels {
		stats.MaxLabel = max(stats.MaxLabel, label)
	}
	return stats
}
