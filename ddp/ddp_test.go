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

package ddp

import (
	"context"
	"math/rand"
	"testing"

	"github.com/9rum/gnnddp/communicator"
	"github.com/9rum/gnnddp/internal/graph"
	"github.com/9rum/gnnddp/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const (
	inFeats = 4
	hidden  = 6
	classes = 3
)

// partition returns a ring of n nodes with features and labels drawn from
// seed, so that every rank sees different data.
func partition(t *testing.T, n int, seed int64) *graph.Graph {
	t.Helper()
	src := make([]int, n)
	dst := make([]int, n)
	for v := range src {
		src[v], dst[v] = v, (v+1)%n
	}
	g, err := graph.Build(src, dst, graph.Sym)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n*inFeats)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	g.Features = mat.NewDense(n, inFeats, x)
	g.Labels = make([]int, n)
	for v := range g.Labels {
		g.Labels[v] = rng.Intn(classes)
	}
	return g
}

func newModel(seed int64) *nn.GCN {
	m, err := nn.NewGCN(rand.New(rand.NewSource(seed)), inFeats, hidden, classes, 1)
	if err != nil {
		panic(err)
	}
	return m
}

// localGradients returns the gradients a single replica initialized from
// seed computes on g.
func localGradients(t *testing.T, seed int64, g *graph.Graph) []*mat.Dense {
	t.Helper()
	m := newModel(seed)
	logits, err := m.Forward(g)
	require.NoError(t, err)
	loss, err := nn.CrossEntropy(logits, g.Labels)
	require.NoError(t, err)
	require.NoError(t, m.Backward(loss.Grad))
	return m.Gradients()
}

func TestBackwardAveragesGradients(t *testing.T) {
	const worldSize = 3
	groups := communicator.NewLocalGroups(worldSize)
	graphs := make([]*graph.Graph, worldSize)
	for rank := range graphs {
		graphs[rank] = partition(t, 5+rank, int64(rank))
	}

	grads := make([][]*mat.Dense, worldSize)
	var eg errgroup.Group
	for rank := range groups {
		rank := rank
		eg.Go(func() error {
			defer groups[rank].Close()
			// every replica starts from a different seed; New must override
			// it with the parameters of rank 0
			d, err := New(context.Background(), newModel(100+int64(rank)), groups[rank], nn.NewAdam(0.01))
			if err != nil {
				return err
			}
			logits, err := d.Forward(graphs[rank])
			if err != nil {
				return err
			}
			loss, err := nn.CrossEntropy(logits, graphs[rank].Labels)
			if err != nil {
				return err
			}
			d.ZeroGrad()
			if err = d.Backward(context.Background(), loss); err != nil {
				return err
			}
			grads[rank] = d.Module().Gradients()
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for l := range grads[0] {
		var mean mat.Dense
		for rank := range graphs {
			local := localGradients(t, 100, graphs[rank])[l]
			if rank == 0 {
				mean.CloneFrom(local)
			} else {
				mean.Add(&mean, local)
			}
		}
		mean.Scale(1.0/worldSize, &mean)

		for rank := range grads {
			assert.Truef(t, mat.EqualApprox(&mean, grads[rank][l], 1e-12), "rank %d layer %d", rank, l)
		}
	}
}

func TestReplicasStayIdentical(t *testing.T) {
	const (
		worldSize = 4
		steps     = 5
	)
	groups := communicator.NewLocalGroups(worldSize)
	models := make([]*nn.GCN, worldSize)

	var eg errgroup.Group
	for rank := range groups {
		rank := rank
		g := partition(t, 4+2*rank, int64(10+rank))
		models[rank] = newModel(int64(rank))
		eg.Go(func() error {
			defer groups[rank].Close()
			d, err := New(context.Background(), models[rank], groups[rank], nn.NewAdam(0.01))
			if err != nil {
				return err
			}
			for step := 0; step < steps; step++ {
				logits, err := d.Forward(g)
				if err != nil {
					return err
				}
				loss, err := nn.CrossEntropy(logits, g.Labels)
				if err != nil {
					return err
				}
				d.ZeroGrad()
				if err = d.Backward(context.Background(), loss); err != nil {
					return err
				}
				if err = d.Step(); err != nil {
					return err
				}
				d.EmptyCache()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	initial := newModel(0)
	for l := range initial.Parameters() {
		assert.False(t, mat.Equal(initial.Parameters()[l], models[0].Parameters()[l]))
		for rank := 1; rank < worldSize; rank++ {
			assert.Truef(t, mat.Equal(models[0].Parameters()[l], models[rank].Parameters()[l]), "rank %d layer %d", rank, l)
		}
	}
}

func TestBackwardFailsWhenPeerLeaves(t *testing.T) {
	groups := communicator.NewLocalGroups(2)
	g := partition(t, 4, 0)

	var eg errgroup.Group
	eg.Go(func() error {
		defer groups[1].Close()
		_, err := New(context.Background(), newModel(1), groups[1], nn.NewAdam(0.01))
		return err
	})
	d, err := New(context.Background(), newModel(0), groups[0], nn.NewAdam(0.01))
	require.NoError(t, err)

	logits, err := d.Forward(g)
	require.NoError(t, err)
	loss, err := nn.CrossEntropy(logits, g.Labels)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Backward(context.Background(), loss), communicator.ErrMismatch)
	require.NoError(t, eg.Wait())
	assert.NoError(t, groups[0].Close())
}

func TestFlatten(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(3, 2, []float64{5, 6, 7, 8, 9, 10})
	view := b.Slice(1, 3, 0, 2).(*mat.Dense)

	ms := []*mat.Dense{a, view}
	buf := make([]float64, numElements(ms))
	flatten(buf, ms)
	assert.Equal(t, []float64{1, 2, 3, 4, 7, 8, 9, 10}, buf)

	for i := range buf {
		buf[i] = -buf[i]
	}
	unflatten(ms, buf)
	assert.Equal(t, []float64{-1, -2, -3, -4}, a.RawMatrix().Data)
	assert.Equal(t, []float64{5, 6, -7, -8, -9, -10}, b.RawMatrix().Data)
}
