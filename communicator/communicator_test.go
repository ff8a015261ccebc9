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

package communicator

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// runAllreduceTests runs a battery of collectives over groups of several
// sizes, one goroutine per worker.
func runAllreduceTests(t *testing.T, newGroups func(t *testing.T, size int) []Group) {
	for _, worldSize := range []int{1, 2, 5, 8} {
		for _, length := range []int{0, 1, 1337} {
			t.Run(fmt.Sprintf("W=%d,N=%d", worldSize, length), func(t *testing.T) {
				groups := newGroups(t, worldSize)
				vectors := make([][]float64, worldSize)
				sum := make([]float64, length)
				for rank := range vectors {
					vectors[rank] = make([]float64, length)
					for i := range vectors[rank] {
						vectors[rank][i] = rand.NormFloat64()
						sum[i] += vectors[rank][i]
					}
				}

				var eg errgroup.Group
				for _, g := range groups {
					g := g
					eg.Go(func() error {
						if err := g.Barrier(context.Background()); err != nil {
							return err
						}
						for step := 0; step < 3; step++ {
							if err := g.AllReduce(context.Background(), vectors[g.Rank()]); err != nil {
								return err
							}
							for i := range vectors[g.Rank()] {
								vectors[g.Rank()][i] /= float64(g.Size())
							}
						}
						return g.Close()
					})
				}
				require.NoError(t, eg.Wait())

				for rank, vector := range vectors {
					assert.Equal(t, vectors[0], vector, "rank %d diverged", rank)
					for i := range vector {
						assert.InDelta(t, sum[i]/float64(worldSize), vector[i], 1e-9)
					}
				}
			})
		}
	}
}

func TestLocalAllReduce(t *testing.T) {
	runAllreduceTests(t, func(_ *testing.T, size int) []Group {
		return NewLocalGroups(size)
	})
}

func TestLocalBroadcast(t *testing.T) {
	const worldSize = 4
	groups := NewLocalGroups(worldSize)

	var eg errgroup.Group
	bufs := make([][]float64, worldSize)
	for _, g := range groups {
		g := g
		bufs[g.Rank()] = []float64{float64(g.Rank()), float64(g.Rank() * 10)}
		eg.Go(func() error {
			if err := g.Broadcast(context.Background(), 2, bufs[g.Rank()]); err != nil {
				return err
			}
			return g.Close()
		})
	}
	require.NoError(t, eg.Wait())
	for _, buf := range bufs {
		assert.Equal(t, []float64{2, 20}, buf)
	}
}

func TestLocalMismatch(t *testing.T) {
	groups := NewLocalGroups(2)

	var eg errgroup.Group
	errs := make([]error, 2)
	eg.Go(func() error {
		errs[0] = groups[0].AllReduce(context.Background(), make([]float64, 3))
		return nil
	})
	eg.Go(func() error {
		errs[1] = groups[1].AllReduce(context.Background(), make([]float64, 4))
		return nil
	})
	eg.Wait()
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrMismatch), "got %v", err)
	}
}

func TestLocalEarlyLeaveAbortsGroup(t *testing.T) {
	groups := NewLocalGroups(2)

	var eg errgroup.Group
	var reduceErr error
	eg.Go(func() error {
		reduceErr = groups[0].AllReduce(context.Background(), make([]float64, 3))
		return nil
	})
	eg.Go(func() error {
		return groups[1].Close()
	})
	eg.Wait()
	assert.True(t, errors.Is(reduceErr, ErrMismatch), "got %v", reduceErr)

	// the group is torn down for the survivor too
	assert.NoError(t, groups[0].Close())
	assert.True(t, errors.Is(groups[0].Barrier(context.Background()), ErrClosed))
}

func TestLocalCancel(t *testing.T) {
	groups := NewLocalGroups(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// rank 1 never arrives
	assert.ErrorIs(t, groups[0].Barrier(ctx), context.Canceled)
}

func TestLocalCancelAbortsGroup(t *testing.T) {
	groups := NewLocalGroups(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, groups[0].AllReduce(ctx, []float64{1}), context.Canceled)

	// a late peer must not pair with the abandoned contribution, and the
	// canceller must not see a stale result on its next call
	assert.ErrorIs(t, groups[1].AllReduce(context.Background(), []float64{2}), ErrClosed)
	assert.ErrorIs(t, groups[0].AllReduce(context.Background(), []float64{3}), ErrClosed)
	for _, g := range groups {
		assert.NoError(t, g.Close())
	}
}

func TestLocalCancelWakesWaitingPeer(t *testing.T) {
	groups := NewLocalGroups(2)
	waiting := make(chan error, 1)
	go func() {
		waiting <- groups[1].Barrier(context.Background())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// rank 0 calls another collective and abandons it; whichever happens
	// first, rank 1 must return with an error
	groups[0].AllReduce(ctx, nil)
	select {
	case err := <-waiting:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("peer still blocked after the group was aborted")
	}
}

// newRemoteGroups serves a Communicator over an in-memory listener and joins
// every worker to it.
func newRemoteGroups(t *testing.T, size int) []Group {
	lis := bufconn.Listen(1 << 20)
	done := make(chan os.Signal, 1)
	server := NewServer(done, size)
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(lis)
	}()
	t.Cleanup(func() {
		// every worker finalized, so the server stopped on its own
		assert.NoError(t, <-served)
	})

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})

	groups := make([]Group, size)
	var eg errgroup.Group
	for rank := range groups {
		rank := rank
		eg.Go(func() (err error) {
			groups[rank], err = Dial(context.Background(), "bufnet", rank, size, dialer)
			return
		})
	}
	require.NoError(t, eg.Wait())
	return groups
}

func TestRemoteAllReduce(t *testing.T) {
	runAllreduceTests(t, newRemoteGroups)
}

func TestRemoteBroadcastAndMismatch(t *testing.T) {
	groups := newRemoteGroups(t, 3)

	var eg errgroup.Group
	errs := make([]error, 3)
	bufs := make([][]float64, 3)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			bufs[g.Rank()] = []float64{float64(g.Rank() + 1)}
			if err := g.Broadcast(context.Background(), 0, bufs[g.Rank()]); err != nil {
				return err
			}
			// rank 2 disagrees on the collective
			if g.Rank() == 2 {
				errs[g.Rank()] = g.Barrier(context.Background())
			} else {
				errs[g.Rank()] = g.AllReduce(context.Background(), []float64{1})
			}
			return g.Close()
		})
	}
	require.NoError(t, eg.Wait())

	for rank := range groups {
		assert.Equal(t, []float64{1}, bufs[rank])
		assert.True(t, errors.Is(errs[rank], ErrMismatch), "rank %d got %v", rank, errs[rank])
	}
}

func TestRemoteEarlyLeaveAbortsGroup(t *testing.T) {
	groups := newRemoteGroups(t, 2)

	var eg errgroup.Group
	var reduceErr error
	eg.Go(func() error {
		reduceErr = groups[0].AllReduce(context.Background(), make([]float64, 3))
		return nil
	})
	eg.Go(func() error {
		groups[1].Close()
		return nil
	})
	require.NoError(t, eg.Wait())
	assert.ErrorIs(t, reduceErr, ErrMismatch)

	// the survivor leaves too, and the server stops once it did
	closed := make(chan error, 1)
	go func() {
		closed <- groups[0].Close()
	}()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("survivor still blocked in Close")
	}
}

func TestRemoteInitRejectsWrongWorldSize(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server := NewServer(make(chan os.Signal, 1), 2)
	go server.Serve(lis)
	defer server.Stop()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	_, err := Dial(context.Background(), "bufnet", 0, 3, dialer)
	assert.Error(t, err)
}

func TestStatusRoundTrip(t *testing.T) {
	for _, err := range []error{
		ErrMismatch,
		ErrClosed,
		errors.Wrapf(ErrMismatch, "rank %d called %s while rank 0 called %s", 1, OpBarrier, OpAllReduce),
	} {
		got := fromStatus(toStatus(err))
		assert.ErrorIs(t, got, errors.Cause(err))
		assert.Equal(t, err.Error(), got.Error())
	}
	assert.Nil(t, fromStatus(nil))
}

func TestCodec(t *testing.T) {
	in := &CollectiveRequest{Rank: 3, Op: OpAllReduce, Data: []float64{1.5, -2}}
	data, err := codec{}.Marshal(in)
	require.NoError(t, err)

	out := new(CollectiveRequest)
	require.NoError(t, codec{}.Unmarshal(data, out))
	assert.Equal(t, in, out)
}
