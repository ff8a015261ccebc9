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

	"github.com/pkg/errors"
)

// Group is one worker's handle on a process group.  Every method is a
// collective: it returns only after every worker in the group made the same
// call.  Calls must be issued in the same order on every worker.
type Group interface {
	// Rank returns the index of the worker in [0, Size()).
	Rank() int

	// Size returns the number of workers in the group.
	Size() int

	// Barrier blocks until every worker reaches it.
	Barrier(ctx context.Context) error

	// Broadcast overwrites buf with the buf of the worker with rank root.
	Broadcast(ctx context.Context, root int, buf []float64) error

	// AllReduce overwrites buf with the elementwise sum of the bufs of all
	// workers.
	AllReduce(ctx context.Context, buf []float64) error

	// Close leaves the group.  Resources are released even when an error is
	// returned.
	Close() error
}

// localGroup is a group whose workers are goroutines of the same process.
type localGroup struct {
	rank int
	r    *rendezvous
}

// NewLocalGroups creates a process group of the given size whose workers
// communicate through in-memory channels.  The i-th group is the handle of
// the worker with rank i.
func NewLocalGroups(size int) []Group {
	r := newRendezvous(size)
	groups := make([]Group, 0, size)
	for len(groups) < cap(groups) {
		groups = append(groups, &localGroup{
			rank: len(groups),
			r:    r,
		})
	}
	return groups
}

func (g *localGroup) Rank() int {
	return g.rank
}

func (g *localGroup) Size() int {
	return g.r.size
}

func (g *localGroup) Barrier(ctx context.Context) error {
	_, err := g.r.exchange(ctx, request{rank: g.rank, op: OpBarrier})
	return err
}

func (g *localGroup) Broadcast(ctx context.Context, root int, buf []float64) error {
	out, err := g.r.exchange(ctx, request{rank: g.rank, op: OpBroadcast, root: root, data: buf})
	if err != nil {
		return err
	}
	copy(buf, out)
	return nil
}

func (g *localGroup) AllReduce(ctx context.Context, buf []float64) error {
	out, err := g.r.exchange(ctx, request{rank: g.rank, op: OpAllReduce, data: buf})
	if err != nil {
		return err
	}
	copy(buf, out)
	return nil
}

func (g *localGroup) Close() error {
	_, err := g.r.exchange(context.Background(), request{rank: g.rank, op: OpFinalize})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
