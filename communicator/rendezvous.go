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
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrClosed is returned by collectives called after the group was torn
	// down, after a worker left it while others were still running, or after
	// a worker abandoned a collective by cancelling its context.
	ErrClosed = errors.New("process group closed")

	// ErrMismatch is returned to every worker when the workers disagree on
	// the collective being run or on the length of its buffer.
	ErrMismatch = errors.New("collective mismatch")
)

// Op is a collective operation.
type Op int32

const (
	OpBarrier Op = iota
	OpBroadcast
	OpAllReduce
	OpFinalize
)

func (op Op) String() string {
	switch op {
	case OpBarrier:
		return "Barrier"
	case OpBroadcast:
		return "Broadcast"
	case OpAllReduce:
		return "AllReduce"
	case OpFinalize:
		return "Finalize"
	default:
		return "Unknown"
	}
}

type request struct {
	rank int
	op   Op
	root int
	data []float64
}

type result struct {
	data []float64
	err  error
}

// rendezvous runs collectives among a fixed number of ranks.  Every rank
// sends its contribution to the fan-in channel; rank 0 additionally collects
// one contribution per rank, reduces them and hands the result to each rank
// through its own fan-out channel.  A rank cannot enter the next collective
// before receiving the result of the current one, so contributions of
// consecutive collectives never mix.
type rendezvous struct {
	size   int
	fanin  chan request
	fanout []chan result
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newRendezvous(size int) *rendezvous {
	fanout := make([]chan result, 0, size)
	for len(fanout) < cap(fanout) {
		fanout = append(fanout, make(chan result, 1))
	}
	return &rendezvous{
		size:   size,
		fanin:  make(chan request),
		fanout: fanout,
		done:   make(chan struct{}),
	}
}

// abort tears the group down and wakes every rank waiting in a collective.
func (r *rendezvous) abort() {
	r.closed.Store(true)
	r.once.Do(func() {
		close(r.done)
	})
}

// exchange blocks until every rank has called exchange, then returns this
// rank's copy of the result.  There is no timeout: a rank that never arrives
// blocks the others until ctx is cancelled.  Cancelling ctx aborts the group,
// since the contribution of this rank may already be consumed.
func (r *rendezvous) exchange(ctx context.Context, req request) ([]float64, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if req.rank < 0 || r.size <= req.rank {
		return nil, errors.Errorf("rank %d out of range for world size %d", req.rank, r.size)
	}

	go func() {
		select {
		case r.fanin <- req:
		case <-r.done:
		}
	}()

	if req.rank == 0 {
		go r.reduce()
	}

	select {
	case res := <-r.fanout[req.rank]:
		return res.data, res.err
	case <-ctx.Done():
		r.abort()
		return nil, ctx.Err()
	case <-r.done:
		// results are fanned out before the group ends
		select {
		case res := <-r.fanout[req.rank]:
			return res.data, res.err
		default:
			return nil, ErrClosed
		}
	}
}

// reduce collects one contribution per rank and fans out the result.
func (r *rendezvous) reduce() {
	reqs := make([]request, r.size)
	for range reqs {
		select {
		case req := <-r.fanin:
			reqs[req.rank] = req
		case <-r.done:
			return
		}
	}

	data, err := combine(reqs)

	// a finalize, successful or not, ends the group for every rank
	finalize := false
	for _, req := range reqs {
		if req.op == OpFinalize {
			finalize = true
			r.closed.Store(true)
			break
		}
	}

	for _, ch := range r.fanout {
		var out []float64
		if data != nil {
			out = append(make([]float64, 0, len(data)), data...)
		}
		ch <- result{data: out, err: err}
	}

	if finalize {
		r.abort()
	}
}

// combine applies the collective to the contributions, which are indexed by
// rank.  Sums are accumulated in rank order so every rank observes the same
// rounding.
func combine(reqs []request) ([]float64, error) {
	op := reqs[0].op
	for rank, req := range reqs[1:] {
		if req.op != op {
			return nil, errors.Wrapf(ErrMismatch, "rank %d called %s while rank 0 called %s", rank+1, req.op, op)
		}
	}

	switch op {
	case OpBarrier, OpFinalize:
		return nil, nil

	case OpBroadcast:
		root := reqs[0].root
		if root < 0 || len(reqs) <= root {
			return nil, errors.Wrapf(ErrMismatch, "broadcast root %d out of range", root)
		}
		for rank, req := range reqs {
			if req.root != root {
				return nil, errors.Wrapf(ErrMismatch, "rank %d broadcasts from %d while rank 0 broadcasts from %d", rank, req.root, root)
			}
			if len(req.data) != len(reqs[root].data) {
				return nil, errors.Wrapf(ErrMismatch, "rank %d receives %d elements from a root sending %d", rank, len(req.data), len(reqs[root].data))
			}
		}
		return reqs[root].data, nil

	case OpAllReduce:
		sum := make([]float64, len(reqs[0].data))
		for rank, req := range reqs {
			if len(req.data) != len(sum) {
				return nil, errors.Wrapf(ErrMismatch, "rank %d reduces %d elements while rank 0 reduces %d", rank, len(req.data), len(sum))
			}
			floats.Add(sum, req.data)
		}
		return sum, nil

	default:
		return nil, errors.Errorf("invalid collective %d", op)
	}
}
