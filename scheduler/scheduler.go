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

// Package scheduler provides primitives for scheduling pre-computed
// partitions onto workers and for scheduling evaluations over the course of
// training.  Every worker computes its own schedule independently; no
// communication is needed because the schedule is a pure function of the
// rank and the world size.
package scheduler

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ErrInvalidAssignment is returned for a rank or world size that does not
// describe a worker.
var ErrInvalidAssignment = errors.New("invalid assignment")

// Assign returns the partitions owned by the worker with the given rank.
// Partitions are dealt out by striding: rank r owns the partitions at indices
// r, r+worldSize, r+2*worldSize, ... and every worker owns exactly
// len(partitions)/worldSize of them.  The len(partitions)%worldSize trailing
// partitions are owned by no worker and never trained on.
func Assign[T any](partitions []T, worldSize, rank int) ([]T, error) {
	if worldSize < 1 {
		return nil, errors.Wrapf(ErrInvalidAssignment, "world size %d", worldSize)
	}
	if rank < 0 || worldSize <= rank {
		return nil, errors.Wrapf(ErrInvalidAssignment, "rank %d with world size %d", rank, worldSize)
	}

	chunk := len(partitions) / worldSize
	assigned := make([]T, 0, chunk)
	for len(assigned) < cap(assigned) {
		assigned = append(assigned, partitions[rank+len(assigned)*worldSize])
	}
	return assigned, nil
}

// Dropped returns the number of partitions that Assign leaves to no worker.
func Dropped[T constraints.Integer](numPartitions, worldSize T) T {
	if worldSize < 1 {
		return numPartitions
	}
	return numPartitions % worldSize
}
