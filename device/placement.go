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

package device

import "github.com/golang/glog"

// Phase is a stage of the training loop that has its own placement rules.
type Phase int

const (
	Train Phase = iota
	Evaluate
)

func (p Phase) String() string {
	switch p {
	case Train:
		return "train"
	case Evaluate:
		return "evaluate"
	default:
		return "unknown"
	}
}

// Placement tells where the graph being processed and the model must reside
// during a phase.
type Placement struct {
	Graph Device
	Model Device
}

// Policy decides placements for one worker.  PinToHost is the dataset-keyed
// flag for full graphs that cannot share accelerator memory with the model;
// CUDA reports whether acceleration was requested at all.
type Policy struct {
	PinToHost   bool
	CUDA        bool
	Accelerator Device
}

// NewPolicy creates a placement policy for the worker with the given rank.
// A negative gpu disables acceleration.
func NewPolicy(pinToHost bool, gpu, rank, count int) Policy {
	if gpu < 0 {
		return Policy{PinToHost: pinToHost}
	}
	return Policy{
		PinToHost:   pinToHost,
		CUDA:        true,
		Accelerator: ForRank(rank, count),
	}
}

// Compute returns the device the model trains on.
func (p Policy) Compute() Device {
	if p.CUDA {
		return p.Accelerator
	}
	return CPU
}

// FullGraph returns where the full graph lives for the lifetime of the
// process.
func (p Policy) FullGraph() Device {
	if p.PinToHost {
		return CPU
	}
	return p.Compute()
}

// Place returns the placement for the given phase.  During training the
// subgraphs and the model share the compute device; during evaluation the
// model follows the full graph.
func (p Policy) Place(phase Phase) Placement {
	if phase == Evaluate {
		return Placement{
			Graph: p.FullGraph(),
			Model: p.FullGraph(),
		}
	}
	return Placement{
		Graph: p.Compute(),
		Model: p.Compute(),
	}
}

// Acquire moves m to d and returns a function that moves it back to where it
// was.  The returned function must be deferred by the caller.
func Acquire(m Movable, d Device) (release func()) {
	prev := m.Device()
	if prev == d {
		return func() {}
	}
	m.To(d)
	glog.V(1).Infof("moved model from %s to %s", prev, d)
	return func() {
		m.To(prev)
		glog.V(1).Infof("moved model from %s back to %s", d, prev)
	}
}

// Scoped runs fn with m placed for the given phase and restores the previous
// placement afterward, including when fn returns an error or panics.
func (p Policy) Scoped(phase Phase, m Movable, fn func() error) error {
	release := Acquire(m, p.Place(phase).Model)
	defer release()
	return fn()
}
