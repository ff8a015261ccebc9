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

// Package device provides primitives for tracking where graphs and model
// parameters reside and for deciding, per training phase, where they should
// reside.  Memory-constrained datasets keep their full graph in host memory
// and shuttle the model between the accelerator and the host around each
// evaluation; the shuttling is scoped so that the model is restored on every
// exit path.
package device

import "fmt"

// Kind distinguishes host memory from accelerator memory.
type Kind int

const (
	Host Kind = iota
	Accelerator
)

// Device identifies a memory residency.  The zero value is the host.
type Device struct {
	kind  Kind
	index int
}

// CPU is the host device.
var CPU = Device{}

// CUDA returns the accelerator with the given index.
func CUDA(index int) Device {
	return Device{
		kind:  Accelerator,
		index: index,
	}
}

// ForRank returns the accelerator a worker with the given rank binds to when
// count accelerators are visible on its node.
func ForRank(rank, count int) Device {
	if count < 1 {
		count = 1
	}
	return CUDA(rank % count)
}

// Kind returns the kind of the device.
func (d Device) Kind() Kind {
	return d.kind
}

// Index returns the accelerator index; it is always zero for the host.
func (d Device) Index() int {
	return d.index
}

// IsCPU tests whether the device is the host.
func (d Device) IsCPU() bool {
	return d.kind == Host
}

func (d Device) String() string {
	if d.IsCPU() {
		return "cpu"
	}
	return fmt.Sprintf("cuda:%d", d.index)
}

// Movable is implemented by anything whose residency can change in place,
// such as model parameters.  To blocks until the transfer completes.
type Movable interface {
	Device() Device
	To(Device)
}
