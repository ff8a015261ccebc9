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

// Package data provides primitives for representing and loading a
// node-classification dataset that has been partitioned offline into
// subgraphs.  Each dataset is a fixed directory holding one set of tensor
// files per partition plus one set for the full graph.
package data

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownDataset is returned for a dataset that is not registered.
var ErrUnknownDataset = errors.New("unknown dataset")

// Info describes a registered dataset.
type Info struct {
	Name    string
	Classes int

	// PinToHost is set for datasets whose full graph and model cannot share
	// a single accelerator at the default configuration.
	PinToHost bool

	// EdgeWeights is set for datasets whose partitions carry edge_weight_{i}.pt.
	EdgeWeights bool

	// Bidirected is set for datasets whose full graph is stored one-way.
	Bidirected bool
}

var registry = map[string]Info{
	"amazon":        {Classes: 107, PinToHost: true, EdgeWeights: true},
	"reddit":        {Classes: 41, PinToHost: true, EdgeWeights: true},
	"ogbn-arxiv":    {Classes: 40, EdgeWeights: true, Bidirected: true},
	"ogbn-products": {Classes: 47, PinToHost: true, EdgeWeights: true},
	"ogbn-mag":      {Classes: 349, EdgeWeights: true},
	"meta":          {Classes: 25},
	"arctic25":      {Classes: 33},
	"oral":          {Classes: 32},
}

// Lookup returns the registered information of the given dataset.  It never
// falls back to defaults.
func Lookup(name string) (Info, error) {
	info, found := registry[name]
	if !found {
		return Info{}, errors.Wrapf(ErrUnknownDataset, "%q", name)
	}
	info.Name = name
	return info, nil
}

// Names returns the registered dataset names in lexical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
