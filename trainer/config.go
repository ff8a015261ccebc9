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

package trainer

import (
	"fmt"
	"strings"

	"github.com/9rum/gnnddp/internal/graph"
	"github.com/pkg/errors"
)

// Split selects the mask of the full graph that periodic evaluation scores.
type Split int

const (
	TestSplit Split = iota
	ValSplit
)

// ParseSplit parses "test" or "val".
func ParseSplit(name string) (Split, error) {
	switch strings.ToLower(name) {
	case "test":
		return TestSplit, nil
	case "val":
		return ValSplit, nil
	default:
		return 0, errors.Errorf("unknown evaluation split %q", name)
	}
}

func (s Split) String() string {
	if s == ValSplit {
		return "val"
	}
	return "test"
}

// Config holds the hyperparameters and outputs of a training run.
type Config struct {
	Dataset   string
	Topology  graph.Topology
	Hidden    int
	Layers    int
	LR        float64
	Epochs    int
	Seed      int64
	EvalSplit Split

	// CSV is appended one line per evaluation; empty disables it.
	CSV string
	// BestModel is the directory the weights of every new best model are
	// written to; empty disables checkpointing.
	BestModel string
}

// String renders the configuration the way it is recorded in the run log.
func (c Config) String() string {
	return fmt.Sprintf("Config(dataset=%s, topo=%s, n_hidden=%d, n_layers=%d, lr=%g, n_epochs=%d, seed=%d, eval_split=%s, csv=%q, best_model=%q)",
		c.Dataset, c.Topology, c.Hidden, c.Layers, c.LR, c.Epochs, c.Seed, c.EvalSplit, c.CSV, c.BestModel)
}
