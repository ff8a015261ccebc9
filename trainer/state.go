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
	"time"
)

// Phase is a state of the training loop.
type Phase int

const (
	Initializing Phase = iota
	Training
	Evaluating
	Finished
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// TrainingState is the mutable state of one worker's training loop.
type TrainingState struct {
	Phase Phase
	// Epoch is the epoch being run, counted from zero.
	Epoch int
	// Duration sums the wall time of every training iteration so far,
	// excluding evaluation.
	Duration time.Duration
}
