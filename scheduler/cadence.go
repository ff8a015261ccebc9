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

package scheduler

import "golang.org/x/exp/constraints"

// EvalInterval returns the number of epochs between evaluations around the
// given epoch.  Evaluations are dense early in training, when the metric
// moves quickly, and sparse afterward.
func EvalInterval[T constraints.Integer](epoch T) T {
	switch {
	case epoch < 10:
		return 1
	case epoch < 20:
		return 2
	case epoch < 100:
		return 5
	default:
		return 10
	}
}

// ShouldEvaluate tests whether an evaluation is due at the end of the given
// epoch.
func ShouldEvaluate[T constraints.Integer](epoch T) bool {
	return epoch%EvalInterval(epoch) == 0
}

// ShouldReportTraining tests whether the training-set diagnostic is due at
// the end of the given epoch.
func ShouldReportTraining[T constraints.Integer](epoch T) bool {
	return epoch%10 == 0
}
