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

package nn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Default hyperparameters of Adam.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam implements the Adam optimizer without weight decay.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step   int
	moment [][]float64
	second [][]float64
}

// NewAdam creates an Adam optimizer with the given learning rate and the
// default betas and epsilon.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
	}
}

// Step updates params in place from grads.  The shapes must not change
// between steps.
func (o *Adam) Step(params, grads []*mat.Dense) error {
	if len(params) != len(grads) {
		return errors.Errorf("%d parameters with %d gradients", len(params), len(grads))
	}
	if o.moment == nil {
		o.moment = make([][]float64, len(params))
		o.second = make([][]float64, len(params))
		for i, p := range params {
			o.moment[i] = make([]float64, len(p.RawMatrix().Data))
			o.second[i] = make([]float64, len(p.RawMatrix().Data))
		}
	}
	if len(o.moment) != len(params) {
		return errors.Errorf("optimizer holds state for %d parameters, got %d", len(o.moment), len(params))
	}

	o.step++
	correction1 := 1 - math.Pow(o.Beta1, float64(o.step))
	correction2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for i, p := range params {
		w, g := p.RawMatrix(), grads[i].RawMatrix()
		if len(w.Data) != len(o.moment[i]) || w.Rows != g.Rows || w.Cols != g.Cols {
			return errors.Errorf("parameter %d changed shape", i)
		}
		m, v := o.moment[i], o.second[i]
		for r := 0; r < w.Rows; r++ {
			for c := 0; c < w.Cols; c++ {
				k := r*w.Cols + c
				grad := g.Data[r*g.Stride+c]
				m[k] = o.Beta1*m[k] + (1-o.Beta1)*grad
				v[k] = o.Beta2*v[k] + (1-o.Beta2)*grad*grad
				mhat := m[k] / correction1
				vhat := v[k] / correction2
				w.Data[r*w.Stride+c] -= o.LearningRate * mhat / (math.Sqrt(vhat) + o.Epsilon)
			}
		}
	}
	return nil
}
