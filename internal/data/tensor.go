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

package data

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LoadError reports a missing or malformed tensor file, or tensors whose
// shapes cannot be reconciled.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ReadTensor reads a matrix stored in the gonum binary format.
func ReadTensor(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	var m mat.Dense
	if _, err = m.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &m, nil
}

// WriteTensor writes a matrix in the gonum binary format, replacing the file.
func WriteTensor(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err = m.MarshalBinaryTo(w); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readIndex reads a 2-row adjacency of (source, target) node indices.
func readIndex(path string) (src, dst []int, err error) {
	m, err := ReadTensor(path)
	if err != nil {
		return nil, nil, err
	}
	if rows, _ := m.Dims(); rows != 2 {
		return nil, nil, &LoadError{Path: path, Err: errors.Errorf("adjacency has %d rows, want 2", rows)}
	}
	if src, err = toInts(m.RawRowView(0)); err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}
	if dst, err = toInts(m.RawRowView(1)); err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}
	return src, dst, nil
}

// readVector reads a one-dimensional tensor stored either as a row or as a
// column.
func readVector(path string) ([]float64, error) {
	m, err := ReadTensor(path)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	switch {
	case cols == 1:
		return mat.Col(nil, 0, m), nil
	case rows == 1:
		return mat.Row(nil, 0, m), nil
	default:
		return nil, &LoadError{Path: path, Err: errors.Errorf("tensor of shape (%d, %d) is not a vector", rows, cols)}
	}
}

func readLabels(path string) ([]int, error) {
	v, err := readVector(path)
	if err != nil {
		return nil, err
	}
	labels, err := toInts(v)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return labels, nil
}

func readMask(path string) ([]bool, error) {
	v, err := readVector(path)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(v))
	for i, x := range v {
		mask[i] = x != 0
	}
	return mask, nil
}

// toInts converts stored indices, which must be non-negative integers.
func toInts(v []float64) ([]int, error) {
	out := make([]int, len(v))
	for i, x := range v {
		if x < 0 || x != math.Trunc(x) {
			return nil, errors.Errorf("element %d is %v, want a non-negative integer", i, x)
		}
		out[i] = int(x)
	}
	return out, nil
}

// WriteIndex writes a 2-row adjacency.
func WriteIndex(path string, src, dst []int) error {
	if len(src) != len(dst) {
		return errors.Errorf("edge list length mismatch: %d sources, %d targets", len(src), len(dst))
	}
	m := mat.NewDense(2, len(src), nil)
	for e := range src {
		m.Set(0, e, float64(src[e]))
		m.Set(1, e, float64(dst[e]))
	}
	return WriteTensor(path, m)
}

// WriteVector writes a one-dimensional tensor as a column.
func WriteVector(path string, v []float64) error {
	return WriteTensor(path, mat.NewDense(len(v), 1, append([]float64(nil), v...)))
}

// WriteLabels writes per-node class indices.
func WriteLabels(path string, labels []int) error {
	v := make([]float64, len(labels))
	for i, label := range labels {
		v[i] = float64(label)
	}
	return WriteVector(path, v)
}

// WriteMask writes a per-node boolean mask.
func WriteMask(path string, mask []bool) error {
	v := make([]float64, len(mask))
	for i, set := range mask {
		if set {
			v[i] = 1
		}
	}
	return WriteVector(path, v)
}
