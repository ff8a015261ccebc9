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
	"fmt"
	"path/filepath"

	"github.com/9rum/gnnddp/internal/data"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// WeightsPath returns the file holding the weight of the given layer,
// counted from one.
func WeightsPath(dir, dataset string, layer int) string {
	return filepath.Join(dir, fmt.Sprintf("gs_%s_w%d.pt", dataset, layer))
}

// SaveWeights writes every layer weight of m under dir.
func SaveWeights(m *GCN, dir, dataset string) error {
	for l, w := range m.Parameters() {
		path := WeightsPath(dir, dataset, l+1)
		if err := data.WriteTensor(path, w); err != nil {
			return errors.Wrapf(err, "save layer %d", l+1)
		}
		glog.Infof("saved %s", path)
	}
	return nil
}

// LoadWeights overwrites every layer weight of m with the one stored under
// dir.  The stored shapes must match the model.
func LoadWeights(m *GCN, dir, dataset string) error {
	for l, w := range m.Parameters() {
		path := WeightsPath(dir, dataset, l+1)
		stored, err := data.ReadTensor(path)
		if err != nil {
			return err
		}
		wr, wc := w.Dims()
		if sr, sc := stored.Dims(); sr != wr || sc != wc {
			return &data.LoadError{
				Path: path,
				Err:  errors.Errorf("weight of shape (%d, %d), model expects (%d, %d)", sr, sc, wr, wc),
			}
		}
		w.Copy(stored)
		glog.Infof("loaded %s", path)
	}
	return nil
}
