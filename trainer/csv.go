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
	"os"
	"time"

	"github.com/9rum/gnnddp/internal/graph"
)

// FrameworkTag identifies this implementation in metric logs shared with
// other training frameworks.
const FrameworkTag = "gnnddp"

// Record is one evaluation event of the metric log.
type Record struct {
	Dataset   string
	WorldSize int
	Topology  graph.Topology
	Epoch     int
	Duration  time.Duration
	Metric    float64
}

// String formats r as a metric log line, including the trailing newline.
func (r Record) String() string {
	return fmt.Sprintf("%s,%s,%d,%s,%d,%.4f,%.4f\n",
		r.Dataset, FrameworkTag, r.WorldSize, r.Topology, r.Epoch, r.Duration.Seconds(), r.Metric)
}

// appendRecord appends r to the file at path, creating it if needed.  The
// file is opened per record so that concurrent runs sharing a log interleave
// whole lines.
func appendRecord(path string, r Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(r.String()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
