// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"sort"

	"github.com/samber/lo"
)

// Encoder maps string ids to dense indices. Indices follow the sorted order of the ids,
// so the same set of ids always produces the same encoding.
type Encoder struct {
	index map[string]int32
	ids   []string
}

// NewEncoder creates an encoder over the distinct values of ids.
func NewEncoder(ids ...string) *Encoder {
	classes := lo.Uniq(ids)
	sort.Strings(classes)
	e := &Encoder{
		index: make(map[string]int32, len(classes)),
		ids:   classes,
	}
	for i, id := range classes {
		e.index[id] = int32(i)
	}
	return e
}

// Count returns the number of distinct ids.
func (e *Encoder) Count() int {
	return len(e.ids)
}

// Index returns the index of id, or -1 if id is unknown.
func (e *Encoder) Index(id string) int32 {
	if i, ok := e.index[id]; ok {
		return i
	}
	return -1
}

func (e *Encoder) Id(index int32) (string, bool) {
	if index < 0 || int(index) >= len(e.ids) {
		return "", false
	}
	return e.ids[index], true
}

// Classes returns the ids ordered by index.
func (e *Encoder) Classes() []string {
	return append([]string(nil), e.ids...)
}
