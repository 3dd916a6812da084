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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncoder(t *testing.T) {
	e := NewEncoder("c", "a", "b", "a")
	assert.Equal(t, 3, e.Count())
	assert.Equal(t, int32(0), e.Index("a"))
	assert.Equal(t, int32(1), e.Index("b"))
	assert.Equal(t, int32(2), e.Index("c"))
	assert.Equal(t, int32(-1), e.Index("d"))
	id, ok := e.Id(2)
	assert.True(t, ok)
	assert.Equal(t, "c", id)
	_, ok = e.Id(3)
	assert.False(t, ok)
	_, ok = e.Id(-1)
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, e.Classes())

	// classes are copied
	classes := e.Classes()
	classes[0] = "z"
	assert.Equal(t, int32(0), e.Index("a"))

	// re-hydrate from exported classes
	restored := NewEncoder(e.Classes()...)
	assert.Equal(t, e.Classes(), restored.Classes())
}

func TestEncoderEmpty(t *testing.T) {
	e := NewEncoder()
	assert.Equal(t, 0, e.Count())
	assert.Equal(t, int32(-1), e.Index("a"))
	assert.Empty(t, e.Classes())
}
