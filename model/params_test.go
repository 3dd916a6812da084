// Copyright 2020 gorse Project Authors
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

package model

import (
	"testing"

	"github.com/gorse-io/mfrec/config"
	"github.com/stretchr/testify/assert"
)

func TestParams_Copy(t *testing.T) {
	// Create parameters
	a := Params{
		NFactors:    1,
		Lr:          0.1,
		RandomState: 0,
	}
	// Create copy
	b := a.Copy()
	b[NFactors] = 2
	b[Lr] = 0.2
	b[RandomState] = 1
	// Check original parameters
	assert.Equal(t, 1, a.GetInt(NFactors, -1))
	assert.Equal(t, 0.1, a.GetFloat64(Lr, -0.1))
	assert.Equal(t, int64(0), a.GetInt64(RandomState, -1))
	// Check copy parameters
	assert.Equal(t, 2, b.GetInt(NFactors, -1))
	assert.Equal(t, 0.2, b.GetFloat64(Lr, -0.1))
	assert.Equal(t, int64(1), b.GetInt64(RandomState, -1))
}

func TestParams_GetFloat64(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, 0.1, p.GetFloat64(Lr, 0.1))
	// Normal case
	p[Lr] = 1.0
	assert.Equal(t, 1.0, p.GetFloat64(Lr, 0.1))
	// Wrong type case
	p[Lr] = 1
	assert.Equal(t, 1.0, p.GetFloat64(Lr, 0.1))
	p[Lr] = "hello"
	assert.Equal(t, 0.1, p.GetFloat64(Lr, 0.1))
}

func TestParams_GetInt(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, -1, p.GetInt(NFactors, -1))
	// Normal case
	p[NFactors] = 0
	assert.Equal(t, 0, p.GetInt(NFactors, -1))
	// Wrong type case
	p[NFactors] = "hello"
	assert.Equal(t, -1, p.GetInt(NFactors, -1))
}

func TestParams_GetBool(t *testing.T) {
	p := Params{}
	// Empty case
	assert.True(t, p.GetBool(UserBased, true))
	// Normal case
	p[UserBased] = false
	assert.False(t, p.GetBool(UserBased, true))
	// Wrong type case
	p[UserBased] = 1
	assert.True(t, p.GetBool(UserBased, true))
}

func TestParams_Overwrite(t *testing.T) {
	a := Params{NFactors: 1, Lr: 0.1}
	b := a.Overwrite(Params{Lr: 0.2, Reg: 0.5})
	assert.Equal(t, Params{NFactors: 1, Lr: 0.2, Reg: 0.5}, b)
	assert.Equal(t, 0.1, a.GetFloat64(Lr, 0))
}

func TestNewParamsFromConfig(t *testing.T) {
	params := NewParamsFromConfig(config.GetDefaultConfig())
	assert.Equal(t, 15, params.GetInt(NFactors, 0))
	assert.Equal(t, 0.1, params.GetFloat64(Reg, 0))
	assert.Equal(t, 0.1, params.GetFloat64(Lr, 0))
	assert.Equal(t, 200, params.GetInt(NEpochs, 0))
	assert.True(t, params.GetBool(UserBased, false))
	assert.Equal(t, int64(0), params.GetInt64(RandomState, -1))
	assert.Equal(t, 1.0, params.GetFloat64(InitStdDev, 0))
	assert.Equal(t, 10, params.GetInt(MaxRank, 0))
	assert.False(t, params.GetBool(CenterObserved, true))
}
