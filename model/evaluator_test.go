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
	"context"
	"math"
	"testing"

	"github.com/gorse-io/mfrec/dataset"
	"github.com/stretchr/testify/assert"
)

// constantModel predicts the same rating for every pair.
type constantModel struct {
	BaseModel
	value float64
}

func (m *constantModel) Fit(context.Context, *dataset.Dataset, *FitConfig) error { return nil }

func (m *constantModel) Predict(int32, int32) float64 { return m.value }

func (m *constantModel) PredictAll(int32) []Prediction { return nil }

func (m *constantModel) UserEmbedding(int32) []float64 { return nil }

func (m *constantModel) ItemEmbedding(int32) []float64 { return nil }

func TestRMSE(t *testing.T) {
	users := dataset.NewEncoder("u1", "u2")
	items := dataset.NewEncoder("b1", "b2")
	testSet := dataset.NewDataset(users, items, []dataset.Rating{
		{UserIndex: 0, ItemIndex: 0, Value: 1},
		{UserIndex: 0, ItemIndex: 1, Value: 5},
		{UserIndex: 1, ItemIndex: 0, Value: 3},
		{UserIndex: 1, ItemIndex: 1, Value: 3},
	})
	assert.InDelta(t, math.Sqrt(2), RMSE(&constantModel{value: 3}, testSet), 1e-12)
	assert.True(t, math.IsNaN(RMSE(&constantModel{value: 3}, dataset.NewDataset(users, items, nil))))
}
