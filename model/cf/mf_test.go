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

package cf

import (
	"context"
	"fmt"
	"testing"

	"github.com/gorse-io/mfrec/base"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

// newTestDataset generates about half of a 20 × 15 rating matrix.
func newTestDataset(t *testing.T) *dataset.Dataset {
	rng := base.NewRandomGenerator(42)
	var raw []data.Rating
	for u := 0; u < 20; u++ {
		for i := 0; i < 15; i++ {
			if rng.Float64() < 0.5 {
				raw = append(raw, data.NewRating(fmt.Sprintf("u%02d", u), fmt.Sprintf("b%02d", i), float64(rng.Intn(5)+1)))
			}
		}
	}
	ds, err := dataset.Build(raw)
	assert.NoError(t, err)
	return ds
}

func TestNormalize(t *testing.T) {
	ratings := []dataset.Rating{
		{UserIndex: 0, ItemIndex: 0, Value: 4},
		{UserIndex: 0, ItemIndex: 1, Value: 2},
		{UserIndex: 1, ItemIndex: 0, Value: 3},
		{UserIndex: 1, ItemIndex: 2, Value: 4},
	}
	centered, bias := Normalize(ratings, 3, 3, true)
	assert.Equal(t, []float64{3, 3.5, 0}, bias)
	assert.Equal(t, []float64{1, -1, -0.5, 0.5}, lo.Map(centered, func(r dataset.Rating, _ int) float64 { return r.Value }))
	// input is not modified
	assert.Equal(t, 4.0, ratings[0].Value)

	centered, bias = Normalize(ratings, 3, 3, false)
	assert.Equal(t, []float64{3.5, 2, 4}, bias)
	assert.Equal(t, []float64{0.5, 0, -0.5, 0}, lo.Map(centered, func(r dataset.Rating, _ int) float64 { return r.Value }))
	assert.Equal(t, int32(2), centered[3].ItemIndex)
}

func TestMatrixFactorization_Loss(t *testing.T) {
	ds := newTestDataset(t)
	losses := lo.Map([]int{0, 10, 100}, func(nEpochs, _ int) float64 {
		mf := NewMatrixFactorization(model.Params{
			model.NFactors: 5,
			model.Reg:      0.1,
			model.Lr:       0.05,
			model.NEpochs:  nEpochs,
		})
		assert.NoError(t, mf.Fit(context.Background(), ds, model.NewFitConfig()))
		return mf.Loss()
	})
	assert.Greater(t, losses[0], losses[1])
	assert.Greater(t, losses[1], losses[2])
}

func TestMatrixFactorization_SquaredError(t *testing.T) {
	ds := newTestDataset(t)
	errs := lo.Map([]int{0, 50}, func(nEpochs, _ int) float64 {
		mf := NewMatrixFactorization(model.Params{
			model.NFactors: 5,
			model.Reg:      0.0,
			model.Lr:       0.05,
			model.NEpochs:  nEpochs,
		})
		assert.NoError(t, mf.Fit(context.Background(), ds, model.NewFitConfig()))
		return mf.SquaredError()
	})
	assert.Greater(t, errs[0], errs[1])
}

func TestMatrixFactorization_Jobs(t *testing.T) {
	ds := newTestDataset(t)
	params := model.Params{
		model.NFactors:    4,
		model.NEpochs:     20,
		model.RandomState: int64(7),
	}
	serial := NewMatrixFactorization(params)
	assert.NoError(t, serial.Fit(context.Background(), ds, model.NewFitConfig().SetJobs(1)))
	concurrent := NewMatrixFactorization(params)
	assert.NoError(t, concurrent.Fit(context.Background(), ds, model.NewFitConfig().SetJobs(4)))
	assert.Equal(t, serial.ItemFactor, concurrent.ItemFactor)
	assert.Equal(t, serial.UserFactor, concurrent.UserFactor)
}

func TestMatrixFactorization_Fit(t *testing.T) {
	ds := newTestDataset(t)
	// rank out of range
	for _, k := range []int{0, -1, ds.CountItems() + 1} {
		mf := NewMatrixFactorization(model.Params{model.NFactors: k})
		err := mf.Fit(context.Background(), ds, nil)
		assert.True(t, errors.Is(err, errors.NotValid), k)
		assert.Nil(t, mf.ItemFactor)
	}
	// no ratings
	empty := dataset.NewDataset(dataset.NewEncoder("u1"), dataset.NewEncoder("b1"), nil)
	err := NewMatrixFactorization(nil).Fit(context.Background(), empty, nil)
	assert.True(t, errors.Is(err, errors.NotFound))
	// cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewMatrixFactorization(model.Params{model.NFactors: 3}).Fit(ctx, ds, model.NewFitConfig().SetJobs(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatrixFactorization_Predict(t *testing.T) {
	ds := newTestDataset(t)
	mf := NewMatrixFactorization(model.Params{model.NFactors: 5, model.NEpochs: 20})
	assert.NoError(t, mf.Fit(context.Background(), ds, nil))
	for u := int32(0); int(u) < ds.CountUsers(); u++ {
		rated := ds.RatedItems(u)
		predictions := mf.PredictAll(u)
		assert.Len(t, predictions, ds.CountItems()-int(rated.Count()))
		for _, p := range predictions {
			assert.False(t, rated.Test(uint(p.ItemIndex)))
			assert.Equal(t, model.Clamp(p.Score), mf.Predict(u, p.ItemIndex))
		}
	}
	assert.Zero(t, mf.Predict(-1, 0))
	assert.Zero(t, mf.Predict(0, int32(ds.CountItems())))
	assert.Nil(t, mf.PredictAll(int32(ds.CountUsers())))
	assert.Len(t, mf.UserEmbedding(0), 5)
	assert.Len(t, mf.ItemEmbedding(0), 5)
	assert.Nil(t, mf.UserEmbedding(-1))
}

func TestMatrixFactorization_Clamp(t *testing.T) {
	ds := dataset.NewDataset(dataset.NewEncoder("u1"), dataset.NewEncoder("b1", "b2"), nil)
	mf, err := FromSnapshot(&Snapshot{
		X:            [][]float64{{2}, {-2}},
		W:            [][]float64{{2}},
		Mu:           []float64{3},
		K:            lo.ToPtr(1),
		Lam:          lo.ToPtr(0.1),
		LearningRate: lo.ToPtr(0.1),
		MaxIter:      lo.ToPtr(200),
		UserBased:    lo.ToPtr(true),
		NUsers:       lo.ToPtr(1),
		NItems:       lo.ToPtr(2),
	}, ds)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, mf.Predict(0, 0))
	assert.Equal(t, 0.0, mf.Predict(0, 1))
	assert.Equal(t, []model.Prediction{{ItemIndex: 0, Score: 7}, {ItemIndex: 1, Score: -1}}, mf.PredictAll(0))
}

func TestMatrixFactorization_RankBeyondScale(t *testing.T) {
	ds := dataset.NewDataset(dataset.NewEncoder("u1"), dataset.NewEncoder("b1", "b2", "b3"), nil)
	mf, err := FromSnapshot(&Snapshot{
		X:            [][]float64{{4}, {6}, {0}},
		W:            [][]float64{{1}},
		Mu:           []float64{3},
		K:            lo.ToPtr(1),
		Lam:          lo.ToPtr(0.1),
		LearningRate: lo.ToPtr(0.1),
		MaxIter:      lo.ToPtr(200),
		UserBased:    lo.ToPtr(true),
		NUsers:       lo.ToPtr(1),
		NItems:       lo.ToPtr(3),
	}, ds)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, mf.Predict(0, 0))
	assert.Equal(t, 5.0, mf.Predict(0, 1))
	predictions := mf.PredictAll(0)
	assert.Equal(t, []model.Prediction{{ItemIndex: 0, Score: 7}, {ItemIndex: 1, Score: 9}, {ItemIndex: 2, Score: 3}}, predictions)
}

func TestMatrixFactorization_FixedRatings(t *testing.T) {
	ds, err := dataset.Build([]data.Rating{
		data.NewRating("u0", "i0", 5),
		data.NewRating("u0", "i1", 1),
		data.NewRating("u1", "i0", 4),
		data.NewRating("u1", "i2", 3),
	})
	assert.NoError(t, err)
	_, bias := Normalize(ds.Ratings(), ds.CountUsers(), ds.CountItems(), true)
	assert.Equal(t, []float64{3, 3.5}, bias)
	errs := lo.Map([]int{0, 50}, func(nEpochs, _ int) float64 {
		mf := NewMatrixFactorization(model.Params{
			model.NFactors:  2,
			model.Reg:       0.0,
			model.Lr:        0.01,
			model.NEpochs:   nEpochs,
			model.UserBased: true,
		})
		assert.NoError(t, mf.Fit(context.Background(), ds, model.NewFitConfig()))
		assert.Equal(t, []float64{3, 3.5}, mf.Bias)
		return mf.SquaredError()
	})
	assert.Greater(t, errs[0], errs[1])
}

func TestMatrixFactorization_ItemBased(t *testing.T) {
	ds := newTestDataset(t)
	mf := NewMatrixFactorization(model.Params{model.NFactors: 3, model.NEpochs: 10, model.UserBased: false})
	assert.NoError(t, mf.Fit(context.Background(), ds, nil))
	assert.Len(t, mf.Bias, ds.CountItems())
	assert.Len(t, mf.Snapshot().Mu, ds.CountItems())
}
