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

package svd

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// SVD factorizes the whole demeaned user-item matrix with a truncated singular value
// decomposition. Unobserved cells are zero. The prediction is
//
//	\hat{r}_{ui} = \bar{r}_u + \sum_f U_{uf} \sigma_f V^T_{fi}
//
// and is not clamped.
type SVD struct {
	model.BaseModel
	// Model parameters
	U     [][]float64 // n_users × k
	Sigma []float64   // descending
	Vt    [][]float64 // k × n_items
	Mean  []float64   // \bar{r}_u
	// Hyper parameters
	maxRank        int
	centerObserved bool
	// Context
	users *dataset.Encoder
	items *dataset.Encoder
	rated []*bitset.BitSet
}

// NewSVD creates a truncated SVD model. Params:
//
//	MaxRank        - The maximum number of singular values kept. Default is 10.
//	CenterObserved - Average observed cells only when computing user means. Default is false.
func NewSVD(params model.Params) *SVD {
	svd := new(SVD)
	svd.SetParams(params)
	return svd
}

func (svd *SVD) SetParams(params model.Params) {
	svd.BaseModel.SetParams(params)
	svd.maxRank = svd.Params.GetInt(model.MaxRank, 10)
	svd.centerObserved = svd.Params.GetBool(model.CenterObserved, false)
}

// Rank returns the number of singular values kept.
func (svd *SVD) Rank() int {
	return len(svd.Sigma)
}

func (svd *SVD) bind(ds *dataset.Dataset) {
	svd.users = ds.UserEncoder()
	svd.items = ds.ItemEncoder()
	svd.rated = make([]*bitset.BitSet, ds.CountUsers())
	for userIndex := range svd.rated {
		svd.rated[userIndex] = ds.RatedItems(int32(userIndex))
	}
}

// Fit decomposes the rating matrix of trainSet from scratch.
func (svd *SVD) Fit(ctx context.Context, trainSet *dataset.Dataset, _ *model.FitConfig) error {
	if trainSet.CountRatings() == 0 {
		return errors.NotFoundf("ratings")
	}
	nUsers, nItems := trainSet.CountUsers(), trainSet.CountItems()
	k := min(svd.maxRank, min(nUsers, nItems)-1)
	if k < 1 {
		return errors.NotValidf("rank %d for %d users and %d items", k, nUsers, nItems)
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("fit svd",
		zap.Int("n_users", nUsers),
		zap.Int("n_items", nItems),
		zap.Int("n_ratings", trainSet.CountRatings()),
		zap.Int("rank", k),
		zap.Bool("center_observed", svd.centerObserved))
	start := time.Now()

	a := mat.NewDense(nUsers, nItems, nil)
	counts := make([]int, nUsers)
	for _, r := range trainSet.Ratings() {
		a.Set(int(r.UserIndex), int(r.ItemIndex), r.Value)
		counts[r.UserIndex]++
	}
	svd.Mean = make([]float64, nUsers)
	for u := 0; u < nUsers; u++ {
		row := a.RawRowView(u)
		var sum float64
		for _, v := range row {
			sum += v
		}
		switch {
		case !svd.centerObserved:
			svd.Mean[u] = sum / float64(nItems)
		case counts[u] > 0:
			svd.Mean[u] = sum / float64(counts[u])
		}
		for i := range row {
			row[i] -= svd.Mean[u]
		}
	}

	var result mat.SVD
	if ok := result.Factorize(a, mat.SVDThin); !ok {
		return errors.Errorf("failed to factorize %d × %d rating matrix", nUsers, nItems)
	}
	var u, v mat.Dense
	result.UTo(&u)
	result.VTo(&v)
	values := result.Values(nil)
	svd.Sigma = append([]float64(nil), values[:k]...)
	svd.U = make([][]float64, nUsers)
	for i := range svd.U {
		svd.U[i] = append([]float64(nil), u.RawRowView(i)[:k]...)
	}
	svd.Vt = make([][]float64, k)
	for f := range svd.Vt {
		svd.Vt[f] = mat.Col(nil, f, &v)
	}
	svd.bind(trainSet)
	log.Logger().Info("fit svd complete",
		zap.Duration("fit_time", time.Since(start)),
		zap.Float64s("sigma", svd.Sigma))
	return nil
}

func (svd *SVD) nUsers() int {
	return len(svd.U)
}

func (svd *SVD) nItems() int {
	if len(svd.Vt) == 0 {
		return 0
	}
	return len(svd.Vt[0])
}

// Predict the rating given by a user to an item.
func (svd *SVD) Predict(userIndex, itemIndex int32) float64 {
	if userIndex < 0 || int(userIndex) >= svd.nUsers() || itemIndex < 0 || int(itemIndex) >= svd.nItems() {
		log.Logger().Warn("unknown user or item",
			zap.Int32("user_index", userIndex),
			zap.Int32("item_index", itemIndex))
		return 0
	}
	return svd.predict(userIndex, itemIndex)
}

func (svd *SVD) predict(userIndex, itemIndex int32) float64 {
	score := svd.Mean[userIndex]
	for f, sigma := range svd.Sigma {
		score += svd.U[userIndex][f] * sigma * svd.Vt[f][itemIndex]
	}
	return score
}

// PredictAll scores every item the user has not rated.
func (svd *SVD) PredictAll(userIndex int32) []model.Prediction {
	if userIndex < 0 || int(userIndex) >= svd.nUsers() {
		return nil
	}
	rated := svd.rated[userIndex]
	predictions := make([]model.Prediction, 0, svd.nItems()-int(rated.Count()))
	for itemIndex := int32(0); int(itemIndex) < svd.nItems(); itemIndex++ {
		if !rated.Test(uint(itemIndex)) {
			predictions = append(predictions, model.Prediction{
				ItemIndex: itemIndex,
				Score:     svd.predict(userIndex, itemIndex),
			})
		}
	}
	return predictions
}

// UserEmbedding is U_u scaled by the singular values.
func (svd *SVD) UserEmbedding(userIndex int32) []float64 {
	if userIndex < 0 || int(userIndex) >= svd.nUsers() {
		return nil
	}
	embedding := make([]float64, len(svd.Sigma))
	for f, sigma := range svd.Sigma {
		embedding[f] = svd.U[userIndex][f] * sigma
	}
	return embedding
}

// ItemEmbedding is the column of Vt.
func (svd *SVD) ItemEmbedding(itemIndex int32) []float64 {
	if itemIndex < 0 || int(itemIndex) >= svd.nItems() {
		return nil
	}
	embedding := make([]float64, len(svd.Vt))
	for f := range svd.Vt {
		embedding[f] = svd.Vt[f][itemIndex]
	}
	return embedding
}
