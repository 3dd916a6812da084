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
	"math"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/common/parallel"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// MatrixFactorization fits centered ratings with the product of an item factor matrix
// X (n_items × K) and a user factor matrix W (K × n_users) by minimizing
//
//	L = 1/|R| Σ 0.5 (r - x_i·w_u)² + 0.5 λ (‖X‖²_F + ‖W‖²_F)
//
// with alternating full-batch gradient descent. Each sweep updates every row of X with
// W fixed and then every column of W with X fixed. Predictions add back the user or item
// bias and are clamped to the rating scale.
type MatrixFactorization struct {
	model.BaseModel
	// Model parameters
	ItemFactor [][]float64 // x_i
	UserFactor [][]float64 // w_u, columns of W
	Bias       []float64   // mu
	// Hyper parameters
	nFactors   int
	reg        float64
	lr         float64
	nEpochs    int
	userBased  bool
	initMean   float64
	initStdDev float64
	// Training context
	nUsers      int
	nItems      int
	centered    []dataset.Rating
	userRatings [][]int32
	itemRatings [][]int32
	rated       []*bitset.BitSet
}

// NewMatrixFactorization creates a matrix factorization model.
func NewMatrixFactorization(params model.Params) *MatrixFactorization {
	mf := new(MatrixFactorization)
	mf.SetParams(params)
	return mf
}

// SetParams sets hyper-parameters of the matrix factorization model.
func (mf *MatrixFactorization) SetParams(params model.Params) {
	mf.BaseModel.SetParams(params)
	mf.nFactors = mf.Params.GetInt(model.NFactors, 15)
	mf.reg = mf.Params.GetFloat64(model.Reg, 0.1)
	mf.lr = mf.Params.GetFloat64(model.Lr, 0.1)
	mf.nEpochs = mf.Params.GetInt(model.NEpochs, 200)
	mf.userBased = mf.Params.GetBool(model.UserBased, true)
	mf.initMean = mf.Params.GetFloat64(model.InitMean, 0)
	mf.initStdDev = mf.Params.GetFloat64(model.InitStdDev, 1)
}

func (mf *MatrixFactorization) CountUsers() int {
	return mf.nUsers
}

func (mf *MatrixFactorization) CountItems() int {
	return mf.nItems
}

func (mf *MatrixFactorization) NFactors() int {
	return mf.nFactors
}

// bind attaches the ratings of trainSet, centered by bias, as the training context.
func (mf *MatrixFactorization) bind(trainSet *dataset.Dataset, bias []float64) {
	mf.nUsers = trainSet.CountUsers()
	mf.nItems = trainSet.CountItems()
	mf.Bias = bias
	mf.centered = center(trainSet.Ratings(), bias, mf.userBased)
	mf.userRatings = trainSet.UserRatings()
	mf.itemRatings = trainSet.ItemRatings()
	mf.rated = make([]*bitset.BitSet, mf.nUsers)
	for userIndex := range mf.rated {
		mf.rated[userIndex] = trainSet.RatedItems(int32(userIndex))
	}
}

// shapeMatches reports whether existing factors can seed training on the bound context.
func (mf *MatrixFactorization) shapeMatches() bool {
	if len(mf.ItemFactor) != mf.nItems || len(mf.UserFactor) != mf.nUsers {
		return false
	}
	for _, x := range mf.ItemFactor {
		if len(x) != mf.nFactors {
			return false
		}
	}
	for _, w := range mf.UserFactor {
		if len(w) != mf.nFactors {
			return false
		}
	}
	return true
}

// Fit trains the model. Factors from an earlier fit are reused when their shape matches
// the training set and drawn from N(init_mean, init_std²) otherwise.
func (mf *MatrixFactorization) Fit(ctx context.Context, trainSet *dataset.Dataset, config *model.FitConfig) error {
	if trainSet.CountRatings() == 0 {
		return errors.NotFoundf("ratings")
	}
	if mf.nFactors < 1 || mf.nFactors > min(trainSet.CountUsers(), trainSet.CountItems()) {
		return errors.NotValidf("n_factors %d for %d users and %d items",
			mf.nFactors, trainSet.CountUsers(), trainSet.CountItems())
	}
	if config == nil {
		config = model.NewFitConfig()
	}
	log.Logger().Info("fit mf",
		zap.Int("n_users", trainSet.CountUsers()),
		zap.Int("n_items", trainSet.CountItems()),
		zap.Int("n_ratings", trainSet.CountRatings()),
		zap.Any("params", mf.GetParams()),
		zap.Any("config", config))
	_, bias := Normalize(trainSet.Ratings(), trainSet.CountUsers(), trainSet.CountItems(), mf.userBased)
	mf.bind(trainSet, bias)
	if !mf.shapeMatches() {
		rng := mf.GetRandomGenerator()
		mf.ItemFactor = rng.NormalMatrix64(mf.nItems, mf.nFactors, mf.initMean, mf.initStdDev)
		mf.UserFactor = rng.NormalMatrix64(mf.nUsers, mf.nFactors, mf.initMean, mf.initStdDev)
	}

	jobs := max(config.Jobs, 1)
	grad := make([][]float64, jobs)
	for i := range grad {
		grad[i] = make([]float64, mf.nFactors)
	}
	n := float64(len(mf.centered))
	start := time.Now()
	for ep := 1; ep <= mf.nEpochs; ep++ {
		// x_i <- x_i - η (-(1/|R|) Σ_u e_ui w_u + λ x_i)
		if err := parallel.Parallel(ctx, mf.nItems, jobs, func(workerId, itemIndex int) error {
			g := grad[workerId]
			clear(g)
			x := mf.ItemFactor[itemIndex]
			for _, pos := range mf.itemRatings[itemIndex] {
				r := mf.centered[pos]
				w := mf.UserFactor[r.UserIndex]
				floats.AddScaled(g, -(r.Value-floats.Dot(x, w))/n, w)
			}
			floats.AddScaled(g, mf.reg, x)
			floats.AddScaled(x, -mf.lr, g)
			return nil
		}); err != nil {
			return errors.Trace(err)
		}
		// w_u <- w_u - η (-(1/|R|) Σ_i e_ui x_i + λ w_u)
		if err := parallel.Parallel(ctx, mf.nUsers, jobs, func(workerId, userIndex int) error {
			g := grad[workerId]
			clear(g)
			w := mf.UserFactor[userIndex]
			for _, pos := range mf.userRatings[userIndex] {
				r := mf.centered[pos]
				x := mf.ItemFactor[r.ItemIndex]
				floats.AddScaled(g, -(r.Value-floats.Dot(x, w))/n, x)
			}
			floats.AddScaled(g, mf.reg, w)
			floats.AddScaled(w, -mf.lr, g)
			return nil
		}); err != nil {
			return errors.Trace(err)
		}
		if config.Verbose > 0 && ep%config.Verbose == 0 {
			log.Logger().Debug(fmt.Sprintf("fit mf %v/%v", ep, mf.nEpochs),
				zap.Float64("loss", mf.Loss()),
				zap.Float64("rmse", math.Sqrt(mf.SquaredError())))
		}
	}
	log.Logger().Info("fit mf complete",
		zap.Duration("fit_time", time.Since(start)),
		zap.Float64("loss", mf.Loss()))
	return nil
}

// Loss evaluates the training objective on the bound ratings.
func (mf *MatrixFactorization) Loss() float64 {
	if len(mf.centered) == 0 {
		return 0
	}
	var sum float64
	for _, r := range mf.centered {
		e := r.Value - floats.Dot(mf.ItemFactor[r.ItemIndex], mf.UserFactor[r.UserIndex])
		sum += 0.5 * e * e
	}
	var norm float64
	for _, x := range mf.ItemFactor {
		norm += floats.Dot(x, x)
	}
	for _, w := range mf.UserFactor {
		norm += floats.Dot(w, w)
	}
	return sum/float64(len(mf.centered)) + 0.5*mf.reg*norm
}

// SquaredError is the mean squared residual of the centered ratings, without the
// regularization term.
func (mf *MatrixFactorization) SquaredError() float64 {
	if len(mf.centered) == 0 {
		return 0
	}
	var sum float64
	for _, r := range mf.centered {
		e := r.Value - floats.Dot(mf.ItemFactor[r.ItemIndex], mf.UserFactor[r.UserIndex])
		sum += e * e
	}
	return sum / float64(len(mf.centered))
}

func (mf *MatrixFactorization) validIndex(userIndex, itemIndex int32) bool {
	return userIndex >= 0 && int(userIndex) < mf.nUsers &&
		itemIndex >= 0 && int(itemIndex) < mf.nItems
}

// Predict the rating given by a user to an item, clamped to the rating scale.
func (mf *MatrixFactorization) Predict(userIndex, itemIndex int32) float64 {
	if !mf.validIndex(userIndex, itemIndex) {
		log.Logger().Warn("unknown user or item",
			zap.Int32("user_index", userIndex),
			zap.Int32("item_index", itemIndex))
		return 0
	}
	return model.Clamp(mf.predict(userIndex, itemIndex))
}

// predict returns the raw score without clamping.
func (mf *MatrixFactorization) predict(userIndex, itemIndex int32) float64 {
	score := floats.Dot(mf.ItemFactor[itemIndex], mf.UserFactor[userIndex])
	if mf.userBased {
		score += mf.Bias[userIndex]
	} else {
		score += mf.Bias[itemIndex]
	}
	return score
}

// PredictAll scores every item the user has not rated. Scores are not clamped so that
// items beyond the rating scale keep their order.
func (mf *MatrixFactorization) PredictAll(userIndex int32) []model.Prediction {
	if userIndex < 0 || int(userIndex) >= mf.nUsers {
		return nil
	}
	rated := mf.rated[userIndex]
	predictions := make([]model.Prediction, 0, mf.nItems-int(rated.Count()))
	for itemIndex := int32(0); int(itemIndex) < mf.nItems; itemIndex++ {
		if rated.Test(uint(itemIndex)) {
			continue
		}
		predictions = append(predictions, model.Prediction{
			ItemIndex: itemIndex,
			Score:     mf.predict(userIndex, itemIndex),
		})
	}
	return predictions
}

func (mf *MatrixFactorization) UserEmbedding(userIndex int32) []float64 {
	if userIndex < 0 || int(userIndex) >= mf.nUsers {
		return nil
	}
	return append([]float64(nil), mf.UserFactor[userIndex]...)
}

func (mf *MatrixFactorization) ItemEmbedding(itemIndex int32) []float64 {
	if itemIndex < 0 || int(itemIndex) >= mf.nItems {
		return nil
	}
	return append([]float64(nil), mf.ItemFactor[itemIndex]...)
}
