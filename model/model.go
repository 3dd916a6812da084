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

	"github.com/gorse-io/mfrec/base"
	"github.com/gorse-io/mfrec/dataset"
)

// Predictions of the factorization model are clamped to the rating scale.
const (
	MinRating = 0.0
	MaxRating = 5.0
)

// Clamp limits a predicted rating to [MinRating, MaxRating].
func Clamp(x float64) float64 {
	return math.Max(MinRating, math.Min(MaxRating, x))
}

// Prediction is the score of an item for some user.
type Prediction struct {
	ItemIndex int32
	Score     float64
}

type FitConfig struct {
	Jobs    int
	Verbose int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// Model is a scoring backend. It is trained on a dataset and then scores the items a
// user has not rated yet.
type Model interface {
	SetParams(params Params)
	GetParams() Params
	// Fit trains the model on a dataset.
	Fit(ctx context.Context, trainSet *dataset.Dataset, config *FitConfig) error
	// Predict the rating given by a user to an item.
	Predict(userIndex, itemIndex int32) float64
	// PredictAll scores every item the user has not rated, in item index order.
	PredictAll(userIndex int32) []Prediction
	// UserEmbedding returns the vector of a user in the shared latent space.
	UserEmbedding(userIndex int32) []float64
	// ItemEmbedding returns the vector of an item in the shared latent space.
	ItemEmbedding(itemIndex int32) []float64
}

// BaseModel must be included by every model. Hyper-parameters and the random generator
// are managed by the BaseModel.
type BaseModel struct {
	Params    Params
	rng       base.RandomGenerator
	randState int64
}

// SetParams sets hyper-parameters for the BaseModel model.
func (model *BaseModel) SetParams(params Params) {
	model.Params = params
	model.randState = model.Params.GetInt64(RandomState, 0)
	model.rng = base.NewRandomGenerator(model.randState)
}

// GetParams returns all hyper-parameters.
func (model *BaseModel) GetParams() Params {
	return model.Params
}

func (model *BaseModel) GetRandomGenerator() base.RandomGenerator {
	return model.rng
}
