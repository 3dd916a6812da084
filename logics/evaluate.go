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

package logics

import (
	"context"

	"github.com/gorse-io/mfrec/base"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type EvaluateResult struct {
	Kind      string  `json:"kind"`
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
	RMSE      float64 `json:"rmse"`
}

// Evaluate holds out ratings user by user, fits the configured backend on the rest and
// reports the RMSE on the held-out ratings. Nothing is persisted.
func Evaluate(ctx context.Context, cfg *config.Config, dataStore data.Database) (*EvaluateResult, error) {
	ratings, err := dataStore.ListRatings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	all, err := dataset.Build(ratings)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rng := base.NewRandomGenerator(cfg.Model.RandomState)
	trainSet, testSet := all.Split(rng, cfg.Evaluate.TrainRatio, cfg.Evaluate.TestRatio, cfg.Evaluate.MinRatings)
	m, err := NewModel(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = m.Fit(ctx, trainSet, newFitConfig(cfg)); err != nil {
		return nil, errors.Trace(err)
	}
	result := &EvaluateResult{
		Kind:      cfg.Model.Backend,
		TrainSize: trainSet.CountRatings(),
		TestSize:  testSet.CountRatings(),
		RMSE:      model.RMSE(m, testSet),
	}
	log.Logger().Info("evaluate model complete",
		zap.String("kind", result.Kind),
		zap.Int("train_size", result.TrainSize),
		zap.Int("test_size", result.TestSize),
		zap.Float64("rmse", result.RMSE))
	return result, nil
}
