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
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/model"
	"github.com/gorse-io/mfrec/model/cf"
	"github.com/gorse-io/mfrec/model/svd"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// NewModel creates an untrained model of the configured backend.
func NewModel(cfg *config.Config) (model.Model, error) {
	params := model.NewParamsFromConfig(cfg)
	switch cfg.Model.Backend {
	case config.BackendMF, "":
		return cf.NewMatrixFactorization(params), nil
	case config.BackendSVD:
		return svd.NewSVD(params), nil
	default:
		return nil, errors.NotSupportedf("model backend %q", cfg.Model.Backend)
	}
}

func newFitConfig(cfg *config.Config) *model.FitConfig {
	return model.NewFitConfig().
		SetJobs(max(cfg.Model.FitJobs, 1)).
		SetVerbose(cfg.Model.Verbose)
}

func float32s(v []float64) []float32 {
	return lo.Map(v, func(x float64, _ int) float32 {
		return float32(x)
	})
}
