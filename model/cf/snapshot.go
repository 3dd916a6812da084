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

package cf

import (
	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var validate = validator.New()

// Snapshot is the serializable state of a fitted MatrixFactorization. W is stored as
// K rows of n_users entries.
type Snapshot struct {
	X            [][]float64 `json:"X" validate:"required"`
	W            [][]float64 `json:"W" validate:"required"`
	Mu           []float64   `json:"mu" validate:"required"`
	K            *int        `json:"K" validate:"required"`
	Lam          *float64    `json:"lam" validate:"required"`
	LearningRate *float64    `json:"learning_rate" validate:"required"`
	MaxIter      *int        `json:"max_iter" validate:"required"`
	UserBased    *bool       `json:"user_based" validate:"required"`
	NUsers       *int        `json:"n_users" validate:"required"`
	NItems       *int        `json:"n_items" validate:"required"`
}

// Validate checks required fields and the shapes of the factor matrices.
func (s *Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.NotValidf("mf snapshot: %v", err)
	}
	k, nUsers, nItems := *s.K, *s.NUsers, *s.NItems
	if k < 1 {
		return errors.NotValidf("mf snapshot: K = %d", k)
	}
	if len(s.X) != nItems {
		return errors.NotValidf("mf snapshot: %d rows in X for %d items", len(s.X), nItems)
	}
	for i, x := range s.X {
		if len(x) != k {
			return errors.NotValidf("mf snapshot: row %d of X has %d entries, want %d", i, len(x), k)
		}
	}
	if len(s.W) != k {
		return errors.NotValidf("mf snapshot: %d rows in W, want %d", len(s.W), k)
	}
	for f, w := range s.W {
		if len(w) != nUsers {
			return errors.NotValidf("mf snapshot: row %d of W has %d entries for %d users", f, len(w), nUsers)
		}
	}
	nBias := nItems
	if *s.UserBased {
		nBias = nUsers
	}
	if len(s.Mu) != nBias {
		return errors.NotValidf("mf snapshot: %d biases, want %d", len(s.Mu), nBias)
	}
	return nil
}

// Snapshot exports the fitted state.
func (mf *MatrixFactorization) Snapshot() *Snapshot {
	w := make([][]float64, mf.nFactors)
	for f := range w {
		w[f] = make([]float64, mf.nUsers)
		for u := range w[f] {
			w[f][u] = mf.UserFactor[u][f]
		}
	}
	return &Snapshot{
		X:            lo.Map(mf.ItemFactor, func(x []float64, _ int) []float64 { return append([]float64(nil), x...) }),
		W:            w,
		Mu:           append([]float64(nil), mf.Bias...),
		K:            lo.ToPtr(mf.nFactors),
		Lam:          lo.ToPtr(mf.reg),
		LearningRate: lo.ToPtr(mf.lr),
		MaxIter:      lo.ToPtr(mf.nEpochs),
		UserBased:    lo.ToPtr(mf.userBased),
		NUsers:       lo.ToPtr(mf.nUsers),
		NItems:       lo.ToPtr(mf.nItems),
	}
}

// FromSnapshot rebuilds a model from a snapshot without retraining. The context dataset
// must be encoded with the encoders the model was trained with. Its ratings decide which
// items count as rated by each user.
func FromSnapshot(s *Snapshot, context *dataset.Dataset) (*MatrixFactorization, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if context.CountUsers() != *s.NUsers || context.CountItems() != *s.NItems {
		return nil, errors.NotValidf("mf snapshot: %d users and %d items in snapshot, %d users and %d items in context",
			*s.NUsers, *s.NItems, context.CountUsers(), context.CountItems())
	}
	mf := NewMatrixFactorization(model.Params{
		model.NFactors:  *s.K,
		model.Reg:       *s.Lam,
		model.Lr:        *s.LearningRate,
		model.NEpochs:   *s.MaxIter,
		model.UserBased: *s.UserBased,
	})
	mf.ItemFactor = lo.Map(s.X, func(x []float64, _ int) []float64 { return append([]float64(nil), x...) })
	mf.UserFactor = make([][]float64, *s.NUsers)
	for u := range mf.UserFactor {
		mf.UserFactor[u] = make([]float64, *s.K)
		for f := range mf.UserFactor[u] {
			mf.UserFactor[u][f] = s.W[f][u]
		}
	}
	mf.bind(context, append([]float64(nil), s.Mu...))
	return mf, nil
}
