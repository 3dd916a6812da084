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
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

var validate = validator.New()

// Snapshot is the serializable state of a fitted SVD.
type Snapshot struct {
	U        [][]float64 `json:"U" validate:"required"`
	Sigma    []float64   `json:"sigma" validate:"required,min=1"`
	Vt       [][]float64 `json:"Vt" validate:"required"`
	UserMean []float64   `json:"user_mean" validate:"required"`
	UserIds  []string    `json:"user_ids" validate:"required"`
	ItemIds  []string    `json:"item_ids" validate:"required"`
}

// Validate checks required fields and the shapes of the decomposition.
func (s *Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.NotValidf("svd snapshot: %v", err)
	}
	k := len(s.Sigma)
	if len(s.U) != len(s.UserIds) || len(s.UserMean) != len(s.UserIds) {
		return errors.NotValidf("svd snapshot: %d rows in U and %d means for %d users",
			len(s.U), len(s.UserMean), len(s.UserIds))
	}
	for u, row := range s.U {
		if len(row) != k {
			return errors.NotValidf("svd snapshot: row %d of U has %d entries, want %d", u, len(row), k)
		}
	}
	if len(s.Vt) != k {
		return errors.NotValidf("svd snapshot: %d rows in Vt, want %d", len(s.Vt), k)
	}
	for f, row := range s.Vt {
		if len(row) != len(s.ItemIds) {
			return errors.NotValidf("svd snapshot: row %d of Vt has %d entries for %d items", f, len(row), len(s.ItemIds))
		}
	}
	return nil
}

func copyMatrix(m [][]float64) [][]float64 {
	return lo.Map(m, func(row []float64, _ int) []float64 { return slices.Clone(row) })
}

// Snapshot exports the fitted state.
func (svd *SVD) Snapshot() *Snapshot {
	return &Snapshot{
		U:        copyMatrix(svd.U),
		Sigma:    slices.Clone(svd.Sigma),
		Vt:       copyMatrix(svd.Vt),
		UserMean: slices.Clone(svd.Mean),
		UserIds:  svd.users.Classes(),
		ItemIds:  svd.items.Classes(),
	}
}

// FromSnapshot rebuilds a model from a snapshot without decomposing again. The context
// dataset must use the same users and items as the snapshot.
func FromSnapshot(s *Snapshot, context *dataset.Dataset) (*SVD, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if !slices.Equal(s.UserIds, context.UserEncoder().Classes()) ||
		!slices.Equal(s.ItemIds, context.ItemEncoder().Classes()) {
		return nil, errors.NotValidf("svd snapshot: users or items differ from context")
	}
	svd := NewSVD(model.Params{model.MaxRank: len(s.Sigma)})
	svd.U = copyMatrix(s.U)
	svd.Sigma = slices.Clone(s.Sigma)
	svd.Vt = copyMatrix(s.Vt)
	svd.Mean = slices.Clone(s.UserMean)
	svd.bind(context)
	return svd, nil
}
