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
	"math"

	"github.com/gorse-io/mfrec/dataset"
)

// RMSE is root mean square error of the predictions of a model on a test set.
//
//	\sqrt{\frac{1}{|T|}\sum_{(u,i) \in T} (r_{ui} - \hat{r}_{ui})^2}
//
// It returns NaN for an empty test set.
func RMSE(m Model, testSet *dataset.Dataset) float64 {
	if testSet.CountRatings() == 0 {
		return math.NaN()
	}
	var sum float64
	for _, r := range testSet.Ratings() {
		e := r.Value - m.Predict(r.UserIndex, r.ItemIndex)
		sum += e * e
	}
	return math.Sqrt(sum / float64(testSet.CountRatings()))
}
