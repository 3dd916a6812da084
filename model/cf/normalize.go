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

import "github.com/gorse-io/mfrec/dataset"

// Normalize centers ratings by the mean rating of each user (userBased) or of each
// item. Entities without ratings get a zero bias. The input is not modified.
func Normalize(ratings []dataset.Rating, nUsers, nItems int, userBased bool) ([]dataset.Rating, []float64) {
	n := nItems
	if userBased {
		n = nUsers
	}
	sum := make([]float64, n)
	count := make([]int, n)
	for _, r := range ratings {
		e := entity(r, userBased)
		sum[e] += r.Value
		count[e]++
	}
	bias := make([]float64, n)
	for e := range bias {
		if count[e] > 0 {
			bias[e] = sum[e] / float64(count[e])
		}
	}
	return center(ratings, bias, userBased), bias
}

func center(ratings []dataset.Rating, bias []float64, userBased bool) []dataset.Rating {
	centered := make([]dataset.Rating, len(ratings))
	for i, r := range ratings {
		centered[i] = dataset.Rating{
			UserIndex: r.UserIndex,
			ItemIndex: r.ItemIndex,
			Value:     r.Value - bias[entity(r, userBased)],
		}
	}
	return centered
}

func entity(r dataset.Rating, userBased bool) int32 {
	if userBased {
		return r.UserIndex
	}
	return r.ItemIndex
}
