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

package dataset

import (
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/mfrec/base"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Rating is a cleaned (user, item, value) triple in encoded form.
type Rating struct {
	UserIndex int32
	ItemIndex int32
	Value     float64
}

// Dataset is an immutable set of ratings with at most one rating per (user, item) pair.
type Dataset struct {
	users       *Encoder
	items       *Encoder
	ratings     []Rating
	userRatings [][]int32
	itemRatings [][]int32
}

// NewDataset indexes ratings that are already encoded by users and items.
func NewDataset(users, items *Encoder, ratings []Rating) *Dataset {
	d := &Dataset{
		users:       users,
		items:       items,
		ratings:     ratings,
		userRatings: make([][]int32, users.Count()),
		itemRatings: make([][]int32, items.Count()),
	}
	for i, r := range ratings {
		d.userRatings[r.UserIndex] = append(d.userRatings[r.UserIndex], int32(i))
		d.itemRatings[r.ItemIndex] = append(d.itemRatings[r.ItemIndex], int32(i))
	}
	return d
}

type pairKey struct {
	userId string
	itemId string
}

type pairMean struct {
	sum   float64
	count int
}

// aggregate drops deleted, missing and non-finite ratings and averages duplicates.
func aggregate(raw []data.Rating) map[pairKey]*pairMean {
	pairs := make(map[pairKey]*pairMean)
	for _, r := range raw {
		if r.IsDeleted || r.Value == nil {
			continue
		}
		v := *r.Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		key := pairKey{userId: r.UserId, itemId: r.ItemId}
		if m, ok := pairs[key]; ok {
			m.sum += v
			m.count++
		} else {
			pairs[key] = &pairMean{sum: v, count: 1}
		}
	}
	return pairs
}

func encode(pairs map[pairKey]*pairMean, users, items *Encoder) []Rating {
	ratings := make([]Rating, 0, len(pairs))
	for key, m := range pairs {
		userIndex, itemIndex := users.Index(key.userId), items.Index(key.itemId)
		if userIndex < 0 || itemIndex < 0 {
			continue
		}
		ratings = append(ratings, Rating{
			UserIndex: userIndex,
			ItemIndex: itemIndex,
			Value:     m.sum / float64(m.count),
		})
	}
	// encoders are sorted, so index order equals id order
	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].UserIndex != ratings[j].UserIndex {
			return ratings[i].UserIndex < ratings[j].UserIndex
		}
		return ratings[i].ItemIndex < ratings[j].ItemIndex
	})
	return ratings
}

// Build cleans raw ratings and fits both encoders on the surviving pairs. It returns a
// NotFound error if no usable rating remains.
func Build(raw []data.Rating) (*Dataset, error) {
	pairs := aggregate(raw)
	if len(pairs) == 0 {
		return nil, errors.NotFoundf("ratings")
	}
	keys := lo.Keys(pairs)
	users := NewEncoder(lo.Map(keys, func(k pairKey, _ int) string { return k.userId })...)
	items := NewEncoder(lo.Map(keys, func(k pairKey, _ int) string { return k.itemId })...)
	return NewDataset(users, items, encode(pairs, users, items)), nil
}

// BuildWithEncoders cleans raw ratings and encodes them with existing encoders. Ratings
// of unknown users or items are dropped.
func BuildWithEncoders(raw []data.Rating, users, items *Encoder) *Dataset {
	return NewDataset(users, items, encode(aggregate(raw), users, items))
}

func (d *Dataset) UserEncoder() *Encoder {
	return d.users
}

func (d *Dataset) ItemEncoder() *Encoder {
	return d.items
}

func (d *Dataset) CountUsers() int {
	return d.users.Count()
}

func (d *Dataset) CountItems() int {
	return d.items.Count()
}

func (d *Dataset) CountRatings() int {
	return len(d.ratings)
}

// Ratings returns all ratings ordered by (user, item). Callers must not modify it.
func (d *Dataset) Ratings() []Rating {
	return d.ratings
}

// UserRatings returns positions in Ratings of the ratings of each user.
func (d *Dataset) UserRatings() [][]int32 {
	return d.userRatings
}

// ItemRatings returns positions in Ratings of the ratings of each item.
func (d *Dataset) ItemRatings() [][]int32 {
	return d.itemRatings
}

// RatedItems returns the items rated by a user as a bitset over item indices.
func (d *Dataset) RatedItems(userIndex int32) *bitset.BitSet {
	rated := bitset.New(uint(d.CountItems()))
	if userIndex < 0 || int(userIndex) >= len(d.userRatings) {
		return rated
	}
	for _, pos := range d.userRatings[userIndex] {
		rated.Set(uint(d.ratings[pos].ItemIndex))
	}
	return rated
}

// Split holds out ratings user by user. Users with at most minRatings ratings are kept
// entirely in the training set. For the others, ratings are shuffled and the first
// n*trainRatio/(trainRatio+testRatio) go to the training set. Both sets share the
// encoders of d.
func (d *Dataset) Split(rng base.RandomGenerator, trainRatio, testRatio, minRatings int) (*Dataset, *Dataset) {
	var trainRatings, testRatings []Rating
	for _, positions := range d.userRatings {
		if len(positions) <= minRatings {
			for _, pos := range positions {
				trainRatings = append(trainRatings, d.ratings[pos])
			}
			continue
		}
		shuffled := append([]int32(nil), positions...)
		base.ShuffleSlice(rng, shuffled)
		numTrain := len(shuffled) * trainRatio / (trainRatio + testRatio)
		for i, pos := range shuffled {
			if i < numTrain {
				trainRatings = append(trainRatings, d.ratings[pos])
			} else {
				testRatings = append(testRatings, d.ratings[pos])
			}
		}
	}
	return NewDataset(d.users, d.items, trainRatings), NewDataset(d.users, d.items, testRatings)
}
