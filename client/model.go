// Copyright 2022 gorse Project Authors
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

package client

import "time"

// ErrorMessage is the error returned by the server.
type ErrorMessage struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *ErrorMessage) Error() string {
	return e.Message
}

type Recommendation struct {
	ItemIds []string `json:"recommendedItemIds"`
	Warning string   `json:"warning"`
	Backend string   `json:"backend"`
}

type SavedRecommendation struct {
	UserId    string    `json:"user_id"`
	ItemIds   []string  `json:"recommendedItemIds"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TrainResult struct {
	Kind      string    `json:"kind"`
	Users     int       `json:"users"`
	Items     int       `json:"items"`
	Ratings   int       `json:"ratings"`
	RMSE      float64   `json:"rmse"`
	CreatedAt time.Time `json:"created_at"`
}

type Model struct {
	Kind      string    `json:"kind"`
	Users     int       `json:"users"`
	Items     int       `json:"items"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
