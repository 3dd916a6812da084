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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	FallbackReasonNotFound    = "not_found"
	FallbackReasonUnavailable = "unavailable"
)

var (
	TrainSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mfrec",
		Subsystem: "trainer",
		Name:      "train_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})
	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrec",
		Subsystem: "trainer",
		Name:      "train_loss",
	})
	TrainRMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrec",
		Subsystem: "trainer",
		Name:      "train_rmse",
	})
	TrainRatings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrec",
		Subsystem: "trainer",
		Name:      "train_ratings",
	})
	RecommendSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mfrec",
		Subsystem: "recommender",
		Name:      "recommend_seconds",
	})
	FallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mfrec",
		Subsystem: "recommender",
		Name:      "fallback_total",
	}, []string{"reason"})
	VectorStoreBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mfrec",
		Subsystem: "recommender",
		Name:      "breaker_state",
	})
)
