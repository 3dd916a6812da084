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

package server

import (
	"context"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/logics"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/gorse-io/mfrec/storage/meta"
	"github.com/gorse-io/mfrec/storage/vectors"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Server serves recommendations over HTTP and retrains the model periodically.
type Server struct {
	RestServer
	ticker    *time.Ticker
	scheduled chan struct{}
	cancel    context.CancelFunc
}

// NewServer creates a server. vectorStore is nil if no vector store is configured.
func NewServer(cfg *config.Config, dataStore data.Database, metaStore meta.Database, vectorStore vectors.Database) *Server {
	period := cfg.Model.FitPeriod
	if period <= 0 {
		// never fires, training runs on demand only
		period = time.Duration(1<<63 - 1)
	}
	return &Server{
		RestServer: RestServer{
			Config:      cfg,
			MetaStore:   metaStore,
			Recommender: logics.NewRecommender(cfg, dataStore, metaStore, vectorStore),
			Trainer:     logics.NewTrainer(cfg, dataStore, metaStore, vectorStore),
			HttpHost:    cfg.Server.Host,
			HttpPort:    cfg.Server.Port,
			WebService:  new(restful.WebService),
		},
		ticker:    time.NewTicker(period),
		scheduled: make(chan struct{}, 1),
	}
}

// Serve starts the training loop and blocks on the HTTP server.
func (s *Server) Serve() {
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go s.RunTrainLoop(ctx, s.Config.Model.FitPeriod > 0)
	s.StartHttpServer(restful.NewContainer())
}

// Schedule requests a training without waiting for it.
func (s *Server) Schedule() {
	select {
	case s.scheduled <- struct{}{}:
	default:
	}
}

// RunTrainLoop trains the model on every tick and on every scheduled request until ctx
// is done. If trainOnStart is set, the first training starts immediately.
func (s *Server) RunTrainLoop(ctx context.Context, trainOnStart bool) {
	if trainOnStart {
		s.Schedule()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ticker.C:
		case <-s.scheduled:
		}

		s.trainMutex.Lock()
		result, err := s.train(ctx)
		s.trainMutex.Unlock()
		if errors.Is(err, errors.NotFound) {
			log.Logger().Warn("skip training", zap.Error(err))
			ScheduledTrainTotal.WithLabelValues("skipped").Inc()
			continue
		} else if err != nil {
			log.Logger().Error("failed to train model", zap.Error(err))
			ScheduledTrainTotal.WithLabelValues("failed").Inc()
			continue
		}
		ScheduledTrainTotal.WithLabelValues("succeeded").Inc()
		log.Logger().Info("scheduled training complete",
			zap.String("kind", result.Kind),
			zap.Int("n_ratings", result.Ratings))
	}
}

// Shutdown stops the training loop and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.ticker.Stop()
	if s.HttpServer != nil {
		if err := s.HttpServer.Shutdown(ctx); err != nil {
			log.Logger().Error("failed to shutdown http server", zap.Error(err))
		}
	}
}
