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

package main

import (
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/gorse-io/mfrec/storage/meta"
	"github.com/gorse-io/mfrec/storage/vectors"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type stores struct {
	data    data.Database
	meta    meta.Database
	vectors vectors.Database
}

// openStores connects to the configured stores. The vector store is nil if it is not
// configured.
func openStores(conf *config.Config) (*stores, error) {
	s := new(stores)
	var err error
	prefix := conf.Database.TablePrefix
	if s.data, err = data.Open(conf.Database.DataStore, prefix); err != nil {
		return nil, errors.Annotatef(err, "open data store %s", log.RedactDBURL(conf.Database.DataStore))
	}
	if s.meta, err = meta.Open(conf.Database.MetaStore, prefix); err != nil {
		s.Close()
		return nil, errors.Annotatef(err, "open meta store %s", log.RedactDBURL(conf.Database.MetaStore))
	}
	if err = s.meta.Init(); err != nil {
		s.Close()
		return nil, errors.Annotate(err, "init meta store")
	}
	if conf.Database.VectorStore != "" {
		if s.vectors, err = vectors.Open(conf.Database.VectorStore, prefix); err != nil {
			s.Close()
			return nil, errors.Annotatef(err, "open vector store %s", log.RedactDBURL(conf.Database.VectorStore))
		}
		if err = s.vectors.Init(); err != nil {
			s.Close()
			return nil, errors.Annotate(err, "init vector store")
		}
	}
	log.Logger().Info("connect to stores",
		zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)),
		zap.String("meta_store", log.RedactDBURL(conf.Database.MetaStore)),
		zap.String("vector_store", log.RedactDBURL(conf.Database.VectorStore)))
	return s, nil
}

func mustOpenStores(conf *config.Config) *stores {
	s, err := openStores(conf)
	if err != nil {
		log.Logger().Fatal("failed to connect stores", zap.Error(err))
	}
	return s
}

func (s *stores) Close() {
	if s.data != nil {
		if err := s.data.Close(); err != nil {
			log.Logger().Error("failed to close data store", zap.Error(err))
		}
	}
	if s.meta != nil {
		if err := s.meta.Close(); err != nil {
			log.Logger().Error("failed to close meta store", zap.Error(err))
		}
	}
	if s.vectors != nil {
		if err := s.vectors.Close(); err != nil {
			log.Logger().Error("failed to close vector store", zap.Error(err))
		}
	}
}
