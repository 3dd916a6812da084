// Copyright 2024 gorse Project Authors
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

package meta

import (
	"context"
	"time"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLModelDocument is the row layout of the recommendation_matrices table.
type SQLModelDocument struct {
	Id        string    `gorm:"column:id;type:varchar(256);primaryKey"`
	Kind      string    `gorm:"column:kind;type:varchar(16);not null"`
	Model     []byte    `gorm:"column:model"`
	UserIds   []string  `gorm:"column:user_encoder;type:text;serializer:json"`
	ItemIds   []string  `gorm:"column:item_encoder;type:text;serializer:json"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// SQLRecommendation is the row layout of the recommendations table.
type SQLRecommendation struct {
	UserId    string    `gorm:"column:user_id;type:varchar(256);primaryKey"`
	ItemIds   []string  `gorm:"column:recommended_item_ids;type:text;serializer:json"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// SQLDatabase keeps documents in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
}

func (d *SQLDatabase) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(&SQLModelDocument{}, &SQLRecommendation{}))
}

func (d *SQLDatabase) Close() error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return sqlDB.Close()
}

func (d *SQLDatabase) Purge() error {
	session := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true})
	if err := session.Delete(&SQLModelDocument{}).Error; err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(session.Delete(&SQLRecommendation{}).Error)
}

func (d *SQLDatabase) SaveModel(ctx context.Context, doc *ModelDocument) error {
	row := SQLModelDocument{
		Id:        LatestModelId,
		Kind:      doc.Kind,
		Model:     doc.Model,
		UserIds:   doc.UserIds,
		ItemIds:   doc.ItemIds,
		CreatedAt: doc.CreatedAt.UTC(),
	}
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "model", "user_encoder", "item_encoder", "created_at"}),
	}).Create(&row).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) LoadModel(ctx context.Context) (*ModelDocument, error) {
	var row SQLModelDocument
	err := d.gormDB.WithContext(ctx).Where("id = ?", LatestModelId).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundf("model %s", LatestModelId)
		}
		return nil, errors.Trace(err)
	}
	return &ModelDocument{
		Id:        row.Id,
		Kind:      row.Kind,
		Model:     row.Model,
		UserIds:   row.UserIds,
		ItemIds:   row.ItemIds,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

func (d *SQLDatabase) SaveRecommendation(ctx context.Context, recommendation *Recommendation) error {
	row := SQLRecommendation{
		UserId:    recommendation.UserId,
		ItemIds:   recommendation.ItemIds,
		UpdatedAt: recommendation.UpdatedAt.UTC(),
	}
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"recommended_item_ids", "updated_at"}),
	}).Create(&row).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetRecommendation(ctx context.Context, userId string) (*Recommendation, error) {
	var row SQLRecommendation
	err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundf("recommendation for %s", userId)
		}
		return nil, errors.Trace(err)
	}
	return &Recommendation{
		UserId:    row.UserId,
		ItemIds:   row.ItemIds,
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}
