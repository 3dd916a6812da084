// Copyright 2021 gorse Project Authors
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

package data

import (
	"context"
	"time"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// SQLReview is the row layout of the reviews table.
type SQLReview struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserId    string    `gorm:"column:user_id;type:varchar(256);not null;index"`
	BookId    string    `gorm:"column:book_id;type:varchar(256);not null"`
	Rating    *float64  `gorm:"column:rating"`
	IsDeleted bool      `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// SQLDatabase reads ratings from MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
}

func (d *SQLDatabase) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(&SQLReview{}))
}

func (d *SQLDatabase) Close() error {
	sqlDB, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return sqlDB.Close()
}

func (d *SQLDatabase) Purge() error {
	err := d.gormDB.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SQLReview{}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	rows := lo.Map(ratings, func(r Rating, _ int) SQLReview {
		return SQLReview{
			UserId:    r.UserId,
			BookId:    r.ItemId,
			Rating:    r.Value,
			IsDeleted: r.IsDeleted,
			CreatedAt: lo.Ternary(r.Timestamp.IsZero(), time.Now(), r.Timestamp).UTC(),
		}
	})
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&rows).Error)
}

func (d *SQLDatabase) ListRatings(ctx context.Context) ([]Rating, error) {
	var rows []SQLReview
	if err := d.gormDB.WithContext(ctx).Where("is_deleted = ?", false).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, toRating), nil
}

func (d *SQLDatabase) ListUserRatings(ctx context.Context, userId string) ([]Rating, error) {
	var rows []SQLReview
	if err := d.gormDB.WithContext(ctx).Where("user_id = ? AND is_deleted = ?", userId, false).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, toRating), nil
}

func toRating(row SQLReview, _ int) Rating {
	return Rating{
		UserId:    row.UserId,
		ItemId:    row.BookId,
		Value:     row.Rating,
		IsDeleted: row.IsDeleted,
		Timestamp: row.CreatedAt.UTC(),
	}
}
