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

package storage

import (
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"
)

const (
	MySQLPrefix      = "mysql://"
	MongoPrefix      = "mongodb://"
	MongoSrvPrefix   = "mongodb+srv://"
	PostgresPrefix   = "postgres://"
	PostgreSQLPrefix = "postgresql://"
	SQLitePrefix     = "sqlite://"
	RedisPrefix      = "redis://"
	RedissPrefix     = "rediss://"
	MilvusPrefix     = "milvus://"
	QdrantPrefix     = "qdrant://"
	WeaviatePrefix   = "weaviate://"
	WeaviatesPrefix  = "weaviates://"
	MemoryPrefix     = "memory://"
)

func AppendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, tuple := range params {
		q.Add(tuple.A, tuple.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func AppendMySQLParams(dsn string, params map[string]string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Trace(err)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	for key, value := range params {
		if _, exist := cfg.Params[key]; !exist {
			cfg.Params[key] = value
		}
	}
	return cfg.FormatDSN(), nil
}

func ProbeMySQLIsolationVariableName(dsn string) (string, error) {
	connection, err := sql.Open("mysql", dsn)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer connection.Close()
	rows, err := connection.Query("SHOW VARIABLES WHERE variable_name = 'transaction_isolation' OR variable_name = 'tx_isolation'")
	if err != nil {
		return "", errors.Trace(err)
	}
	defer rows.Close()
	var name, value string
	if rows.Next() {
		if err = rows.Scan(&name, &value); err != nil {
			return "", errors.Trace(err)
		}
	}
	return name, nil
}

type TablePrefix string

// ReviewsTable holds the raw ratings.
func (tp TablePrefix) ReviewsTable() string {
	return string(tp) + "reviews"
}

// ModelsTable holds the latest model document.
func (tp TablePrefix) ModelsTable() string {
	return string(tp) + "recommendation_matrices"
}

// RecommendationsTable holds the last recommendation result of each user.
func (tp TablePrefix) RecommendationsTable() string {
	return string(tp) + "recommendations"
}

func (tp TablePrefix) UsersCollection() string {
	return string(tp) + "users"
}

func (tp TablePrefix) ItemsCollection() string {
	return string(tp) + "items"
}

func (tp TablePrefix) Key(key string) string {
	return string(tp) + key
}

func NewGORMConfig(tablePrefix string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Logger()), logger.Config{
			SlowThreshold:             10 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		CreateBatchSize:        1000,
		SkipDefaultTransaction: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   tablePrefix,
			SingularTable: true,
			NameReplacer: strings.NewReplacer(
				"SQLReview", "Reviews",
				"SQLModelDocument", "RecommendationMatrices",
				"SQLRecommendation", "Recommendations",
			),
		},
	}
}

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// IsSQL reports whether path is handled by OpenGORM.
func IsSQL(path string) bool {
	return strings.HasPrefix(path, MySQLPrefix) ||
		strings.HasPrefix(path, PostgresPrefix) ||
		strings.HasPrefix(path, PostgreSQLPrefix) ||
		strings.HasPrefix(path, SQLitePrefix)
}

// OpenGORM connects to a MySQL, Postgres or SQLite database.
func OpenGORM(path, tablePrefix string, opts ...Option) (*gorm.DB, SQLDriver, error) {
	option := NewOptions(opts...)
	var (
		client    *sql.DB
		dialector gorm.Dialector
		driver    SQLDriver
		err       error
	)
	switch {
	case strings.HasPrefix(path, MySQLPrefix):
		name := path[len(MySQLPrefix):]
		isolationVarName, err := ProbeMySQLIsolationVariableName(name)
		if err != nil {
			return nil, 0, errors.Trace(err)
		}
		params := map[string]string{
			"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"parseTime": "true",
		}
		if isolationVarName != "" {
			params[isolationVarName] = "'" + option.IsolationLevel + "'"
		}
		if name, err = AppendMySQLParams(name, params); err != nil {
			return nil, 0, errors.Trace(err)
		}
		if client, err = sql.Open("mysql", name); err != nil {
			return nil, 0, errors.Trace(err)
		}
		dialector = gormmysql.New(gormmysql.Config{Conn: client})
		driver = MySQL
	case strings.HasPrefix(path, PostgresPrefix), strings.HasPrefix(path, PostgreSQLPrefix):
		if client, err = sql.Open("postgres", path); err != nil {
			return nil, 0, errors.Trace(err)
		}
		dialector = postgres.New(postgres.Config{Conn: client})
		driver = Postgres
	case strings.HasPrefix(path, SQLitePrefix):
		name, err := AppendURLParams(path[len(SQLitePrefix):], []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		})
		if err != nil {
			return nil, 0, errors.Trace(err)
		}
		if client, err = sql.Open("sqlite", name); err != nil {
			return nil, 0, errors.Trace(err)
		}
		dialector = sqlite.Dialector{Conn: client}
		driver = SQLite
	default:
		return nil, 0, errors.NotSupportedf("sql database %s", path)
	}
	ApplySQLPool(client, option)
	gormDB, err := gorm.Open(dialector, NewGORMConfig(tablePrefix))
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	return gormDB, driver, nil
}
