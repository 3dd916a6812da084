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

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	BackendMF  = "mf"
	BackendSVD = "svd"
)

// Config is the configuration for mfrec.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Model     ModelConfig     `mapstructure:"model"`
	SVD       SVDConfig       `mapstructure:"svd"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Evaluate  EvaluateConfig  `mapstructure:"evaluate"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DatabaseConfig is the configuration for the stores.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required,startswith=mongodb://|startswith=mongodb+srv://|startswith=mysql://|startswith=postgres://|startswith=postgresql://|startswith=sqlite://"`
	MetaStore   string `mapstructure:"meta_store" validate:"required,startswith=mongodb://|startswith=mongodb+srv://|startswith=redis://|startswith=rediss://|startswith=mysql://|startswith=postgres://|startswith=postgresql://|startswith=sqlite://"`
	VectorStore string `mapstructure:"vector_store" validate:"omitempty,startswith=milvus://|startswith=qdrant://|startswith=weaviate://|startswith=weaviates://|startswith=memory://"`
	TablePrefix string `mapstructure:"table_prefix"`
}

// ModelConfig is the configuration for the factorization model.
type ModelConfig struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=mf svd"`
	NFactors    int           `mapstructure:"n_factors" validate:"gt=0"`
	Reg         float64       `mapstructure:"reg" validate:"gte=0"`
	Lr          float64       `mapstructure:"lr" validate:"gt=0"`
	NEpochs     int           `mapstructure:"n_epochs" validate:"gte=0"`
	UserBased   bool          `mapstructure:"user_based"`
	RandomState int64         `mapstructure:"random_state"`
	InitMean    float64       `mapstructure:"init_mean"`
	InitStdDev  float64       `mapstructure:"init_std" validate:"gte=0"`
	FitJobs     int           `mapstructure:"fit_jobs" validate:"gt=0"`
	Verbose     int           `mapstructure:"verbose" validate:"gte=0"`
	FitPeriod   time.Duration `mapstructure:"fit_period" validate:"gte=0"`
}

// SVDConfig is the configuration for the truncated SVD backend.
type SVDConfig struct {
	MaxRank        int  `mapstructure:"max_rank" validate:"gt=0"`
	CenterObserved bool `mapstructure:"center_observed"`
}

// RecommendConfig is the configuration for serving recommendations.
type RecommendConfig struct {
	TopK            int           `mapstructure:"top_k" validate:"gt=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"gt=0"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
}

// EvaluateConfig is the configuration for the offline holdout evaluation.
type EvaluateConfig struct {
	TrainRatio int `mapstructure:"train_ratio" validate:"gt=0"`
	TestRatio  int `mapstructure:"test_ratio" validate:"gt=0"`
	MinRatings int `mapstructure:"min_ratings" validate:"gte=0"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey string `mapstructure:"api_key"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore: "mongodb://127.0.0.1:27017/bookstore",
			MetaStore: "mongodb://127.0.0.1:27017/bookstore",
		},
		Model: ModelConfig{
			Backend:    BackendMF,
			NFactors:   15,
			Reg:        0.1,
			Lr:         0.1,
			NEpochs:    200,
			UserBased:  true,
			InitStdDev: 1,
			FitJobs:    1,
			Verbose:    10,
			FitPeriod:  time.Hour,
		},
		SVD: SVDConfig{
			MaxRank: 10,
		},
		Recommend: RecommendConfig{
			TopK:            8,
			CacheTTL:        time.Minute,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Evaluate: EvaluateConfig{
			TrainRatio: 5,
			TestRatio:  2,
			MinRatings: 3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8087,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	viper.SetDefault("database.meta_store", defaultConfig.Database.MetaStore)
	viper.SetDefault("database.vector_store", defaultConfig.Database.VectorStore)
	viper.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	// [model]
	viper.SetDefault("model.backend", defaultConfig.Model.Backend)
	viper.SetDefault("model.n_factors", defaultConfig.Model.NFactors)
	viper.SetDefault("model.reg", defaultConfig.Model.Reg)
	viper.SetDefault("model.lr", defaultConfig.Model.Lr)
	viper.SetDefault("model.n_epochs", defaultConfig.Model.NEpochs)
	viper.SetDefault("model.user_based", defaultConfig.Model.UserBased)
	viper.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	viper.SetDefault("model.init_mean", defaultConfig.Model.InitMean)
	viper.SetDefault("model.init_std", defaultConfig.Model.InitStdDev)
	viper.SetDefault("model.fit_jobs", defaultConfig.Model.FitJobs)
	viper.SetDefault("model.verbose", defaultConfig.Model.Verbose)
	viper.SetDefault("model.fit_period", defaultConfig.Model.FitPeriod)
	// [svd]
	viper.SetDefault("svd.max_rank", defaultConfig.SVD.MaxRank)
	viper.SetDefault("svd.center_observed", defaultConfig.SVD.CenterObserved)
	// [recommend]
	viper.SetDefault("recommend.top_k", defaultConfig.Recommend.TopK)
	viper.SetDefault("recommend.cache_ttl", defaultConfig.Recommend.CacheTTL)
	viper.SetDefault("recommend.breaker_failures", defaultConfig.Recommend.BreakerFailures)
	viper.SetDefault("recommend.breaker_timeout", defaultConfig.Recommend.BreakerTimeout)
	// [evaluate]
	viper.SetDefault("evaluate.train_ratio", defaultConfig.Evaluate.TrainRatio)
	viper.SetDefault("evaluate.test_ratio", defaultConfig.Evaluate.TestRatio)
	viper.SetDefault("evaluate.min_ratings", defaultConfig.Evaluate.MinRatings)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.api_key", defaultConfig.Server.APIKey)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"database.data_store", "MFREC_DATA_STORE"},
	{"database.meta_store", "MFREC_META_STORE"},
	{"database.vector_store", "MFREC_VECTOR_STORE"},
	{"database.table_prefix", "MFREC_TABLE_PREFIX"},
	{"model.backend", "MFREC_MODEL_BACKEND"},
	{"model.fit_jobs", "MFREC_FIT_JOBS"},
	{"model.fit_period", "MFREC_FIT_PERIOD"},
	{"recommend.top_k", "MFREC_TOP_K"},
	{"server.host", "MFREC_SERVER_HOST"},
	{"server.port", "MFREC_SERVER_PORT"},
	{"server.api_key", "MFREC_SERVER_API_KEY"},
}

// LoadConfig loads configuration from a TOML file. Missing keys fall back to defaults
// and MFREC_* environment variables override the file. An empty path loads defaults
// and the environment only.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks value ranges. Errors name keys the way they appear in the TOML file.
func (config *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.Struct(config); err != nil {
		return errors.NotValidf("configuration: %v", err)
	}
	return nil
}
