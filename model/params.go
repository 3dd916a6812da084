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

package model

import (
	"fmt"

	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"go.uber.org/zap"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Lr             ParamName = "Lr"             // learning rate
	Reg            ParamName = "Reg"            // regularization strength
	NEpochs        ParamName = "NEpochs"        // number of epochs
	NFactors       ParamName = "NFactors"       // number of factors
	UserBased      ParamName = "UserBased"      // center by user means instead of item means
	RandomState    ParamName = "RandomState"    // random state (seed)
	InitMean       ParamName = "InitMean"       // mean of gaussian initial parameter
	InitStdDev     ParamName = "InitStdDev"     // standard deviation of gaussian initial parameter
	MaxRank        ParamName = "MaxRank"        // maximum number of singular values
	CenterObserved ParamName = "CenterObserved" // average observed cells only when centering
)

// Params stores hyper-parameters for a model. For example, hyper-parameters for matrix
// factorization are given by:
//
//	model.Params{
//		model.NFactors: 15,
//		model.Reg:      0.1,
//		model.Lr:       0.1,
//		model.NEpochs:  200,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

func typeMismatch(name ParamName, expect string, val interface{}) {
	log.Logger().Error("hyper-parameter type mismatch",
		zap.String("name", string(name)),
		zap.String("expect", expect),
		zap.String("actual", fmt.Sprintf("%T", val)))
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		default:
			typeMismatch(name, "int", val)
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			typeMismatch(name, "int64", val)
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			typeMismatch(name, "bool", val)
		}
	}
	return _default
}

// GetFloat64 gets a float parameter by name. Returns _default if not exists or type doesn't match.
// The type will be converted if given int.
func (parameters Params) GetFloat64(name ParamName, _default float64) float64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int:
			return float64(val)
		default:
			typeMismatch(name, "float64", val)
		}
	}
	return _default
}

func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// NewParamsFromConfig collects the hyper-parameters of both backends from configuration.
func NewParamsFromConfig(cfg *config.Config) Params {
	return Params{
		NFactors:       cfg.Model.NFactors,
		Reg:            cfg.Model.Reg,
		Lr:             cfg.Model.Lr,
		NEpochs:        cfg.Model.NEpochs,
		UserBased:      cfg.Model.UserBased,
		RandomState:    cfg.Model.RandomState,
		InitMean:       cfg.Model.InitMean,
		InitStdDev:     cfg.Model.InitStdDev,
		MaxRank:        cfg.SVD.MaxRank,
		CenterObserved: cfg.SVD.CenterObserved,
	}
}
