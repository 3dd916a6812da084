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

package codec

import (
	"bytes"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/gorse-io/mfrec/model/cf"
	"github.com/gorse-io/mfrec/model/svd"
	"github.com/juju/errors"
)

// Version of the envelope written by Marshal.
const Version = 1

const (
	KindMF  = "mf"
	KindSVD = "svd"
)

var validate = validator.New()

type envelope struct {
	Version *int            `json:"version" validate:"required"`
	Kind    string          `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Kind returns the envelope kind of a model.
func Kind(m model.Model) (string, error) {
	switch m.(type) {
	case *cf.MatrixFactorization:
		return KindMF, nil
	case *svd.SVD:
		return KindSVD, nil
	default:
		return "", errors.NotSupportedf("model %T", m)
	}
}

// Marshal encodes a fitted model as {"version": 1, "kind": ..., "payload": snapshot}.
func Marshal(m model.Model) ([]byte, error) {
	kind, err := Kind(m)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var snapshot any
	switch m := m.(type) {
	case *cf.MatrixFactorization:
		snapshot = m.Snapshot()
	case *svd.SVD:
		snapshot = m.Snapshot()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, errors.Trace(err)
	}
	version := Version
	data, err := json.Marshal(envelope{Version: &version, Kind: kind, Payload: payload})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// decodeStrict rejects unknown fields.
func decodeStrict(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.NotValidf("model: %v", err)
	}
	return nil
}

// Unmarshal decodes a model written by Marshal and binds it to the context dataset,
// which must be encoded with the encoders saved alongside the model.
func Unmarshal(data []byte, context *dataset.Dataset) (model.Model, error) {
	var e envelope
	if err := decodeStrict(data, &e); err != nil {
		return nil, errors.Trace(err)
	}
	if err := validate.Struct(&e); err != nil {
		return nil, errors.NotValidf("model: %v", err)
	}
	if *e.Version != Version {
		return nil, errors.NotSupportedf("model version %d", *e.Version)
	}
	switch e.Kind {
	case KindMF:
		var s cf.Snapshot
		if err := decodeStrict(e.Payload, &s); err != nil {
			return nil, errors.Trace(err)
		}
		m, err := cf.FromSnapshot(&s, context)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return m, nil
	case KindSVD:
		var s svd.Snapshot
		if err := decodeStrict(e.Payload, &s); err != nil {
			return nil, errors.Trace(err)
		}
		m, err := svd.FromSnapshot(&s, context)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return m, nil
	default:
		return nil, errors.NotSupportedf("model kind %q", e.Kind)
	}
}
