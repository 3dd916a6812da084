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

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/juju/errors"
)

// Client calls the REST API of an mfrec server.
type Client struct {
	entryPoint string
	apiKey     string
	httpClient http.Client
}

func NewClient(entryPoint, apiKey string) *Client {
	return &Client{
		entryPoint: entryPoint,
		apiKey:     apiKey,
	}
}

// Recommend asks the server to recommend items to a user.
func (c *Client) Recommend(ctx context.Context, userId string) (*Recommendation, error) {
	return request[Recommendation](ctx, c, http.MethodGet, "/api/recommend/"+url.PathEscape(userId))
}

// GetRecommendation returns the latest saved recommendation of a user.
func (c *Client) GetRecommendation(ctx context.Context, userId string) (*SavedRecommendation, error) {
	return request[SavedRecommendation](ctx, c, http.MethodGet, "/api/recommendation/"+url.PathEscape(userId))
}

// Train asks the server to train the model and waits for the result.
func (c *Client) Train(ctx context.Context) (*TrainResult, error) {
	return request[TrainResult](ctx, c, http.MethodPost, "/api/train")
}

// GetModel describes the latest model.
func (c *Client) GetModel(ctx context.Context) (*Model, error) {
	return request[Model](ctx, c, http.MethodGet, "/api/model")
}

func request[T any](ctx context.Context, c *Client, method, path string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.entryPoint+path, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.StatusCode != http.StatusOK {
		message := &ErrorMessage{StatusCode: resp.StatusCode}
		if err = json.Unmarshal(body, message); err != nil || message.Message == "" {
			message.Message = string(body)
		}
		return nil, message
	}
	var result T
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, errors.Trace(err)
	}
	return &result, nil
}
