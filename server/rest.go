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
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/logics"
	"github.com/gorse-io/mfrec/storage/meta"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
	"go.uber.org/zap"
)

const (
	apiDocsJSONPath = "/apidocs.json"
	apiDocsUIPath   = "/apidocs/"
)

// ErrorResponse is the payload of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ModelInfo describes the latest model document.
type ModelInfo struct {
	Kind      string    `json:"kind"`
	Users     int       `json:"users"`
	Items     int       `json:"items"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config      *config.Config
	MetaStore   meta.Database
	Recommender *logics.Recommender
	Trainer     *logics.Trainer
	HttpHost    string
	HttpPort    int
	WebService  *restful.WebService
	HttpServer  *http.Server

	trainMutex sync.Mutex
}

// StartHttpServer starts the REST-ful API server.
func (s *RestServer) StartHttpServer(container *restful.Container) {
	// register restful APIs
	s.CreateWebService()
	container.Add(s.WebService)
	// register swagger UI
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     apiDocsJSONPath,
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle(apiDocsUIPath, v5emb.New("mfrec", apiDocsJSONPath, apiDocsUIPath))
	// register prometheus
	container.Handle("/metrics", promhttp.Handler())

	s.HttpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort),
		Handler: container,
	}
	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	if err := s.HttpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Logger().Fatal("failed to start http server", zap.Error(err))
	}
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	RestAPIRequestSecondsVec.WithLabelValues(req.SelectedRoutePath(), strconv.Itoa(resp.StatusCode())).
		Observe(time.Since(start).Seconds())
	log.RequestLogger(req).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))
}

func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.auth(req, resp) {
		chain.ProcessFilter(req, resp)
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)
	ws.Filter(s.AuthFilter)

	// Get recommendation
	ws.Route(ws.GET("/recommend/{user-id}").To(s.getRecommend).
		Doc("Recommend items to a user and save them as the latest recommendation.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", logics.Result{}).
		Returns(http.StatusNotFound, "no model", ErrorResponse{}).
		Writes(logics.Result{}))
	// Get the latest recommendation
	ws.Route(ws.GET("/recommendation/{user-id}").To(s.getRecommendation).
		Doc("Get the latest saved recommendation of a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", meta.Recommendation{}).
		Returns(http.StatusNotFound, "no recommendation", ErrorResponse{}).
		Writes(meta.Recommendation{}))
	// Train model
	ws.Route(ws.POST("/train").To(s.postTrain).
		Doc("Train the model on all ratings and replace the latest model.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Returns(http.StatusOK, "OK", logics.TrainResult{}).
		Returns(http.StatusConflict, "training in progress", ErrorResponse{}).
		Writes(logics.TrainResult{}))
	// Get model
	ws.Route(ws.GET("/model").To(s.getModel).
		Doc("Get the description of the latest model.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Returns(http.StatusOK, "OK", ModelInfo{}).
		Returns(http.StatusNotFound, "no model", ErrorResponse{}).
		Writes(ModelInfo{}))
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	userId := request.PathParameter("user-id")
	result, err := s.Recommender.Recommend(request.Request.Context(), userId)
	if errors.Is(err, errors.NotFound) {
		PageNotFound(response, err)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, result)
}

func (s *RestServer) getRecommendation(request *restful.Request, response *restful.Response) {
	userId := request.PathParameter("user-id")
	recommendation, err := s.MetaStore.GetRecommendation(request.Request.Context(), userId)
	if errors.Is(err, errors.NotFound) {
		PageNotFound(response, err)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, recommendation)
}

func (s *RestServer) postTrain(request *restful.Request, response *restful.Response) {
	if !s.trainMutex.TryLock() {
		Conflict(response, errors.AlreadyExistsf("training in progress"))
		return
	}
	result, err := s.train(request.Request.Context())
	s.trainMutex.Unlock()
	if errors.Is(err, errors.NotFound) {
		PageNotFound(response, err)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, result)
}

// train replaces the latest model and drops the model cached by the recommender. The
// caller holds trainMutex.
func (s *RestServer) train(ctx context.Context) (*logics.TrainResult, error) {
	result, err := s.Trainer.Train(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.Recommender.Invalidate()
	return result, nil
}

func (s *RestServer) getModel(request *restful.Request, response *restful.Response) {
	doc, err := s.MetaStore.LoadModel(request.Request.Context())
	if errors.Is(err, errors.NotFound) {
		PageNotFound(response, err)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, ModelInfo{
		Kind:      doc.Kind,
		Users:     len(doc.UserIds),
		Items:     len(doc.ItemIds),
		Size:      len(doc.Model),
		CreatedAt: doc.CreatedAt,
	})
}

func writeError(response *restful.Response, status int, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err = response.WriteHeaderAndJson(status, ErrorResponse{Error: err.Error()}, restful.MIME_JSON); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.Logger().Error("internal server error", zap.Error(err))
	writeError(response, http.StatusInternalServerError, err)
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	writeError(response, http.StatusNotFound, err)
}

// Conflict returns a conflict error.
func Conflict(response *restful.Response, err error) {
	writeError(response, http.StatusConflict, err)
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	if s.Config.Server.APIKey == "" {
		return true
	}
	apikey := request.HeaderParameter("X-API-Key")
	if apikey == s.Config.Server.APIKey {
		return true
	}
	log.RequestLogger(request).Error("unauthorized", zap.String("X-API-Key", apikey))
	writeError(response, http.StatusUnauthorized, errors.Unauthorizedf("api key"))
	return false
}
