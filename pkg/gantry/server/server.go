/*
 * Copyright (c) 2021 THL A29 Limited, a Tencent company.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 *
 * You may obtain a copy of the License at http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/tencent/gantry/pkg/gantry/collect"
	"github.com/tencent/gantry/pkg/gantry/predict"
	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/types"

	"github.com/emicklei/go-restful"
	jsoniter "github.com/json-iterator/go"
	"k8s.io/klog/v2"
)

const (
	basePath = "/v1"

	headerGitlabEvent = "X-Gitlab-Event"
	headerGitlabToken = "X-Gitlab-Token"

	// maxBulkSpecs bounds the work of one bulk request
	maxBulkSpecs = 1000
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Collector handles the gitlab webhooks
type Collector interface {
	CollectJob(ctx context.Context, hook *collect.JobHook) (string, error)
	HandlePipeline(ctx context.Context, hook *collect.PipelineHook) (bool, error)
}

// BulkRequest is the body of bulk predictions
type BulkRequest struct {
	Specs []string `json:"specs"`
}

// BulkResponse lists the predictions in the order of the specs
type BulkResponse struct {
	Predictions []*predict.Prediction `json:"predictions"`
}

// CollectResponse tells what happened to a webhook
type CollectResponse struct {
	Result    string `json:"result,omitempty"`
	Restarted bool   `json:"restarted,omitempty"`
}

// gantryService serves predictions and collects jobs
type gantryService struct {
	predictor    predict.Interface
	collector    Collector
	webhookToken string
}

// RegisterGantryService adds the gantry routes to the container, the collect route answers 503
// if collector is nil
func RegisterGantryService(container *restful.Container, config types.ServerConfig, webhookToken string,
	predictor predict.Interface, collector Collector) {
	s := &gantryService{
		predictor:    predictor,
		collector:    collector,
		webhookToken: webhookToken,
	}

	ws := new(restful.WebService)
	ws.Path(basePath).Produces(restful.MIME_JSON)
	ws.Filter(requestIDFilter)
	if filter := newRateLimitFilter(config.RateLimit, config.RateBurst); filter != nil {
		ws.Filter(filter)
	}

	// allocation of one build
	ws.Route(ws.GET("/allocation").To(s.getAllocation).
		Param(ws.QueryParameter("spec", "build spec, such as emacs@29.2 +json%gcc@12.3.0")))
	// allocations of many builds, in the given order
	ws.Route(ws.POST("/allocation/bulk").To(s.bulkAllocation))

	// gitlab job and pipeline webhooks
	ws.Route(ws.POST("/collect").To(s.collect))

	container.Add(ws)
}

func (s *gantryService) getAllocation(request *restful.Request, response *restful.Response) {
	raw := request.QueryParameter("spec")
	if len(raw) == 0 {
		writeError(request, response, http.StatusBadRequest, "spec is required")
		return
	}
	key, _, ok := spec.Parse(raw)
	if !ok {
		klog.V(4).Infof("invalid spec %q", raw)
		writeError(request, response, http.StatusBadRequest, fmt.Sprintf("invalid spec %q", raw))
		return
	}

	prediction, err := s.predictor.Predict(request.Request.Context(), key)
	if err != nil {
		klog.Errorf("predict %s err: %v", raw, err)
		writeError(request, response, http.StatusInternalServerError, err.Error())
		return
	}
	klog.V(4).Infof("request %s: %s predicted by %s path: %v", requestID(request), raw,
		prediction.Path, prediction.Variables)
	response.WriteAsJson(prediction)
}

func (s *gantryService) bulkAllocation(request *restful.Request, response *restful.Response) {
	body := &BulkRequest{}
	if err := json.NewDecoder(request.Request.Body).Decode(body); err != nil {
		writeError(request, response, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if len(body.Specs) > maxBulkSpecs {
		writeError(request, response, http.StatusBadRequest,
			fmt.Sprintf("too many specs %d, at most %d", len(body.Specs), maxBulkSpecs))
		return
	}

	keys := make([]*spec.BuildKey, 0, len(body.Specs))
	for i, raw := range body.Specs {
		key, _, ok := spec.Parse(raw)
		if !ok {
			writeError(request, response, http.StatusBadRequest, fmt.Sprintf("invalid spec %q at index %d", raw, i))
			return
		}
		keys = append(keys, key)
	}

	predictions, err := s.predictor.PredictBulk(request.Request.Context(), keys)
	if err != nil {
		klog.Errorf("bulk predict err: %v", err)
		writeError(request, response, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteAsJson(&BulkResponse{Predictions: predictions})
}

func (s *gantryService) collect(request *restful.Request, response *restful.Response) {
	if s.collector == nil {
		writeError(request, response, http.StatusServiceUnavailable, "collection is not configured")
		return
	}
	if len(s.webhookToken) != 0 {
		token := request.HeaderParameter(headerGitlabToken)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookToken)) != 1 {
			writeError(request, response, http.StatusUnauthorized, "invalid webhook token")
			return
		}
	}

	ctx := request.Request.Context()
	switch event := request.HeaderParameter(headerGitlabEvent); event {
	case collect.EventJob:
		hook := &collect.JobHook{}
		if err := json.NewDecoder(request.Request.Body).Decode(hook); err != nil {
			writeError(request, response, http.StatusBadRequest, fmt.Sprintf("invalid job hook: %v", err))
			return
		}
		result, err := s.collector.CollectJob(ctx, hook)
		if err != nil {
			klog.Errorf("collect job %d err: %v", hook.BuildID, err)
			writeError(request, response, http.StatusInternalServerError, err.Error())
			return
		}
		klog.V(4).Infof("job %d collected: %s", hook.BuildID, result)
		response.WriteAsJson(&CollectResponse{Result: result})
	case collect.EventPipeline:
		hook := &collect.PipelineHook{}
		if err := json.NewDecoder(request.Request.Body).Decode(hook); err != nil {
			writeError(request, response, http.StatusBadRequest, fmt.Sprintf("invalid pipeline hook: %v", err))
			return
		}
		restarted, err := s.collector.HandlePipeline(ctx, hook)
		if err != nil {
			klog.Errorf("handle pipeline %d err: %v", hook.ObjectAttributes.ID, err)
			writeError(request, response, http.StatusInternalServerError, err.Error())
			return
		}
		response.WriteAsJson(&CollectResponse{Restarted: restarted})
	default:
		writeError(request, response, http.StatusBadRequest, fmt.Sprintf("invalid event type %q", event))
	}
}
