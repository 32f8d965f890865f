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
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tencent/gantry/pkg/gantry/collect"
	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/predict"
	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/types"

	"github.com/emicklei/go-restful"
	"gotest.tools/assert"
)

type fakePredictor struct {
	err error
}

func (f *fakePredictor) Predict(ctx context.Context, key *spec.BuildKey) (*predict.Prediction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &predict.Prediction{
		Variables: map[string]string{
			predict.VarCPURequest:    "1000m",
			predict.VarMemoryRequest: key.PkgName,
		},
		Path: predict.PathDefault,
	}, nil
}

func (f *fakePredictor) PredictBulk(ctx context.Context, keys []*spec.BuildKey) ([]*predict.Prediction, error) {
	predictions := make([]*predict.Prediction, 0, len(keys))
	for _, key := range keys {
		p, err := f.Predict(ctx, key)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, nil
}

type fakeCollector struct {
	jobs      []int64
	pipelines []string
	err       error
}

func (f *fakeCollector) CollectJob(ctx context.Context, hook *collect.JobHook) (string, error) {
	f.jobs = append(f.jobs, hook.BuildID)
	return metrics.CollectResultInserted, f.err
}

func (f *fakeCollector) HandlePipeline(ctx context.Context, hook *collect.PipelineHook) (bool, error) {
	f.pipelines = append(f.pipelines, hook.ObjectAttributes.Ref)
	return true, f.err
}

type testServer struct {
	container *restful.Container
	predictor *fakePredictor
	collector *fakeCollector
}

func newTestServer(config types.ServerConfig, token string) *testServer {
	s := &testServer{
		container: restful.NewContainer(),
		predictor: &fakePredictor{},
		collector: &fakeCollector{},
	}
	s.container.Router(restful.CurlyRouter{})
	RegisterGantryService(s.container, config, token, s.predictor, s.collector)
	return s
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", restful.MIME_JSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.container.ServeHTTP(rec, req)
	return rec
}

// TestGetAllocation test single predictions
func TestGetAllocation(t *testing.T) {
	s := newTestServer(types.ServerConfig{}, "")

	cases := []struct {
		describe string
		query    string
		code     int
		contains string
	}{
		{
			describe: "valid",
			query:    "spec=" + "emacs%4029.2%20%2Bjson%2Bnative%25gcc%4012.3.0",
			code:     http.StatusOK,
			contains: `"emacs"`,
		},
		{describe: "missing", query: "", code: http.StatusBadRequest, contains: "spec is required"},
		{describe: "no variants", query: "spec=emacs%4029.2%25gcc%4012.3.0", code: http.StatusBadRequest,
			contains: "invalid spec"},
		{describe: "garbage", query: "spec=emacs", code: http.StatusBadRequest, contains: "invalid spec"},
	}
	for _, c := range cases {
		rec := s.do(http.MethodGet, "/v1/allocation?"+c.query, "", nil)
		assert.Equal(t, rec.Code, c.code, c.describe)
		assert.Assert(t, strings.Contains(rec.Body.String(), c.contains), "%s: %s", c.describe, rec.Body.String())
		assert.Assert(t, len(rec.Header().Get(HeaderRequestID)) != 0, c.describe)
	}

	s.predictor.err = errors.New("database is locked")
	rec := s.do(http.MethodGet, "/v1/allocation?spec=emacs%4029.2%20%2Bjson%25gcc%4012.3.0", "",
		map[string]string{HeaderRequestID: "req-123"})
	assert.Equal(t, rec.Code, http.StatusInternalServerError)
	resp := &ErrorResponse{}
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	assert.DeepEqual(t, resp, &ErrorResponse{
		Code:      http.StatusInternalServerError,
		Message:   "database is locked",
		RequestID: "req-123",
	})
}

// TestBulkAllocation test bulk predictions keep the order and reject bad specs
func TestBulkAllocation(t *testing.T) {
	s := newTestServer(types.ServerConfig{}, "")

	rec := s.do(http.MethodPost, "/v1/allocation/bulk",
		`{"specs": ["emacs@29.2 +json%gcc@12.3.0", "gmsh@4.8.4 +mpi%gcc@11.4.0"]}`, nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	resp := &BulkResponse{}
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	assert.Equal(t, len(resp.Predictions), 2)
	assert.Equal(t, resp.Predictions[0].Variables[predict.VarMemoryRequest], "emacs")
	assert.Equal(t, resp.Predictions[1].Variables[predict.VarMemoryRequest], "gmsh")

	rec = s.do(http.MethodPost, "/v1/allocation/bulk",
		`{"specs": ["emacs@29.2 +json%gcc@12.3.0", "gmsh"]}`, nil)
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Assert(t, strings.Contains(rec.Body.String(), "index 1"), rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/allocation/bulk", `{"specs": "emacs"}`, nil)
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = s.do(http.MethodPost, "/v1/allocation/bulk", `{"specs": []}`, nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	resp = &BulkResponse{}
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	assert.Assert(t, resp.Predictions != nil, rec.Body.String())
	assert.Equal(t, len(resp.Predictions), 0)
}

// TestCollect test webhook routing and authentication
func TestCollect(t *testing.T) {
	s := newTestServer(types.ServerConfig{}, "secret")
	job := `{"build_id": 9892514, "build_status": "success"}`
	pipeline := `{"object_attributes": {"status": "failed", "ref": "develop"}, "builds": []}`

	cases := []struct {
		describe string
		body     string
		headers  map[string]string
		code     int
	}{
		{describe: "no token", body: job, headers: map[string]string{headerGitlabEvent: collect.EventJob},
			code: http.StatusUnauthorized},
		{describe: "wrong token", body: job,
			headers: map[string]string{headerGitlabEvent: collect.EventJob, headerGitlabToken: "guess"},
			code:    http.StatusUnauthorized},
		{describe: "job", body: job,
			headers: map[string]string{headerGitlabEvent: collect.EventJob, headerGitlabToken: "secret"},
			code:    http.StatusOK},
		{describe: "pipeline", body: pipeline,
			headers: map[string]string{headerGitlabEvent: collect.EventPipeline, headerGitlabToken: "secret"},
			code:    http.StatusOK},
		{describe: "unknown event", body: job,
			headers: map[string]string{headerGitlabEvent: "Push Hook", headerGitlabToken: "secret"},
			code:    http.StatusBadRequest},
		{describe: "bad body", body: "{",
			headers: map[string]string{headerGitlabEvent: collect.EventJob, headerGitlabToken: "secret"},
			code:    http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := s.do(http.MethodPost, "/v1/collect", c.body, c.headers)
		assert.Equal(t, rec.Code, c.code, "%s: %s", c.describe, rec.Body.String())
	}
	assert.DeepEqual(t, s.collector.jobs, []int64{9892514})
	assert.DeepEqual(t, s.collector.pipelines, []string{"develop"})

	s.collector.err = errors.New("disk full")
	rec := s.do(http.MethodPost, "/v1/collect", job,
		map[string]string{headerGitlabEvent: collect.EventJob, headerGitlabToken: "secret"})
	assert.Equal(t, rec.Code, http.StatusInternalServerError)
}

// TestCollectDisabled test collecting without metrics backend
func TestCollectDisabled(t *testing.T) {
	container := restful.NewContainer()
	RegisterGantryService(container, types.ServerConfig{}, "", &fakePredictor{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/collect", bytes.NewBufferString("{}"))
	req.Header.Set(headerGitlabEvent, collect.EventJob)
	rec := httptest.NewRecorder()
	container.ServeHTTP(rec, req)
	assert.Equal(t, rec.Code, http.StatusServiceUnavailable)
}

// TestRateLimit test requests above the burst are rejected
func TestRateLimit(t *testing.T) {
	s := newTestServer(types.ServerConfig{RateLimit: 0.001, RateBurst: 2}, "")

	codes := []int{}
	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodGet, "/v1/allocation?spec=emacs%4029.2%20%2Bjson%25gcc%4012.3.0", "", nil)
		codes = append(codes, rec.Code)
	}
	assert.DeepEqual(t, codes, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests})
}
