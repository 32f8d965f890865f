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
	"net/http"

	"github.com/emicklei/go-restful"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

const (
	// HeaderRequestID carries the request id, a new one is generated if the client does not send it
	HeaderRequestID    = "X-Request-Id"
	attributeRequestID = "request-id"
)

// ErrorResponse is the body of failed requests
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func requestIDFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	id := req.HeaderParameter(HeaderRequestID)
	if len(id) == 0 {
		id = uuid.New().String()
	}
	req.SetAttribute(attributeRequestID, id)
	resp.AddHeader(HeaderRequestID, id)
	chain.ProcessFilter(req, resp)
}

func requestID(req *restful.Request) string {
	id, _ := req.Attribute(attributeRequestID).(string)
	return id
}

// newRateLimitFilter rejects requests above the rate with 429, a zero rate disables limiting
func newRateLimitFilter(limit float64, burst int) restful.FilterFunction {
	if limit <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		if !limiter.Allow() {
			klog.V(4).Infof("request %s %s rejected by rate limit", req.Request.Method, req.Request.URL.Path)
			writeError(req, resp, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		chain.ProcessFilter(req, resp)
	}
}

func writeError(req *restful.Request, resp *restful.Response, code int, message string) {
	err := resp.WriteHeaderAndJson(code, &ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID(req),
	}, restful.MIME_JSON)
	if err != nil {
		klog.Errorf("write error response err: %v", err)
	}
}
