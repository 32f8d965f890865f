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

// Package fake is a minimal prometheus http api serving canned results, for tests
package fake

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Series is a canned series, instant queries use the first value only
type Series struct {
	Labels map[string]string
	Values []float64
}

// Request is a received query
type Request struct {
	Path   string
	Query  string
	Start  string
	End    string
	Step   string
	Cookie string
}

// Server serves /api/v1/query and /api/v1/query_range. Unknown queries return no data.
type Server struct {
	*httptest.Server

	lock     sync.Mutex
	results  map[string][]Series
	requests []Request
	fail     bool
}

// NewServer starts the server, Close must be called
func NewServer() *Server {
	s := &Server{results: make(map[string][]Series)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", s.handle("vector"))
	mux.HandleFunc("/api/v1/query_range", s.handle("matrix"))
	s.Server = httptest.NewServer(mux)
	return s
}

// Set sets the result of a query
func (s *Server) Set(query string, series ...Series) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.results[query] = series
}

// Fail makes all queries answer 500
func (s *Server) Fail(fail bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.fail = fail
}

// Requests returns the received queries
func (s *Server) Requests() []Request {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Request(nil), s.requests...)
}

type sample struct {
	Metric map[string]string `json:"metric"`
	Value  []interface{}     `json:"value,omitempty"`
	Values [][]interface{}   `json:"values,omitempty"`
}

func (s *Server) handle(resultType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := Request{
			Path:  r.URL.Path,
			Query: r.Form.Get("query"),
			Start: r.Form.Get("start"),
			End:   r.Form.Get("end"),
			Step:  r.Form.Get("step"),
		}
		if cookie, err := r.Cookie("_oauth2_proxy"); err == nil {
			req.Cookie = cookie.Value
		}

		s.lock.Lock()
		s.requests = append(s.requests, req)
		series := s.results[req.Query]
		fail := s.fail
		s.lock.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status":"error","errorType":"internal","error":"injected failure"}`))
			return
		}

		ts := float64(time.Now().Unix())
		if t, err := strconv.ParseFloat(r.Form.Get("time"), 64); err == nil {
			ts = t
		} else if t, err := strconv.ParseFloat(req.Start, 64); err == nil {
			ts = t
		}

		result := make([]sample, 0, len(series))
		for _, item := range series {
			out := sample{Metric: item.Labels}
			if out.Metric == nil {
				out.Metric = map[string]string{}
			}
			if resultType == "vector" {
				if len(item.Values) == 0 {
					continue
				}
				out.Value = []interface{}{ts, format(item.Values[0])}
			} else {
				for i, v := range item.Values {
					out.Values = append(out.Values, []interface{}{ts + float64(i), format(v)})
				}
			}
			result = append(result, out)
		}

		body, _ := json.Marshal(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"resultType": resultType,
				"result":     result,
			},
		})
		w.Write(body)
	}
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
