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

package prometheus

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/tencent/gantry/pkg/gantry/types"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"k8s.io/klog/v2"
)

const (
	// maxResolution is the most points prometheus returns for a range query
	maxResolution = 10000
	cookieName    = "_oauth2_proxy"
)

// Series is a labeled series of values, instant queries have only one value
type Series struct {
	Labels map[string]string
	Values []float64
}

// Client queries the metrics backend
type Client struct {
	api     promv1.API
	timeout time.Duration
}

// NewClient new prometheus client, the url is the server root
func NewClient(config types.PrometheusConfig) (*Client, error) {
	if len(config.URL) == 0 {
		return nil, fmt.Errorf("prometheus url is empty")
	}

	var rt http.RoundTripper = api.DefaultRoundTripper
	if len(config.Cookie) != 0 {
		rt = &cookieRoundTripper{cookie: config.Cookie, next: rt}
	}
	client, err := api.NewClient(api.Config{
		Address:      config.URL,
		RoundTripper: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("new prometheus client err: %v", err)
	}

	return &Client{
		api:     promv1.NewAPI(client),
		timeout: config.Timeout.TimeDuration(),
	}, nil
}

// cookieRoundTripper adds the oauth2 proxy cookie to each request
type cookieRoundTripper struct {
	cookie string
	next   http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (c *cookieRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.AddCookie(&http.Cookie{Name: cookieName, Value: c.cookie})
	return c.next.RoundTrip(req)
}

// Query queries the value at the time
func (c *Client) Query(ctx context.Context, query string, ts time.Time) ([]Series, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	klog.V(4).Infof("prometheus query %s at %d", query, ts.Unix())
	result, warnings, err := c.api.Query(ctx, query, ts)
	if err != nil {
		return nil, fmt.Errorf("query %s err: %v", query, err)
	}
	if len(warnings) > 0 {
		klog.Warningf("query %s warnings: %v", query, warnings)
	}
	return toSeries(result)
}

// QueryRange queries the values between start and end, the step keeps the number of points
// under what prometheus returns
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time) ([]Series, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	r := promv1.Range{Start: start, End: end, Step: rangeStep(start, end)}
	klog.V(4).Infof("prometheus range query %s from %d to %d, step %v", query, start.Unix(), end.Unix(), r.Step)
	result, warnings, err := c.api.QueryRange(ctx, query, r)
	if err != nil {
		return nil, fmt.Errorf("range query %s err: %v", query, err)
	}
	if len(warnings) > 0 {
		klog.Warningf("range query %s warnings: %v", query, warnings)
	}
	return toSeries(result)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// rangeStep returns the smallest whole second step, at least one second
func rangeStep(start, end time.Time) time.Duration {
	step := math.Ceil(end.Sub(start).Seconds() / maxResolution)
	if step < 1 {
		step = 1
	}
	return time.Duration(step) * time.Second
}

func toSeries(value model.Value) ([]Series, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case model.Vector:
		series := make([]Series, 0, len(v))
		for _, sample := range v {
			series = append(series, Series{
				Labels: labels(sample.Metric),
				Values: []float64{float64(sample.Value)},
			})
		}
		return series, nil
	case model.Matrix:
		series := make([]Series, 0, len(v))
		for _, stream := range v {
			values := make([]float64, 0, len(stream.Values))
			for _, pair := range stream.Values {
				values = append(values, float64(pair.Value))
			}
			series = append(series, Series{
				Labels: labels(stream.Metric),
				Values: values,
			})
		}
		return series, nil
	default:
		return nil, fmt.Errorf("unsupported result type %v", value.Type())
	}
}

func labels(metric model.Metric) map[string]string {
	out := make(map[string]string, len(metric))
	for k, v := range metric {
		out[string(k)] = string(v)
	}
	return out
}
