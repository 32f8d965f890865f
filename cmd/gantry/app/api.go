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

package app

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/predict"
	"github.com/tencent/gantry/pkg/gantry/server"
	"github.com/tencent/gantry/pkg/gantry/types"
	"github.com/tencent/gantry/pkg/version/verflag"

	"github.com/emicklei/go-restful"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

// pinger checks the store is reachable
type pinger interface {
	Ping(ctx context.Context) error
}

// ApiOption describe API related data
type ApiOption struct {
	// Profiling enable pprof debug
	Profiling       bool
	InsecureAddress string
	InsecurePort    string
	// prometheusRegistry used for register prometheus metrics
	prometheusRegistry *prometheus.Registry
}

// AddFlags describe API related flags
func (a *ApiOption) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&a.Profiling, "profiling", true,
		"Enable profiling via web interface host:port/debug/pprof/. Default is true")
	fs.StringVar(&a.InsecureAddress, "insecure-bind-address", "0.0.0.0",
		"The IP address on which to serve the --insecure-port. Defaults to all addresses")
	fs.StringVar(&a.InsecurePort, "insecure-port", "8080",
		"The port on which to serve unsecured, unauthenticated access. Default 8080")
}

// Init registers the service metrics
func (a *ApiOption) Init(storeMetrics prometheus.Collector) error {
	a.prometheusRegistry = prometheus.NewRegistry()
	a.prometheusRegistry.MustRegister(collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterTotalMetrics(a.prometheusRegistry)
	return a.prometheusRegistry.Register(storeMetrics)
}

// RegisterServer register API route and start listening
func (a *ApiOption) RegisterServer(gantry *types.GantryConfig, predictor predict.Interface,
	collector server.Collector, store pinger) error {
	mux := http.NewServeMux()
	if a.Profiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(a.prometheusRegistry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError}))

	mux.HandleFunc("/klog", func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query().Get("v")
		if v != "" {
			flag.Lookup("v").Value.Set(v)
			klog.Infof("set log level to %v", v)
		}
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			klog.Errorf("health check failed: %v", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	container := restful.NewContainer()
	container.ServeMux = mux
	container.Router(restful.CurlyRouter{})
	cors := restful.CrossOriginResourceSharing{
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin", server.HeaderRequestID},
		AllowedMethods: []string{"GET", "POST"},
		CookiesAllowed: false,
		Container:      container,
	}
	container.Filter(cors.Filter)
	container.Filter(container.OPTIONSFilter)

	// register version api
	ws := new(restful.WebService)
	ws.Path("/version").Produces(restful.MIME_JSON)
	ws.Route(ws.GET("").To(verflag.RequestVersion))
	container.Add(ws)

	// prediction and webhook api
	server.RegisterGantryService(container, gantry.Server, gantry.Gitlab.WebhookToken, predictor, collector)

	handler := http.TimeoutHandler(mux, gantry.Server.RequestTimeout.TimeDuration(), "time out")
	httpServer := &http.Server{
		Handler:        handler,
		MaxHeaderBytes: 1 << 20,
	}

	insecureLocation := net.JoinHostPort(a.InsecureAddress, a.InsecurePort)
	listener, err := net.Listen("tcp", insecureLocation)
	if err != nil {
		return fmt.Errorf("listen(%s) err: %v", insecureLocation, err)
	}
	klog.Infof("serving on %s", insecureLocation)

	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			klog.Errorf("http server err: %v", err)
		}
	}()
	return nil
}
