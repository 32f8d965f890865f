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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// collection results
const (
	CollectResultInserted   = "inserted"
	CollectResultSkipped    = "skipped"
	CollectResultGhost      = "ghost"
	CollectResultIncomplete = "incomplete"
	CollectResultError      = "error"
)

var (
	metricNamePredictions        = "predictions"
	metricNamePredictionDuration = "predictionDuration"
	metricNameCollections        = "collections"
	metricNamePipelineRestarts   = "pipelineRestarts"

	totalMetrics = map[string]prometheus.Collector{
		// predictions counts predictions by the way they are made: oom, sample or default
		metricNamePredictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_predictions_total",
			Help: "number of predictions by path",
		}, []string{"path"}),

		metricNamePredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gantry_prediction_duration_seconds",
			Help:    "time spent on one prediction, including store queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		// collections counts webhook jobs by result
		metricNameCollections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_collections_total",
			Help: "number of collected jobs by result",
		}, []string{"result"}),

		metricNamePipelineRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gantry_pipeline_restarts_total",
			Help: "number of pipelines restarted after oom",
		}),
	}
)

// RegisterTotalMetrics registers total metrics
func RegisterTotalMetrics(reg prometheus.Registerer) {
	for _, metric := range totalMetrics {
		reg.MustRegister(metric)
	}
}

// PredictionsInc increases the prediction number of the path
func PredictionsInc(path string) {
	predictions := totalMetrics[metricNamePredictions].(*prometheus.CounterVec)
	predictions.WithLabelValues(path).Inc()
}

// PredictionDurationObserve records the duration of one prediction
func PredictionDurationObserve(d time.Duration) {
	totalMetrics[metricNamePredictionDuration].(prometheus.Histogram).Observe(d.Seconds())
}

// CollectionsInc increases the collected job number of the result
func CollectionsInc(result string) {
	collections := totalMetrics[metricNameCollections].(*prometheus.CounterVec)
	collections.WithLabelValues(result).Inc()
}

// PipelineRestartsInc increases the restarted pipeline number
func PipelineRestartsInc() {
	totalMetrics[metricNamePipelineRestarts].(prometheus.Counter).Inc()
}
