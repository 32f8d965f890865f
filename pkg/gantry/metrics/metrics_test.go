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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gotest.tools/assert"
)

type fakeCounter map[string]int64

func (f fakeCounter) CountRows(ctx context.Context, table string) (int64, error) {
	count, ok := f[table]
	if !ok {
		return 0, fmt.Errorf("unknown table %s", table)
	}
	return count, nil
}

func gather(t *testing.T, reg *prometheus.Registry) map[string][]*dto.Metric {
	families, err := reg.Gather()
	assert.NilError(t, err)
	out := map[string][]*dto.Metric{}
	for _, family := range families {
		out[family.GetName()] = family.GetMetric()
	}
	return out
}

// TestTotalMetrics test the counters
func TestTotalMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterTotalMetrics(reg)

	PredictionsInc("sample")
	PredictionsInc("sample")
	PredictionsInc("default")
	PredictionDurationObserve(10 * time.Millisecond)
	CollectionsInc(CollectResultInserted)
	PipelineRestartsInc()

	families := gather(t, reg)
	predictions := map[string]float64{}
	for _, m := range families["gantry_predictions_total"] {
		predictions[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.DeepEqual(t, predictions, map[string]float64{"sample": 2, "default": 1})

	assert.Equal(t, families["gantry_prediction_duration_seconds"][0].GetHistogram().GetSampleCount(), uint64(1))
	assert.Equal(t, families["gantry_collections_total"][0].GetCounter().GetValue(), float64(1))
	assert.Equal(t, families["gantry_pipeline_restarts_total"][0].GetCounter().GetValue(), float64(1))
}

// TestStoreCollector test the store rows collector
func TestStoreCollector(t *testing.T) {
	counter := fakeCounter{"jobs": 42, "nodes": 3}
	collector := NewStoreCollector(counter, []string{"jobs", "nodes", "ghost_jobs"}, time.Minute)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	collector.(*storeMetricsCollector).refresh()

	families := gather(t, reg)
	rows := map[string]float64{}
	for _, m := range families["gantry_store_rows"] {
		rows[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.DeepEqual(t, rows, map[string]float64{"jobs": 42, "nodes": 3})
	assert.Equal(t, families["gantry_store_scrape_error"][0].GetGauge().GetValue(), float64(1))

	counter["ghost_jobs"] = 0
	collector.(*storeMetricsCollector).refresh()
	families = gather(t, reg)
	assert.Equal(t, len(families["gantry_store_rows"]), 3)
	assert.Equal(t, families["gantry_store_scrape_error"][0].GetGauge().GetValue(), float64(0))
}
