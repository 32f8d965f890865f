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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// RowCounter counts the rows of a table
type RowCounter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// storeMetricsCollector exports the row number of each table. Counting is done periodically
// rather than on scraping.
type storeMetricsCollector struct {
	counter  RowCounter
	tables   []string
	interval time.Duration

	lock   sync.RWMutex
	rows   map[string]float64
	failed bool

	desc   *prometheus.Desc
	errors prometheus.Gauge
}

// StoreCollector is the store collector, Run must be called to refresh the values
type StoreCollector interface {
	prometheus.Collector
	Run(stop <-chan struct{})
	Name() string
}

// NewStoreCollector new store rows collector
func NewStoreCollector(counter RowCounter, tables []string, interval time.Duration) StoreCollector {
	return &storeMetricsCollector{
		counter:  counter,
		tables:   tables,
		interval: interval,
		rows:     make(map[string]float64),
		desc: prometheus.NewDesc("gantry_store_rows", "number of rows of the store tables",
			[]string{"table"}, nil),
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_store_scrape_error",
			Help: "1 if there was an error while counting store rows, 0 otherwise",
		}),
	}
}

var _ prometheus.Collector = &storeMetricsCollector{}

// Name module name
func (sc *storeMetricsCollector) Name() string {
	return "ModuleStoreMetrics"
}

// Run refreshes the row numbers until stopped
func (sc *storeMetricsCollector) Run(stop <-chan struct{}) {
	klog.V(2).Infof("store metrics refreshed every %v", sc.interval)
	go wait.Until(sc.refresh, sc.interval, stop)
}

func (sc *storeMetricsCollector) refresh() {
	rows := make(map[string]float64, len(sc.tables))
	failed := false
	for _, table := range sc.tables {
		count, err := sc.counter.CountRows(context.Background(), table)
		if err != nil {
			klog.Errorf("count rows of %s err: %v", table, err)
			failed = true
			continue
		}
		rows[table] = float64(count)
	}

	sc.lock.Lock()
	sc.rows = rows
	sc.failed = failed
	sc.lock.Unlock()
}

// Describe implements prometheus.Collector
func (sc *storeMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	sc.errors.Describe(ch)
	ch <- sc.desc
}

// Collect implements prometheus.Collector
func (sc *storeMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	sc.lock.RLock()
	defer sc.lock.RUnlock()

	if sc.failed {
		sc.errors.Set(1)
	} else {
		sc.errors.Set(0)
	}
	sc.errors.Collect(ch)

	for table, count := range sc.rows {
		ch <- prometheus.MustNewConstMetric(sc.desc, prometheus.GaugeValue, count, table)
	}
}
