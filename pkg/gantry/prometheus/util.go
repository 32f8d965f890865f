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
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

// ErrIncompleteData means the metrics backend has no usable data for the object,
// which is common for jobs that are too short to be scraped
var ErrIncompleteData = errors.New("incomplete data")

// Filter is a label matcher, filters are rendered in the given order
type Filter struct {
	Label string
	Value string
}

// QueryString renders metric{label1="value1", label2="value2"}
func QueryString(metric string, filters ...Filter) string {
	items := make([]string, 0, len(filters))
	for _, f := range filters {
		items = append(items, fmt.Sprintf("%s=%q", f.Label, f.Value))
	}
	return fmt.Sprintf("%s{%s}", metric, strings.Join(items, ", "))
}

// Resource is a value of kube_pod_container_resource_requests or limits
type Resource struct {
	Unit  string
	Value float64
}

// ProcessResources converts resource series to resource name -> value, later duplicates win
func ProcessResources(series []Series) (map[string]Resource, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: resource data is missing", ErrIncompleteData)
	}

	resources := make(map[string]Resource, len(series))
	for _, s := range series {
		if len(s.Values) == 0 {
			continue
		}
		resources[s.Labels["resource"]] = Resource{
			Unit:  s.Labels["unit"],
			Value: s.Values[len(s.Values)-1],
		}
	}
	return resources, nil
}

// UsageStats summarizes a usage series
type UsageStats struct {
	Mean   float64
	Median float64
	Max    float64
	Min    float64
	// Stddev is the population standard deviation, the whole run is known
	Stddev float64
}

// ProcessUsage computes the statistics of the first series
func ProcessUsage(series []Series) (*UsageStats, error) {
	if len(series) == 0 || len(series[0].Values) == 0 {
		return nil, fmt.Errorf("%w: usage data is missing", ErrIncompleteData)
	}
	values := stats.Float64Data(series[0].Values)

	var (
		usage = &UsageStats{}
		err   error
	)
	if usage.Mean, err = stats.Mean(values); err != nil {
		return nil, fmt.Errorf("%w: mean: %v", ErrIncompleteData, err)
	}
	if usage.Median, err = stats.Median(values); err != nil {
		return nil, fmt.Errorf("%w: median: %v", ErrIncompleteData, err)
	}
	if usage.Max, err = stats.Max(values); err != nil {
		return nil, fmt.Errorf("%w: max: %v", ErrIncompleteData, err)
	}
	if usage.Min, err = stats.Min(values); err != nil {
		return nil, fmt.Errorf("%w: min: %v", ErrIncompleteData, err)
	}
	if usage.Stddev, err = stats.StandardDeviationPopulation(values); err != nil {
		return nil, fmt.Errorf("%w: stddev: %v", ErrIncompleteData, err)
	}

	if usage.Stddev == 0 || usage.Mean == 0 || math.IsNaN(usage.Stddev) {
		return nil, fmt.Errorf("%w: usage data is invalid", ErrIncompleteData)
	}
	return usage, nil
}
