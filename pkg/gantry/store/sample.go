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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tencent/gantry/pkg/gantry/types"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// filterColumns are the columns accepted in sample conditions
var filterColumns = sets.NewString(
	types.ColumnPkgName,
	types.ColumnPkgVersion,
	types.ColumnPkgVariants,
	types.ColumnCompilerName,
	types.ColumnCompilerVersion,
	types.ColumnArch,
)

const sampleColumns = "cpu_mean, cpu_max, mem_mean, mem_max, cpu_request, cpu_limit, " +
	"mem_request, mem_limit, retry_count, oom"

// QuerySamples returns the latest jobs matching the filter, newest first
func (s *Store) QuerySamples(ctx context.Context, filter *types.SampleFilter) ([]types.HistoricalSample, error) {
	query, args, err := sampleQuery(filter)
	if err != nil {
		return nil, err
	}
	klog.V(5).Infof("sample query: %s %v", query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %v", err)
	}
	defer rows.Close()

	var samples []types.HistoricalSample
	for rows.Next() {
		var sample types.HistoricalSample
		var cpuLimit sql.NullFloat64
		if err := rows.Scan(&sample.CPUMean, &sample.CPUMax, &sample.MemMean, &sample.MemMax,
			&sample.CPURequest, &cpuLimit, &sample.MemRequest, &sample.MemLimit,
			&sample.RetryCount, &sample.OOM); err != nil {
			return nil, fmt.Errorf("scan sample: %v", err)
		}
		if cpuLimit.Valid {
			limit := cpuLimit.Float64
			sample.CPULimit = &limit
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %v", err)
	}
	return samples, nil
}

func sampleQuery(filter *types.SampleFilter) (string, []interface{}, error) {
	var where []string
	var args []interface{}

	if len(filter.Ref) != 0 {
		where = append(where, "ref = ?")
		args = append(args, filter.Ref)
	}
	if len(filter.Status) != 0 {
		where = append(where, "job_status = ?")
		args = append(args, filter.Status)
	}
	for _, cond := range filter.Conditions {
		if !filterColumns.Has(cond.Column) {
			return "", nil, fmt.Errorf("column %s can not be used as sample filter", cond.Column)
		}
		where = append(where, cond.Column+" = ?")
		args = append(args, cond.Value)
	}
	for _, variant := range filter.Variants {
		path := fmt.Sprintf(`$."%s"`, variant.Name)
		// a disabled variant is usually not recorded at all
		if disabled, ok := variant.Value.(bool); variant.Value == nil || (ok && !disabled) {
			where = append(where, "(json_extract(pkg_variants, ?) IS NULL OR json_extract(pkg_variants, ?) = 0)")
			args = append(args, path, path)
			continue
		}
		value, err := variantValue(variant.Value)
		if err != nil {
			return "", nil, fmt.Errorf("variant %s: %v", variant.Name, err)
		}
		where = append(where, "json_extract(pkg_variants, ?) = ?")
		args = append(args, path, value)
	}

	query := "SELECT " + sampleColumns + " FROM " + tableJobs
	if len(where) != 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY end DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return query, args, nil
}

// variantValue converts a variant to what json_extract returns for it: integers for
// booleans, text for strings and minified json for lists
func variantValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return v, nil
	case []string, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("unsupported variant value %T", value)
	}
}
