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

package types

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// DefaultCPUCores is the cpu request when no sample is found
	DefaultCPUCores = 1.0
	// DefaultMemBytes is the memory request when no sample is found
	DefaultMemBytes = 2e9

	defaultIdealSampleSize = 5
	defaultRef             = "develop"
	defaultSuccessStatus   = "success"
	defaultMinCPUCores     = 0.25
	defaultMinMemBytes     = 1e7
	defaultLimitFactor     = 1.2
	defaultOOMRetryLimit   = 3
	defaultOOMMemFactor    = 1.2
	defaultBulkConcurrency = 8
)

// DefaultExpensiveVariants are variants which change the resource profile of a build drastically
var DefaultExpensiveVariants = []string{"cuda", "rocm", "mpi", "distributed"}

// PredictConfig group options for predictor
type PredictConfig struct {
	// IdealSampleSize is the number of builds wanted for one prediction, one less is accepted
	IdealSampleSize int `json:"ideal_sample_size"`
	// Ref is the mainline branch, only builds from it are sampled
	Ref string `json:"ref"`
	// SuccessStatus is the job status of builds to be sampled
	SuccessStatus     string   `json:"success_status"`
	ExpensiveVariants []string `json:"expensive_variants"`
	// EnsureHigher clamps predictions to the static allocation of the package
	EnsureHigher bool `json:"ensure_higher"`
	// AllocationTable is a json file replacing the built-in static allocation table
	AllocationTable string  `json:"allocation_table"`
	DefaultCPUCores float64 `json:"default_cpu_cores"`
	DefaultMemBytes float64 `json:"default_mem_bytes"`
	// MinCPUCores and MinMemBytes are the floors, predictions below are reset to the defaults
	MinCPUCores float64 `json:"min_cpu_cores"`
	MinMemBytes float64 `json:"min_mem_bytes"`
	// LimitFactor is applied to the sampled maximum usage when SampleLimits is enabled
	LimitFactor  float64 `json:"limit_factor"`
	SampleLimits bool    `json:"sample_limits"`
	// OOMRetryLimit is how many times an oom killed build gets a bumped allocation
	OOMRetryLimit int `json:"oom_retry_limit"`
	// OOMMemFactor is applied to the memory limit of an oom killed build
	OOMMemFactor    float64 `json:"oom_mem_factor"`
	BulkConcurrency int     `json:"bulk_concurrency"`
}

// InitPredictConfig validate and format predict config
func InitPredictConfig(config *PredictConfig) error {
	if config.IdealSampleSize == 0 {
		config.IdealSampleSize = defaultIdealSampleSize
	}
	if config.IdealSampleSize < 1 {
		return fmt.Errorf("invalid ideal sample size %d", config.IdealSampleSize)
	}
	if len(config.Ref) == 0 {
		config.Ref = defaultRef
	}
	if len(config.SuccessStatus) == 0 {
		config.SuccessStatus = defaultSuccessStatus
	}
	if config.ExpensiveVariants == nil {
		config.ExpensiveVariants = DefaultExpensiveVariants
	}
	// keep the configured order, it decides the order of the sql conditions
	config.ExpensiveVariants = uniqueStrings(config.ExpensiveVariants)
	if config.DefaultCPUCores == 0 {
		config.DefaultCPUCores = DefaultCPUCores
	}
	if config.DefaultMemBytes == 0 {
		config.DefaultMemBytes = DefaultMemBytes
	}
	if config.MinCPUCores == 0 {
		config.MinCPUCores = defaultMinCPUCores
	}
	if config.MinMemBytes == 0 {
		config.MinMemBytes = defaultMinMemBytes
	}
	if config.DefaultCPUCores < config.MinCPUCores || config.DefaultMemBytes < config.MinMemBytes {
		return fmt.Errorf("default request(cpu %v, mem %v) must not be lower than the floor(cpu %v, mem %v)",
			config.DefaultCPUCores, config.DefaultMemBytes, config.MinCPUCores, config.MinMemBytes)
	}
	if config.LimitFactor == 0 {
		config.LimitFactor = defaultLimitFactor
	}
	if config.OOMRetryLimit == 0 {
		config.OOMRetryLimit = defaultOOMRetryLimit
	}
	if config.OOMMemFactor == 0 {
		config.OOMMemFactor = defaultOOMMemFactor
	}
	if config.LimitFactor < 1 || config.OOMMemFactor < 1 {
		return fmt.Errorf("limit factor %v and oom memory factor %v must not be lower than 1",
			config.LimitFactor, config.OOMMemFactor)
	}
	if config.BulkConcurrency <= 0 {
		config.BulkConcurrency = defaultBulkConcurrency
	}
	return nil
}

func uniqueStrings(in []string) []string {
	seen := sets.NewString()
	out := make([]string, 0, len(in))
	for _, s := range in {
		if len(s) == 0 || seen.Has(s) {
			continue
		}
		seen.Insert(s)
		out = append(out, s)
	}
	return out
}
