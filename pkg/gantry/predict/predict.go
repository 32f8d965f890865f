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

package predict

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tencent/gantry/pkg/gantry/allocation"
	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/types"

	"github.com/montanaflynn/stats"
	v1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	"k8s.io/utils/pointer"
)

// variables handed to the ci job
const (
	VarCPURequest    = "KUBERNETES_CPU_REQUEST"
	VarMemoryRequest = "KUBERNETES_MEMORY_REQUEST"
	VarCPULimit      = "KUBERNETES_CPU_LIMIT"
	VarMemoryLimit   = "KUBERNETES_MEMORY_LIMIT"
	VarRetryCount    = "GANTRY_RETRY_COUNT"
)

// how a prediction is made
const (
	PathOOM     = "oom"
	PathSample  = "sample"
	PathDefault = "default"
)

// Prediction is the allocation handed to the ci job
type Prediction struct {
	Variables map[string]string `json:"variables"`
	Path      string            `json:"-"`
}

// resources is the allocation in cores and bytes, before unit conversion
type resources struct {
	cpuRequest float64
	memRequest float64
	cpuLimit   *float64
	memLimit   *float64
	retryCount *int
}

// predictor implements Interface. It reads the store only, so it is safe for concurrent use.
type predictor struct {
	config      types.PredictConfig
	store       SampleStore
	selector    *Selector
	allocations *allocation.Table
}

var _ Interface = &predictor{}

// NewPredictor creates a predictor, the config must be initialized by types.InitPredictConfig
func NewPredictor(config types.PredictConfig, store SampleStore, allocations *allocation.Table) Interface {
	p := &predictor{
		config:      config,
		store:       store,
		allocations: allocations,
	}
	p.selector = NewSelector(store, &p.config)
	return p
}

// Predict returns the allocation of the build. A build killed by oom recently gets a bumped
// allocation, otherwise the allocation comes from the sample of historical builds.
func (p *predictor) Predict(ctx context.Context, key *spec.BuildKey) (*Prediction, error) {
	start := time.Now()
	defer func() {
		metrics.PredictionDurationObserve(time.Since(start))
	}()

	res, err := p.oomRetry(ctx, key)
	if err != nil {
		return nil, err
	}
	if res != nil {
		p.applyFloors(key, res)
		return p.finish(key, res, PathOOM), nil
	}

	selection, err := p.selector.Select(ctx, key)
	if err != nil {
		klog.Errorf("select sample for %s failed: %v", key.PkgName, err)
		return nil, err
	}

	path := PathSample
	if len(selection.Samples) == 0 {
		path = PathDefault
		res = &resources{cpuRequest: p.config.DefaultCPUCores, memRequest: p.config.DefaultMemBytes}
	} else {
		res = p.fromSample(selection.Samples)
	}
	if p.config.EnsureHigher {
		p.ensureHigher(key, res)
	}
	p.applyFloors(key, res)
	return p.finish(key, res, path), nil
}

// oomRetry checks if the latest build matching the whole key was killed by oom. Nil is returned
// when it was not, or when it has been retried too many times.
func (p *predictor) oomRetry(ctx context.Context, key *spec.BuildKey) (*resources, error) {
	variantsJSON, err := key.PkgVariants.JSON()
	if err != nil {
		return nil, fmt.Errorf("serialize variants of %s: %v", key.PkgName, err)
	}
	conditions := []types.Condition{
		{Column: types.ColumnPkgName, Value: key.PkgName},
		{Column: types.ColumnPkgVersion, Value: key.PkgVersion},
		{Column: types.ColumnPkgVariants, Value: variantsJSON},
		{Column: types.ColumnCompilerName, Value: key.CompilerName},
		{Column: types.ColumnCompilerVersion, Value: key.CompilerVersion},
	}
	if len(key.Arch) != 0 {
		conditions = append(conditions, types.Condition{Column: types.ColumnArch, Value: key.Arch})
	}

	latest, err := p.store.QuerySamples(ctx, &types.SampleFilter{Conditions: conditions, Limit: 1})
	if err != nil {
		klog.Errorf("query latest build of %s failed: %v", key.PkgName, err)
		return nil, err
	}
	if len(latest) == 0 || !latest[0].OOM {
		return nil, nil
	}
	last := latest[0]
	if last.RetryCount >= p.config.OOMRetryLimit {
		klog.Warningf("%s has been retried %d times after oom, fall back to the sample",
			key.String(), last.RetryCount)
		return nil, nil
	}

	memLimit := last.MemLimit
	if last.MemMax > memLimit {
		memLimit = last.MemMax
	}
	klog.V(2).Infof("%s was killed by oom, retry %d with memory limit %.0f bumped by %v",
		key.String(), last.RetryCount+1, memLimit, p.config.OOMMemFactor)
	return &resources{
		cpuRequest: last.CPURequest,
		memRequest: last.MemRequest,
		cpuLimit:   last.CPULimit,
		memLimit:   pointer.Float64(memLimit * p.config.OOMMemFactor),
		retryCount: pointer.Int(last.RetryCount + 1),
	}, nil
}

// fromSample averages the mean usages, limits come from the maximum usages.
// The sample is never empty.
func (p *predictor) fromSample(samples []types.HistoricalSample) *resources {
	cpuMeans := make(stats.Float64Data, 0, len(samples))
	memMeans := make(stats.Float64Data, 0, len(samples))
	cpuMaxes := make(stats.Float64Data, 0, len(samples))
	memMaxes := make(stats.Float64Data, 0, len(samples))
	for _, s := range samples {
		cpuMeans = append(cpuMeans, s.CPUMean)
		memMeans = append(memMeans, s.MemMean)
		cpuMaxes = append(cpuMaxes, s.CPUMax)
		memMaxes = append(memMaxes, s.MemMax)
	}

	res := &resources{}
	res.cpuRequest, _ = stats.Mean(cpuMeans)
	res.memRequest, _ = stats.Mean(memMeans)
	if p.config.SampleLimits {
		cpuMax, _ := stats.Max(cpuMaxes)
		memMax, _ := stats.Max(memMaxes)
		res.cpuLimit = pointer.Float64(cpuMax * p.config.LimitFactor)
		res.memLimit = pointer.Float64(memMax * p.config.LimitFactor)
	}
	return res
}

// ensureHigher keeps the requests at least as high as the static allocation of the package
func (p *predictor) ensureHigher(key *spec.BuildKey, res *resources) {
	alloc, ok := p.allocations.Get(key.PkgName)
	if !ok {
		return
	}
	if alloc.CPURequest > res.cpuRequest {
		res.cpuRequest = alloc.CPURequest
	}
	if alloc.MemRequest > res.memRequest {
		res.memRequest = alloc.MemRequest
	}
}

// applyFloors resets requests under the floors to the defaults
func (p *predictor) applyFloors(key *spec.BuildKey, res *resources) {
	if res.cpuRequest < p.config.MinCPUCores {
		klog.Warningf("cpu request %v of %s is under %v cores, reset to %v",
			res.cpuRequest, key.PkgName, p.config.MinCPUCores, p.config.DefaultCPUCores)
		res.cpuRequest = p.config.DefaultCPUCores
	}
	if res.memRequest < p.config.MinMemBytes {
		klog.Warningf("memory request %v of %s is under %v bytes, reset to %v",
			res.memRequest, key.PkgName, p.config.MinMemBytes, p.config.DefaultMemBytes)
		res.memRequest = p.config.DefaultMemBytes
	}
	// a limit lower than the request is rejected by the scheduler
	if res.cpuLimit != nil && *res.cpuLimit < res.cpuRequest {
		res.cpuLimit = pointer.Float64(res.cpuRequest)
	}
	if res.memLimit != nil && *res.memLimit < res.memRequest {
		res.memLimit = pointer.Float64(res.memRequest)
	}
}

func (p *predictor) finish(key *spec.BuildKey, res *resources, path string) *Prediction {
	metrics.PredictionsInc(path)

	requests := resourceList(res.cpuRequest, res.memRequest)
	variables := map[string]string{
		VarCPURequest:    FormatCPU(requests[v1.ResourceCPU]),
		VarMemoryRequest: FormatMemory(requests[v1.ResourceMemory]),
	}
	if res.cpuLimit != nil {
		variables[VarCPULimit] = FormatCPU(CPUQuantity(*res.cpuLimit))
	}
	if res.memLimit != nil {
		variables[VarMemoryLimit] = FormatMemory(MemoryQuantity(*res.memLimit))
	}
	if res.retryCount != nil {
		variables[VarRetryCount] = strconv.Itoa(*res.retryCount)
	}
	klog.V(4).Infof("predicted %s by %s: %v", key.String(), path, variables)
	return &Prediction{Variables: variables, Path: path}
}
