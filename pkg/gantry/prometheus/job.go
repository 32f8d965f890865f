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
	"strconv"
	"time"

	"github.com/tencent/gantry/pkg/gantry/spec"

	"k8s.io/utils/pointer"
)

const (
	buildContainer = "build"

	annotationPrefix          = "annotation_metrics_spack_"
	annotationBuildJobs       = annotationPrefix + "job_build_jobs"
	annotationRetryCount      = annotationPrefix + "job_retry_count"
	annotationArch            = annotationPrefix + "job_spec_arch"
	annotationPkgName         = annotationPrefix + "job_spec_pkg_name"
	annotationPkgVersion      = annotationPrefix + "job_spec_pkg_version"
	annotationPkgVariants     = annotationPrefix + "job_spec_variants"
	annotationCompilerName    = annotationPrefix + "job_spec_compiler_name"
	annotationCompilerVersion = annotationPrefix + "job_spec_compiler_version"
	annotationStack           = annotationPrefix + "ci_stack_name"
)

// Annotations describes the build running in a job pod
type Annotations struct {
	Pod       string
	BuildJobs int
	Arch      string
	PkgName   string
	// PkgVariants is the variant map serialized as JSON
	PkgVariants     string
	PkgVersion      string
	CompilerName    string
	CompilerVersion string
	Stack           string
	RetryCount      int
}

// JobAnnotations returns the annotations of the pod running the gitlab job.
// defaultBuildJobs is used when the pod does not tell the build parallelism.
func (c *Client) JobAnnotations(ctx context.Context, gitlabID int64, ts time.Time,
	defaultBuildJobs int) (*Annotations, error) {
	series, err := c.Query(ctx, QueryString("kube_pod_annotations",
		Filter{Label: "annotation_gitlab_ci_job_id", Value: strconv.FormatInt(gitlabID, 10)}), ts)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: annotation data is missing", ErrIncompleteData)
	}

	labels := series[0].Labels
	var missing []string
	get := func(name string) string {
		v, ok := labels[name]
		if !ok {
			missing = append(missing, name)
		}
		return v
	}
	annotations := &Annotations{
		Pod:             get("pod"),
		Arch:            get(annotationArch),
		PkgName:         get(annotationPkgName),
		PkgVersion:      get(annotationPkgVersion),
		CompilerName:    get(annotationCompilerName),
		CompilerVersion: get(annotationCompilerVersion),
		Stack:           get(annotationStack),
		BuildJobs:       defaultBuildJobs,
	}
	variants := get(annotationPkgVariants)
	if len(missing) != 0 {
		return nil, fmt.Errorf("%w: missing annotation %v", ErrIncompleteData, missing)
	}

	annotations.PkgVariants, err = spec.ParseVariants(variants).JSON()
	if err != nil {
		return nil, fmt.Errorf("serialize variants %q err: %v", variants, err)
	}
	if v, ok := labels[annotationBuildJobs]; ok {
		if annotations.BuildJobs, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%w: invalid build jobs %q", ErrIncompleteData, v)
		}
	}
	if v, ok := labels[annotationRetryCount]; ok {
		if annotations.RetryCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%w: invalid retry count %q", ErrIncompleteData, v)
		}
	}
	return annotations, nil
}

// Resources is the requests and limits of the build container
type Resources struct {
	CPURequest float64
	// CPULimit is nil when cpu is not limited
	CPULimit   *float64
	MemRequest float64
	MemLimit   float64
	// Node is the hostname of the node the pod ran on
	Node string
}

// JobResources returns the resources of the build container. The node is taken from the
// limits series, kube_pod_labels does not carry it.
func (c *Client) JobResources(ctx context.Context, pod string, ts time.Time) (*Resources, error) {
	filters := []Filter{{Label: "container", Value: buildContainer}, {Label: "pod", Value: pod}}

	series, err := c.Query(ctx, QueryString("kube_pod_container_resource_requests", filters...), ts)
	if err != nil {
		return nil, err
	}
	requests, err := ProcessResources(series)
	if err != nil {
		return nil, err
	}

	limitSeries, err := c.Query(ctx, QueryString("kube_pod_container_resource_limits", filters...), ts)
	if err != nil {
		return nil, err
	}
	if len(limitSeries) == 0 {
		return nil, fmt.Errorf("%w: missing limits", ErrIncompleteData)
	}
	node, ok := limitSeries[0].Labels["node"]
	if !ok {
		return nil, fmt.Errorf("%w: missing node label", ErrIncompleteData)
	}
	limits, err := ProcessResources(limitSeries)
	if err != nil {
		return nil, err
	}

	cpuRequest, cpuOK := requests["cpu"]
	memRequest, memOK := requests["memory"]
	memLimit, limitOK := limits["memory"]
	if !cpuOK || !memOK || !limitOK {
		return nil, fmt.Errorf("%w: requests %v, limits %v", ErrIncompleteData, requests, limits)
	}

	res := &Resources{
		CPURequest: cpuRequest.Value,
		MemRequest: memRequest.Value,
		MemLimit:   memLimit.Value,
		Node:       node,
	}
	if cpuLimit, ok := limits["cpu"]; ok {
		res.CPULimit = pointer.Float64(cpuLimit.Value)
	}
	return res, nil
}

// Usage is the cpu (cores) and memory (bytes) usage of a job
type Usage struct {
	CPU UsageStats
	Mem UsageStats
}

// JobUsage returns the usage of the build container during the job
func (c *Client) JobUsage(ctx context.Context, pod string, start, end time.Time) (*Usage, error) {
	memSeries, err := c.QueryRange(ctx, QueryString("container_memory_working_set_bytes",
		Filter{Label: "container", Value: buildContainer}, Filter{Label: "pod", Value: pod}), start, end)
	if err != nil {
		return nil, err
	}
	mem, err := ProcessUsage(memSeries)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	cpuSeries, err := c.QueryRange(ctx, fmt.Sprintf(
		"rate(container_cpu_usage_seconds_total{pod='%s', container='%s'}[90s])", pod, buildContainer),
		start, end)
	if err != nil {
		return nil, err
	}
	cpu, err := ProcessUsage(cpuSeries)
	if err != nil {
		return nil, fmt.Errorf("cpu: %w", err)
	}

	return &Usage{CPU: *cpu, Mem: *mem}, nil
}

// IsOOM checks if the build container was killed for running out of memory. The terminated
// reason may be reported after the job ended, so the query extends past the end by lookback.
func (c *Client) IsOOM(ctx context.Context, pod string, start, end time.Time, lookback time.Duration) (bool, error) {
	series, err := c.QueryRange(ctx, QueryString("kube_pod_container_status_last_terminated_reason",
		Filter{Label: "container", Value: buildContainer},
		Filter{Label: "pod", Value: pod},
		Filter{Label: "reason", Value: "OOMKilled"}), start, end.Add(lookback))
	if err != nil {
		return false, err
	}
	return len(series) > 0, nil
}
