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

package collect

import (
	"context"
	"errors"
	"time"

	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/prometheus"
	"github.com/tencent/gantry/pkg/gantry/types"

	"k8s.io/klog/v2"
)

// Store saves the collected jobs
type Store interface {
	JobExists(ctx context.Context, gitlabID int64) (bool, error)
	GhostExists(ctx context.Context, gitlabID int64) (bool, error)
	InsertGhost(ctx context.Context, gitlabID int64) error
	GetNode(ctx context.Context, uuid string) (int64, bool, error)
	InsertNode(ctx context.Context, node *types.Node) (int64, error)
	InsertJob(ctx context.Context, job *types.Job) (int64, error)
}

// MetricsSource describes pods and nodes of finished jobs
type MetricsSource interface {
	JobAnnotations(ctx context.Context, gitlabID int64, ts time.Time, defaultBuildJobs int) (*prometheus.Annotations, error)
	JobResources(ctx context.Context, pod string, ts time.Time) (*prometheus.Resources, error)
	JobUsage(ctx context.Context, pod string, start, end time.Time) (*prometheus.Usage, error)
	IsOOM(ctx context.Context, pod string, start, end time.Time, lookback time.Duration) (bool, error)
	NodeUUID(ctx context.Context, hostname string, ts time.Time) (string, error)
	NodeLabels(ctx context.Context, hostname string, ts time.Time) (*types.Node, error)
}

// CI is the ci control plane
type CI interface {
	IsGhost(gitlabID int64) (bool, error)
	StartPipeline(ref string) error
}

// Collector turns finished gitlab jobs into stored samples
type Collector struct {
	config  types.CollectConfig
	store   Store
	metrics MetricsSource
	ci      CI
}

// NewCollector new collector
func NewCollector(config types.CollectConfig, store Store, metrics MetricsSource, ci CI) *Collector {
	return &Collector{
		config:  config,
		store:   store,
		metrics: metrics,
		ci:      ci,
	}
}

// CollectJob collects a successful build job. Jobs with missing metrics are skipped
// without error, the result tells what happened.
func (c *Collector) CollectJob(ctx context.Context, hook *JobHook) (result string, err error) {
	defer func() {
		metrics.CollectionsInc(result)
	}()

	if hook.BuildStatus != types.JobStatusSuccess ||
		!isBuild(hook.BuildName, hook.BuildStage, hook.Runner.Description) {
		klog.V(4).Infof("job %d(%s) is not a successful build, skip", hook.BuildID, hook.BuildName)
		return metrics.CollectResultSkipped, nil
	}
	j, err := newJob(hook.BuildID, hook.BuildStatus, hook.Ref, hook.BuildStartedAt, hook.BuildFinishedAt)
	if err != nil {
		klog.Warningf("job %d skipped: %v", hook.BuildID, err)
		return metrics.CollectResultSkipped, nil
	}

	exists, err := c.store.JobExists(ctx, j.id)
	if err != nil {
		return metrics.CollectResultError, err
	}
	ghost, err := c.store.GhostExists(ctx, j.id)
	if err != nil {
		return metrics.CollectResultError, err
	}
	if exists || ghost {
		return metrics.CollectResultSkipped, nil
	}

	ghost, err = c.ci.IsGhost(j.id)
	if err != nil {
		return metrics.CollectResultError, err
	}
	if ghost {
		klog.V(2).Infof("job %d did not build anything, recorded as ghost", j.id)
		if err := c.store.InsertGhost(ctx, j.id); err != nil {
			return metrics.CollectResultError, err
		}
		return metrics.CollectResultGhost, nil
	}

	annotations, err := c.metrics.JobAnnotations(ctx, j.id, j.midpoint(), c.config.DefaultBuildJobs)
	if err != nil {
		return incomplete(j, err)
	}
	if err := c.insert(ctx, j, annotations, false); err != nil {
		return incomplete(j, err)
	}
	return metrics.CollectResultInserted, nil
}

// insert fetches the resources and usage of the job and saves it along with its node
func (c *Collector) insert(ctx context.Context, j *job, annotations *prometheus.Annotations, oom bool) error {
	midpoint := j.midpoint()
	resources, err := c.metrics.JobResources(ctx, annotations.Pod, midpoint)
	if err != nil {
		return err
	}
	usage, err := c.metrics.JobUsage(ctx, annotations.Pod, j.start, j.end)
	if err != nil {
		return err
	}
	node, err := c.CollectNode(ctx, resources.Node, midpoint)
	if err != nil {
		return err
	}

	record := &types.Job{
		Pod:             annotations.Pod,
		Node:            node,
		Start:           j.start.Unix(),
		End:             j.end.Unix(),
		GitlabID:        j.id,
		JobStatus:       j.status,
		Ref:             j.ref,
		PkgName:         annotations.PkgName,
		PkgVersion:      annotations.PkgVersion,
		PkgVariants:     annotations.PkgVariants,
		CompilerName:    annotations.CompilerName,
		CompilerVersion: annotations.CompilerVersion,
		Arch:            annotations.Arch,
		Stack:           annotations.Stack,
		BuildJobs:       annotations.BuildJobs,
		CPURequest:      resources.CPURequest,
		CPULimit:        resources.CPULimit,
		CPUMean:         usage.CPU.Mean,
		CPUMedian:       usage.CPU.Median,
		CPUMax:          usage.CPU.Max,
		CPUMin:          usage.CPU.Min,
		CPUStddev:       usage.CPU.Stddev,
		MemRequest:      resources.MemRequest,
		MemLimit:        resources.MemLimit,
		MemMean:         usage.Mem.Mean,
		MemMedian:       usage.Mem.Median,
		MemMax:          usage.Mem.Max,
		MemMin:          usage.Mem.Min,
		MemStddev:       usage.Mem.Stddev,
		OOM:             oom,
		RetryCount:      annotations.RetryCount,
	}
	id, err := c.store.InsertJob(ctx, record)
	if err != nil {
		return err
	}
	klog.V(2).Infof("job %d(%s@%s) inserted with id %d, oom: %v", j.id, record.PkgName, record.PkgVersion, id, oom)
	return nil
}

// CollectNode returns the store id of the node, the node is inserted if it is new
func (c *Collector) CollectNode(ctx context.Context, hostname string, ts time.Time) (int64, error) {
	uuid, err := c.metrics.NodeUUID(ctx, hostname, ts)
	if err != nil {
		return 0, err
	}
	id, found, err := c.store.GetNode(ctx, uuid)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	node, err := c.metrics.NodeLabels(ctx, hostname, ts)
	if err != nil {
		return 0, err
	}
	node.UUID = uuid
	return c.store.InsertNode(ctx, node)
}

// incomplete turns missing metrics into a skipped job, other errors are returned
func incomplete(j *job, err error) (string, error) {
	if errors.Is(err, prometheus.ErrIncompleteData) {
		klog.Warningf("job %d skipped: %v", j.id, err)
		return metrics.CollectResultIncomplete, nil
	}
	return metrics.CollectResultError, err
}
