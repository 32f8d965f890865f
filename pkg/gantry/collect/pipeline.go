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

	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/types"

	"k8s.io/klog/v2"
)

// HandlePipeline collects the builds of a failed pipeline which ran out of memory, the next
// prediction for them takes the oom path. The pipeline is restarted once if enabled, the
// returned bool tells if it was.
func (c *Collector) HandlePipeline(ctx context.Context, hook *PipelineHook) (bool, error) {
	attrs := hook.ObjectAttributes
	if attrs.Status != types.JobStatusFailed {
		return false, nil
	}

	oomed := 0
	for i := range hook.Builds {
		build := &hook.Builds[i]
		if build.Status != types.JobStatusFailed || !isBuild(build.Name, build.Stage, build.Runner.Description) {
			continue
		}
		inserted, err := c.collectOOM(ctx, build, attrs.Ref)
		if err != nil {
			return false, err
		}
		if inserted {
			oomed++
		}
	}
	if oomed == 0 {
		return false, nil
	}

	klog.Infof("pipeline %d of %s has %d oom killed builds", attrs.ID, attrs.Ref, oomed)
	if !c.config.RestartOOMPipelines {
		return false, nil
	}
	if err := c.ci.StartPipeline(attrs.Ref); err != nil {
		return false, err
	}
	metrics.PipelineRestartsInc()
	return true, nil
}

// collectOOM saves the build if it was killed for running out of memory
func (c *Collector) collectOOM(ctx context.Context, build *Build, ref string) (inserted bool, err error) {
	result := metrics.CollectResultSkipped
	defer func() {
		metrics.CollectionsInc(result)
	}()

	j, err := newJob(build.ID, types.JobStatusFailed, ref, build.StartedAt, build.FinishedAt)
	if err != nil {
		klog.Warningf("build %d skipped: %v", build.ID, err)
		return false, nil
	}
	exists, err := c.store.JobExists(ctx, j.id)
	if err != nil {
		result = metrics.CollectResultError
		return false, err
	}
	if exists {
		return false, nil
	}

	annotations, err := c.metrics.JobAnnotations(ctx, j.id, j.midpoint(), c.config.DefaultBuildJobs)
	if err != nil {
		result, err = incomplete(j, err)
		return false, err
	}
	oom, err := c.metrics.IsOOM(ctx, annotations.Pod, j.start, j.end, c.config.OOMLookback.TimeDuration())
	if err != nil {
		result = metrics.CollectResultError
		return false, err
	}
	if !oom {
		klog.V(4).Infof("build %d failed without running out of memory", j.id)
		return false, nil
	}

	if err := c.insert(ctx, j, annotations, true); err != nil {
		result, err = incomplete(j, err)
		return false, err
	}
	result = metrics.CollectResultInserted
	return true, nil
}
