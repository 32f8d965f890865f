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
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/tencent/gantry/pkg/gantry/metrics"
	"github.com/tencent/gantry/pkg/gantry/prometheus"
	"github.com/tencent/gantry/pkg/gantry/prometheus/fake"
	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/store"
	"github.com/tencent/gantry/pkg/gantry/types"
	"github.com/tencent/gantry/pkg/util/times"

	"gotest.tools/assert"
)

const (
	validBuildName = "gmsh@4.8.4 /jcpkeyj %gcc@11.4.0 arch=linux-ubuntu20.04-x86_64_v3 e4s"
	validRef       = "pr42264_bugfix/mathomp4/hdf5-appleclang15"
)

type fakeCI struct {
	ghosts    map[int64]bool
	pipelines []string
	err       error
}

func (f *fakeCI) IsGhost(gitlabID int64) (bool, error) {
	return f.ghosts[gitlabID], f.err
}

func (f *fakeCI) StartPipeline(ref string) error {
	if f.err != nil {
		return f.err
	}
	f.pipelines = append(f.pipelines, ref)
	return nil
}

type testEnv struct {
	collector *Collector
	store     *store.Store
	server    *fake.Server
	ci        *fakeCI
}

func newTestEnv(t *testing.T, restart bool) *testEnv {
	s, err := store.Open(types.StoreConfig{DBFile: filepath.Join(t.TempDir(), "gantry.db")})
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })

	server := fake.NewServer()
	t.Cleanup(server.Close)
	server.LoadJob()
	client, err := prometheus.NewClient(types.PrometheusConfig{
		URL:     server.URL,
		Timeout: times.Duration(5 * time.Second),
	})
	assert.NilError(t, err)

	ci := &fakeCI{ghosts: map[int64]bool{}}
	config := types.CollectConfig{
		DefaultBuildJobs:    16,
		OOMLookback:         times.Duration(10 * time.Minute),
		RestartOOMPipelines: restart,
	}
	return &testEnv{
		collector: NewCollector(config, s, client, ci),
		store:     s,
		server:    server,
		ci:        ci,
	}
}

func validJobHook() *JobHook {
	return &JobHook{
		BuildID:         fake.JobGitlabID,
		BuildName:       validBuildName,
		BuildStage:      "stage-1",
		BuildStatus:     "success",
		BuildStartedAt:  "2024-01-24 17:24:06 UTC",
		BuildFinishedAt: "2024-01-24 17:47:00 UTC",
		Ref:             validRef,
		Runner:          Runner{Description: "aws"},
	}
}

func failedPipelineHook(builds int) *PipelineHook {
	hook := &PipelineHook{
		ObjectAttributes: PipelineAttributes{ID: 1, Status: "failed", Ref: validRef},
	}
	for i := 0; i < builds; i++ {
		hook.Builds = append(hook.Builds, Build{
			ID:         fake.JobGitlabID,
			Name:       validBuildName,
			Stage:      "stage-1",
			Status:     "failed",
			StartedAt:  "2024-01-24 17:24:06 UTC",
			FinishedAt: "2024-01-24 17:47:00 UTC",
			Runner:     Runner{Description: "aws"},
		})
	}
	return hook
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

// expectJob checks the stored job against the recorded one
func expectJob(t *testing.T, got *types.Job, status string, oom bool) {
	variants, err := spec.ParseVariants(fake.JobVariants).JSON()
	assert.NilError(t, err)

	assert.Assert(t, closeTo(got.CPUMean, 1.899768349523097), "cpu mean %v", got.CPUMean)
	assert.Assert(t, closeTo(got.CPUStddev, 1.7602635378120381), "cpu stddev %v", got.CPUStddev)
	assert.Assert(t, closeTo(got.MemMean, 143698407.6190476), "mem mean %v", got.MemMean)
	assert.Assert(t, closeTo(got.MemStddev, 252073065.82263485), "mem stddev %v", got.MemStddev)
	got.CPUMean, got.CPUStddev, got.MemMean, got.MemStddev = 0, 0, 0, 0

	assert.DeepEqual(t, got, &types.Job{
		ID:              got.ID,
		Pod:             fake.JobPod,
		Node:            got.Node,
		Start:           1706117046,
		End:             1706118420,
		GitlabID:        fake.JobGitlabID,
		JobStatus:       status,
		Ref:             validRef,
		PkgName:         "gmsh",
		PkgVersion:      "4.8.4",
		PkgVariants:     variants,
		CompilerName:    "gcc",
		CompilerVersion: "11.4.0",
		Arch:            "linux",
		Stack:           "e4s",
		BuildJobs:       16,
		CPURequest:      0.75,
		CPUMedian:       0.2971597591741076,
		CPUMax:          4.128116379389054,
		CPUMin:          0.2483743618267752,
		MemRequest:      2e9,
		MemLimit:        48e9,
		MemMedian:       2785280,
		MemMax:          594620416,
		MemMin:          2785280,
		OOM:             oom,
	})
}

// TestCollectJobSkipped test jobs which are not collected
func TestCollectJobSkipped(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	cases := []struct {
		describe string
		modify   func(hook *JobHook)
	}{
		{describe: "failed", modify: func(hook *JobHook) { hook.BuildStatus = "failed" }},
		{describe: "generate stage", modify: func(hook *JobHook) { hook.BuildStage = "stage-generate" }},
		{describe: "uo runner", modify: func(hook *JobHook) { hook.Runner.Description = "uo-blabla1821" }},
		{describe: "not a build", modify: func(hook *JobHook) { hook.BuildName = "rebuild-index" }},
		{describe: "not started", modify: func(hook *JobHook) { hook.BuildStartedAt = "" }},
		{describe: "not utc", modify: func(hook *JobHook) { hook.BuildFinishedAt = "2024-01-24 17:47:00 PST" }},
	}
	for _, c := range cases {
		hook := validJobHook()
		c.modify(hook)
		result, err := env.collector.CollectJob(ctx, hook)
		assert.NilError(t, err, c.describe)
		assert.Equal(t, result, metrics.CollectResultSkipped, c.describe)
	}
	assert.Equal(t, len(env.server.Requests()), 0)
}

// TestCollectJobGhost test jobs which did not build are recorded once
func TestCollectJobGhost(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.ci.ghosts[fake.JobGitlabID] = true

	result, err := env.collector.CollectJob(ctx, validJobHook())
	assert.NilError(t, err)
	assert.Equal(t, result, metrics.CollectResultGhost)
	ghost, err := env.store.GhostExists(ctx, fake.JobGitlabID)
	assert.NilError(t, err)
	assert.Assert(t, ghost)

	result, err = env.collector.CollectJob(ctx, validJobHook())
	assert.NilError(t, err)
	assert.Equal(t, result, metrics.CollectResultSkipped)
	assert.Equal(t, len(env.server.Requests()), 0)
}

// TestCollectJobInserted test a complete job is saved with its node
func TestCollectJobInserted(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	result, err := env.collector.CollectJob(ctx, validJobHook())
	assert.NilError(t, err)
	assert.Equal(t, result, metrics.CollectResultInserted)

	job, err := env.store.GetJob(ctx, fake.JobGitlabID)
	assert.NilError(t, err)
	expectJob(t, job, types.JobStatusSuccess, false)

	nodeID, found, err := env.store.GetNode(ctx, fake.JobNodeUUID)
	assert.NilError(t, err)
	assert.Assert(t, found)
	assert.Equal(t, job.Node, nodeID)

	// the annotation query is made at the middle of the job
	first := env.server.Requests()[0]
	assert.Equal(t, first.Query, fake.QueryAnnotations)

	result, err = env.collector.CollectJob(ctx, validJobHook())
	assert.NilError(t, err)
	assert.Equal(t, result, metrics.CollectResultSkipped)
}

// TestCollectJobIncomplete test jobs with missing metrics are skipped without error
func TestCollectJobIncomplete(t *testing.T) {
	queries := []string{
		fake.QueryAnnotations,
		fake.QueryRequests,
		fake.QueryLimits,
		fake.QueryMemUsage,
		fake.QueryCPUUsage,
		fake.QueryNodeInfo,
		fake.QueryNodeLabels,
	}
	for _, query := range queries {
		env := newTestEnv(t, false)
		ctx := context.Background()
		env.server.Set(query)

		result, err := env.collector.CollectJob(ctx, validJobHook())
		assert.NilError(t, err, query)
		assert.Equal(t, result, metrics.CollectResultIncomplete, query)
		exists, err := env.store.JobExists(ctx, fake.JobGitlabID)
		assert.NilError(t, err)
		assert.Assert(t, !exists, query)
	}

	// usage without variation is not usable
	env := newTestEnv(t, false)
	env.server.Set(fake.QueryMemUsage, fake.Series{Values: []float64{0}})
	result, err := env.collector.CollectJob(context.Background(), validJobHook())
	assert.NilError(t, err)
	assert.Equal(t, result, metrics.CollectResultIncomplete)
}

// TestCollectJobErrors test backend and ci failures are returned
func TestCollectJobErrors(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.ci.err = errors.New("gitlab is down")
	result, err := env.collector.CollectJob(ctx, validJobHook())
	assert.Assert(t, err != nil)
	assert.Equal(t, result, metrics.CollectResultError)

	env.ci.err = nil
	env.server.Fail(true)
	result, err = env.collector.CollectJob(ctx, validJobHook())
	assert.Assert(t, err != nil)
	assert.Equal(t, result, metrics.CollectResultError)
}

// TestCollectNodeExists test a known node is not queried again
func TestCollectNodeExists(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	// take id 1 so that a new insert would get another id
	_, err := env.store.InsertNode(ctx, &types.Node{UUID: "other"})
	assert.NilError(t, err)
	existing, err := env.store.InsertNode(ctx, &types.Node{UUID: fake.JobNodeUUID, Hostname: fake.JobNode})
	assert.NilError(t, err)

	id, err := env.collector.CollectNode(ctx, fake.JobNode, fake.JobStart)
	assert.NilError(t, err)
	assert.Equal(t, id, existing)
	for _, req := range env.server.Requests() {
		assert.Assert(t, req.Query != fake.QueryNodeLabels)
	}
}

// TestHandlePipeline test oom killed builds of failed pipelines
func TestHandlePipeline(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, true)
	success := &PipelineHook{ObjectAttributes: PipelineAttributes{Status: "success", Ref: validRef}}
	restarted, err := env.collector.HandlePipeline(ctx, success)
	assert.NilError(t, err)
	assert.Assert(t, !restarted)
	assert.Equal(t, len(env.server.Requests()), 0)

	// failed without oom
	restarted, err = env.collector.HandlePipeline(ctx, failedPipelineHook(1))
	assert.NilError(t, err)
	assert.Assert(t, !restarted)
	exists, err := env.store.JobExists(ctx, fake.JobGitlabID)
	assert.NilError(t, err)
	assert.Assert(t, !exists)

	// the same build twice, the second one is already stored
	env.server.SetOOM()
	restarted, err = env.collector.HandlePipeline(ctx, failedPipelineHook(2))
	assert.NilError(t, err)
	assert.Assert(t, restarted)
	assert.DeepEqual(t, env.ci.pipelines, []string{validRef})

	job, err := env.store.GetJob(ctx, fake.JobGitlabID)
	assert.NilError(t, err)
	expectJob(t, job, types.JobStatusFailed, true)

	// oom is recorded but the pipeline is not restarted
	env = newTestEnv(t, false)
	env.server.SetOOM()
	restarted, err = env.collector.HandlePipeline(ctx, failedPipelineHook(1))
	assert.NilError(t, err)
	assert.Assert(t, !restarted)
	assert.Equal(t, len(env.ci.pipelines), 0)
	exists, err = env.store.JobExists(ctx, fake.JobGitlabID)
	assert.NilError(t, err)
	assert.Assert(t, exists)
}
