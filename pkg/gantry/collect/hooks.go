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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tencent/gantry/pkg/util/times"
)

// webhook events
const (
	EventJob      = "Job Hook"
	EventPipeline = "Pipeline Hook"
)

// buildNameRegexp matches build job names, such as
// "gmsh@4.8.4 /jcpkeyj %gcc@11.4.0 arch=linux-ubuntu20.04-x86_64_v3 e4s"
var buildNameRegexp = regexp.MustCompile(`^([^/ ]+)@([^/ ]+) /([^%]+) %([^ ]+) ([^ ]+) (.+)`)

// Runner is the gitlab runner of a job
type Runner struct {
	Description string `json:"description"`
}

// JobHook is the payload of the gitlab job webhook
type JobHook struct {
	BuildID         int64  `json:"build_id"`
	BuildName       string `json:"build_name"`
	BuildStage      string `json:"build_stage"`
	BuildStatus     string `json:"build_status"`
	BuildStartedAt  string `json:"build_started_at"`
	BuildFinishedAt string `json:"build_finished_at"`
	Ref             string `json:"ref"`
	Runner          Runner `json:"runner"`
}

// PipelineAttributes describes the pipeline of a pipeline webhook
type PipelineAttributes struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
}

// Build is a job of a pipeline webhook
type Build struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Runner     Runner `json:"runner"`
}

// PipelineHook is the payload of the gitlab pipeline webhook
type PipelineHook struct {
	ObjectAttributes PipelineAttributes `json:"object_attributes"`
	Builds           []Build            `json:"builds"`
}

// job is the part of the webhooks needed to collect a job
type job struct {
	id     int64
	status string
	ref    string
	start  time.Time
	end    time.Time
}

func (j *job) midpoint() time.Time {
	return times.Midpoint(j.start, j.end)
}

// isBuild checks if the job builds a package on a supported runner
func isBuild(name, stage, runner string) bool {
	if !buildNameRegexp.MatchString(name) {
		return false
	}
	// generate jobs create the pipeline, uo runners are not monitored
	if strings.Contains(stage, "generate") || strings.HasPrefix(runner, "uo") {
		return false
	}
	return true
}

func newJob(id int64, status, ref, startedAt, finishedAt string) (*job, error) {
	start, err := times.ParseWebhookTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid start time: %v", err)
	}
	end, err := times.ParseWebhookTime(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid end time: %v", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("job ended at %s before it started at %s", finishedAt, startedAt)
	}
	return &job{id: id, status: status, ref: ref, start: start, end: end}, nil
}
