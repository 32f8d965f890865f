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

// columns which may be used as sample filters
const (
	ColumnPkgName         = "pkg_name"
	ColumnPkgVersion      = "pkg_version"
	ColumnPkgVariants     = "pkg_variants"
	ColumnCompilerName    = "compiler_name"
	ColumnCompilerVersion = "compiler_version"
	ColumnArch            = "arch"
)

// Job status values stored in the jobs table
const (
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// Job is one row of the jobs table. The structs tags are the column names,
// in the order of the table definition.
type Job struct {
	ID              int64    `structs:"-" json:"id"`
	Pod             string   `structs:"pod" json:"pod"`
	Node            int64    `structs:"node" json:"node"`
	Start           int64    `structs:"start" json:"start"`
	End             int64    `structs:"end" json:"end"`
	GitlabID        int64    `structs:"gitlab_id" json:"gitlab_id"`
	JobStatus       string   `structs:"job_status" json:"job_status"`
	Ref             string   `structs:"ref" json:"ref"`
	PkgName         string   `structs:"pkg_name" json:"pkg_name"`
	PkgVersion      string   `structs:"pkg_version" json:"pkg_version"`
	PkgVariants     string   `structs:"pkg_variants" json:"pkg_variants"`
	CompilerName    string   `structs:"compiler_name" json:"compiler_name"`
	CompilerVersion string   `structs:"compiler_version" json:"compiler_version"`
	Arch            string   `structs:"arch" json:"arch"`
	Stack           string   `structs:"stack" json:"stack"`
	BuildJobs       int      `structs:"build_jobs" json:"build_jobs"`
	CPURequest      float64  `structs:"cpu_request" json:"cpu_request"`
	CPULimit        *float64 `structs:"cpu_limit" json:"cpu_limit"`
	CPUMean         float64  `structs:"cpu_mean" json:"cpu_mean"`
	CPUMedian       float64  `structs:"cpu_median" json:"cpu_median"`
	CPUMax          float64  `structs:"cpu_max" json:"cpu_max"`
	CPUMin          float64  `structs:"cpu_min" json:"cpu_min"`
	CPUStddev       float64  `structs:"cpu_stddev" json:"cpu_stddev"`
	MemRequest      float64  `structs:"mem_request" json:"mem_request"`
	MemLimit        float64  `structs:"mem_limit" json:"mem_limit"`
	MemMean         float64  `structs:"mem_mean" json:"mem_mean"`
	MemMedian       float64  `structs:"mem_median" json:"mem_median"`
	MemMax          float64  `structs:"mem_max" json:"mem_max"`
	MemMin          float64  `structs:"mem_min" json:"mem_min"`
	MemStddev       float64  `structs:"mem_stddev" json:"mem_stddev"`
	OOM             bool     `structs:"oom" json:"oom"`
	RetryCount      int      `structs:"retry_count" json:"retry_count"`
}

// Node is one row of the nodes table
type Node struct {
	ID       int64  `structs:"-" json:"id"`
	UUID     string `structs:"uuid" json:"uuid"`
	Hostname string `structs:"hostname" json:"hostname"`
	// Cores is the number of cpus of the instance
	Cores float64 `structs:"cores" json:"cores"`
	// Mem is the instance memory in bytes
	Mem          float64 `structs:"mem" json:"mem"`
	Arch         string  `structs:"arch" json:"arch"`
	OS           string  `structs:"os" json:"os"`
	InstanceType string  `structs:"instance_type" json:"instance_type"`
}

// Condition is an equality condition on a column of the jobs table
type Condition struct {
	Column string
	Value  interface{}
}

// VariantCondition is a condition on one key of the serialized variant map.
// A nil Value matches rows where the variant is missing or disabled.
type VariantCondition struct {
	Name  string
	Value interface{}
}

// SampleFilter describes one query for historical builds. Rows are always
// returned newest first.
type SampleFilter struct {
	Conditions []Condition
	Variants   []VariantCondition
	// Ref and Status are ignored when empty
	Ref    string
	Status string
	Limit  int
}

// HistoricalSample is the projection of a job row used for predictions
type HistoricalSample struct {
	CPUMean    float64
	CPUMax     float64
	MemMean    float64
	MemMax     float64
	CPURequest float64
	CPULimit   *float64
	MemRequest float64
	MemLimit   float64
	RetryCount int
	OOM        bool
}
