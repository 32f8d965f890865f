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

package fake

import (
	"fmt"
	"time"
)

// A finished gmsh build recorded from a real cluster
const (
	JobGitlabID = 9892514
	JobPod      = "runner-hwwb-i3u-project-2-concurrent-1-s10tq41z"
	JobNode     = "ip-192-168-86-107.ec2.internal"
	JobNodeUUID = "ec253b04-b1dc-f08b-acac-e23df83b3602"
	JobVariants = "+alglib~cairo+cgns+compression~eigen~external+fltk+gmp~hdf5~ipo+med+metis+mmg+mpi" +
		"+netgen+oce~opencascade~openmp~petsc~privateapi+shared~slepc+tetgen+voropp" +
		" build_system=cmake build_type=Release generator=make"
)

var (
	// JobStart is 2024-01-24 17:24:06 UTC
	JobStart = time.Unix(1706117046, 0).UTC()
	// JobEnd is 2024-01-24 17:47:00 UTC
	JobEnd = time.Unix(1706118420, 0).UTC()

	// JobCPUUsage is the rate of container_cpu_usage_seconds_total
	JobCPUUsage = []float64{
		0.2483743618267752, 0.25650526138466395, 0.26463616094255266, 0.2727670605004414,
		0.28089796005833007, 0.2890288596162188, 0.2971597591741076, 3.7319005481816236,
		3.7319005481816236, 3.7319005481816236, 3.7319005481816245, 3.7319005481816245,
		4.128116379389054,
	}
	// JobMemUsage is container_memory_working_set_bytes
	JobMemUsage = append(repeat(2785280, 16), repeat(594620416, 5)...)
)

// Query strings of the job
var (
	QueryAnnotations = fmt.Sprintf(`kube_pod_annotations{annotation_gitlab_ci_job_id="%d"}`, JobGitlabID)
	QueryRequests    = fmt.Sprintf(`kube_pod_container_resource_requests{container="build", pod="%s"}`, JobPod)
	QueryLimits      = fmt.Sprintf(`kube_pod_container_resource_limits{container="build", pod="%s"}`, JobPod)
	QueryMemUsage    = fmt.Sprintf(`container_memory_working_set_bytes{container="build", pod="%s"}`, JobPod)
	QueryCPUUsage    = fmt.Sprintf(`rate(container_cpu_usage_seconds_total{pod='%s', container='build'}[90s])`, JobPod)
	QueryOOM         = fmt.Sprintf(`kube_pod_container_status_last_terminated_reason{container="build", pod="%s", reason="OOMKilled"}`, JobPod)
	QueryNodeInfo    = fmt.Sprintf(`kube_node_info{node="%s"}`, JobNode)
	QueryNodeLabels  = fmt.Sprintf(`kube_node_labels{node="%s"}`, JobNode)
)

// JobAnnotations returns the pod annotations of the job
func JobAnnotations() map[string]string {
	labels := map[string]string{
		"__name__":                    "kube_pod_annotations",
		"annotation_gitlab_ci_job_id": fmt.Sprint(JobGitlabID),
		"namespace":                   "pipeline",
		"pod":                         JobPod,
	}
	spack := map[string]string{
		"ci_stack_name":             "e4s",
		"job_retry_count":           "0",
		"job_spec_arch":             "linux",
		"job_spec_compiler_name":    "gcc",
		"job_spec_compiler_version": "11.4.0",
		"job_spec_pkg_name":         "gmsh",
		"job_spec_pkg_version":      "4.8.4",
		"job_spec_variants":         JobVariants,
	}
	for k, v := range spack {
		labels["annotation_metrics_spack_"+k] = v
	}
	return labels
}

// LoadJob sets the results of all the queries made to collect the job
func (s *Server) LoadJob() {
	resource := func(metric, name, unit string) map[string]string {
		return map[string]string{
			"__name__":  metric,
			"container": "build",
			"namespace": "pipeline",
			"node":      JobNode,
			"pod":       JobPod,
			"resource":  name,
			"unit":      unit,
		}
	}

	s.Set(QueryAnnotations, Series{Labels: JobAnnotations(), Values: []float64{1}})
	s.Set(QueryRequests,
		Series{Labels: resource("kube_pod_container_resource_requests", "cpu", "core"), Values: []float64{0.75}},
		Series{Labels: resource("kube_pod_container_resource_requests", "memory", "byte"), Values: []float64{2e9}})
	s.Set(QueryLimits,
		Series{Labels: resource("kube_pod_container_resource_limits", "memory", "byte"), Values: []float64{48e9}})
	s.Set(QueryMemUsage, Series{Labels: map[string]string{"container": "build", "pod": JobPod}, Values: JobMemUsage})
	s.Set(QueryCPUUsage, Series{Labels: map[string]string{"container": "build", "pod": JobPod}, Values: JobCPUUsage})
	s.Set(QueryNodeInfo, Series{Labels: map[string]string{
		"__name__":    "kube_node_info",
		"node":        JobNode,
		"system_uuid": JobNodeUUID,
	}, Values: []float64{1}})
	s.Set(QueryNodeLabels, Series{Labels: map[string]string{
		"label_karpenter_k8s_aws_instance_cpu":    "24",
		"label_karpenter_k8s_aws_instance_memory": "196608",
		"label_kubernetes_io_arch":                "amd64",
		"label_kubernetes_io_os":                  "linux",
		"label_node_kubernetes_io_instance_type":  "i3en.6xlarge",
		"node":                                    JobNode,
	}, Values: []float64{1}})
}

// SetOOM marks the job as killed for running out of memory
func (s *Server) SetOOM() {
	s.Set(QueryOOM, Series{Labels: map[string]string{
		"__name__":  "kube_pod_container_status_last_terminated_reason",
		"container": "build",
		"pod":       JobPod,
		"reason":    "OOMKilled",
	}, Values: []float64{1}})
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
