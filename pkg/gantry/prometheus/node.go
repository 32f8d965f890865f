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

	"github.com/tencent/gantry/pkg/gantry/types"
)

const (
	labelCores        = "label_karpenter_k8s_aws_instance_cpu"
	labelMemory       = "label_karpenter_k8s_aws_instance_memory"
	labelArch         = "label_kubernetes_io_arch"
	labelOS           = "label_kubernetes_io_os"
	labelInstanceType = "label_node_kubernetes_io_instance_type"
)

// NodeUUID returns the system uuid of the node
func (c *Client) NodeUUID(ctx context.Context, hostname string, ts time.Time) (string, error) {
	series, err := c.Query(ctx, QueryString("kube_node_info", Filter{Label: "node", Value: hostname}), ts)
	if err != nil {
		return "", err
	}
	if len(series) == 0 {
		return "", fmt.Errorf("%w: node info is missing, hostname=%s", ErrIncompleteData, hostname)
	}
	uuid, ok := series[0].Labels["system_uuid"]
	if !ok {
		return "", fmt.Errorf("%w: node uuid is missing, hostname=%s", ErrIncompleteData, hostname)
	}
	return uuid, nil
}

// NodeLabels returns the node described by its labels, uuid is not set
func (c *Client) NodeLabels(ctx context.Context, hostname string, ts time.Time) (*types.Node, error) {
	series, err := c.Query(ctx, QueryString("kube_node_labels", Filter{Label: "node", Value: hostname}), ts)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: node labels are missing, hostname=%s", ErrIncompleteData, hostname)
	}

	labels := series[0].Labels
	for _, name := range []string{labelCores, labelMemory, labelArch, labelOS, labelInstanceType} {
		if _, ok := labels[name]; !ok {
			return nil, fmt.Errorf("%w: missing node label %s, hostname=%s", ErrIncompleteData, name, hostname)
		}
	}
	cores, err := strconv.ParseFloat(labels[labelCores], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cores %q", ErrIncompleteData, labels[labelCores])
	}
	// the label is in megabytes
	mem, err := strconv.ParseFloat(labels[labelMemory], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid memory %q", ErrIncompleteData, labels[labelMemory])
	}

	return &types.Node{
		Hostname:     hostname,
		Cores:        cores,
		Mem:          mem * 1e6,
		Arch:         labels[labelArch],
		OS:           labels[labelOS],
		InstanceType: labels[labelInstanceType],
	}, nil
}
