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
	"fmt"
	"math"

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	coresToMillicores = 1000
	bytesToMegabytes  = 1e-6
)

// CPUQuantity converts cores to a millicore quantity, rounded to the nearest millicore
func CPUQuantity(cores float64) resource.Quantity {
	return *resource.NewMilliQuantity(int64(math.Round(cores*coresToMillicores)), resource.DecimalSI)
}

// MemoryQuantity converts bytes to a megabyte quantity, rounded to the nearest megabyte
func MemoryQuantity(bytes float64) resource.Quantity {
	return *resource.NewScaledQuantity(int64(math.Round(bytes*bytesToMegabytes)), resource.Mega)
}

// FormatCPU renders the quantity in millicores, such as "1500m".
// Quantity.String is not used, it would canonicalize "1000m" to "1".
func FormatCPU(q resource.Quantity) string {
	return fmt.Sprintf("%dm", q.MilliValue())
}

// FormatMemory renders the quantity in megabytes, such as "2000M"
func FormatMemory(q resource.Quantity) string {
	return fmt.Sprintf("%dM", q.ScaledValue(resource.Mega))
}

// resourceList builds the cpu and memory list from cores and bytes
func resourceList(cores, bytes float64) v1.ResourceList {
	return v1.ResourceList{
		v1.ResourceCPU:    CPUQuantity(cores),
		v1.ResourceMemory: MemoryQuantity(bytes),
	}
}
