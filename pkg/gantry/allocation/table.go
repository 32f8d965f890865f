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

package allocation

import (
	_ "embed"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"k8s.io/klog/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed default_table.json
var defaultTable []byte

// Allocation is the known good resource allocation of a package
type Allocation struct {
	BuildJobs int `json:"build_jobs"`
	// CPURequest is in cores
	CPURequest float64 `json:"cpu_request"`
	// MemRequest is in bytes
	MemRequest float64 `json:"mem_request"`
}

// Table maps package names to static allocations, it is never changed after loading
type Table struct {
	allocations map[string]Allocation
}

// Load reads the allocation table from the file, the built-in table is used when file is empty
func Load(file string) (*Table, error) {
	data := defaultTable
	if len(file) != 0 {
		var err error
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read allocation table %s: %v", file, err)
		}
	}
	return parse(data)
}

// Default returns the built-in table
func Default() *Table {
	table, err := parse(defaultTable)
	if err != nil {
		panic(err)
	}
	return table
}

func parse(data []byte) (*Table, error) {
	allocations := map[string]Allocation{}
	if err := json.Unmarshal(data, &allocations); err != nil {
		return nil, fmt.Errorf("parse allocation table: %v", err)
	}
	for name, alloc := range allocations {
		if alloc.CPURequest < 0 || alloc.MemRequest < 0 || alloc.BuildJobs < 0 {
			return nil, fmt.Errorf("invalid allocation for %s: %+v", name, alloc)
		}
	}
	klog.V(2).Infof("loaded static allocations for %d packages", len(allocations))
	return &Table{allocations: allocations}, nil
}

// Get returns the allocation of the package
func (t *Table) Get(pkg string) (Allocation, bool) {
	if t == nil {
		return Allocation{}, false
	}
	alloc, ok := t.allocations[pkg]
	return alloc, ok
}

// Len returns the number of packages
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.allocations)
}
