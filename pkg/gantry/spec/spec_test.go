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

package spec

import (
	"testing"

	"gotest.tools/assert"
)

// TestParse test parsing spec strings
func TestParse(t *testing.T) {
	testCases := []struct {
		describe string
		spec     string
		expect   *BuildKey
	}{
		{
			describe: "normal spec",
			spec:     "emacs@29.2 +json+native+treesitter%gcc@12.3.0",
			expect: &BuildKey{
				PkgName:         "emacs",
				PkgVersion:      "29.2",
				PkgVariants:     Variants{"json": true, "native": true, "treesitter": true},
				CompilerName:    "gcc",
				CompilerVersion: "12.3.0",
			},
		},
		{
			describe: "no space before variants",
			spec:     "emacs@29.2+json+native+treesitter%gcc@12.3.0",
		},
		{
			describe: "with architecture",
			spec:     "gmsh@4.8.4 +alglib~cairo build_type=Release arch=linux-ubuntu20.04-x86_64_v3%gcc@11.4.0",
			expect: &BuildKey{
				PkgName:         "gmsh",
				PkgVersion:      "4.8.4",
				PkgVariants:     Variants{"alglib": true, "cairo": false, "build_type": "Release"},
				CompilerName:    "gcc",
				CompilerVersion: "11.4.0",
				Arch:            "linux-ubuntu20.04-x86_64_v3",
			},
		},
		{
			describe: "list variants",
			spec:     "paraview@5.11.2 +adios2~advanced_debug patches=02253c7,acb3805,b724e6a use_vtkm=on%gcc@11.4.0",
			expect: &BuildKey{
				PkgName:    "paraview",
				PkgVersion: "5.11.2",
				PkgVariants: Variants{
					"adios2":         true,
					"advanced_debug": false,
					"patches":        []string{"02253c7", "acb3805", "b724e6a"},
					"use_vtkm":       "on",
				},
				CompilerName:    "gcc",
				CompilerVersion: "11.4.0",
			},
		},
		{
			describe: "variant ending with arch",
			spec:     "py-torch@2.2.1 +cuda build_system=python_pip cuda_arch=80%gcc@11.4.0",
			expect: &BuildKey{
				PkgName:         "py-torch",
				PkgVersion:      "2.2.1",
				PkgVariants:     Variants{"cuda": true, "build_system": "python_pip", "cuda_arch": "80"},
				CompilerName:    "gcc",
				CompilerVersion: "11.4.0",
			},
		},
		{
			describe: "architecture without variants",
			spec:     "emacs@29.2 arch=linux-x86%gcc@12.3.0",
		},
		{
			describe: "architecture before variants",
			spec:     "emacs@29.2 arch=linux-x86 +json%gcc@12.3.0",
		},
		{
			describe: "missing compiler",
			spec:     "emacs@29.2 +json+native+treesitter",
		},
		{
			describe: "missing compiler version",
			spec:     "emacs@29.2 +json%gcc",
		},
		{
			describe: "no recognizable variants",
			spec:     "emacs@29.2 +~~++%gcc@12.3.0",
		},
		{
			describe: "empty",
			spec:     "",
		},
		{
			describe: "garbage",
			spec:     "fefj!@#$%^&eifejifeifeij---5893843$%^&*()",
		},
	}

	for _, tc := range testCases {
		key, variantsJSON, ok := Parse(tc.spec)
		if tc.expect == nil {
			if ok {
				t.Fatalf("%s: expect parse failure for %q, got %+v", tc.describe, tc.spec, key)
			}
			continue
		}
		if !ok {
			t.Fatalf("%s: parse %q failed", tc.describe, tc.spec)
		}
		assert.DeepEqual(t, key, tc.expect)

		decoded, err := ParseVariantsJSON(variantsJSON)
		assert.NilError(t, err)
		assert.DeepEqual(t, decoded, tc.expect.PkgVariants)
	}
}

// TestParseVariants test the variant grammar
func TestParseVariants(t *testing.T) {
	testCases := []struct {
		input  string
		expect Variants
	}{
		{
			input: "+adios2~advanced_debug patches=02253c7,acb3805,b724e6a use_vtkm=on",
			expect: Variants{
				"adios2":         true,
				"advanced_debug": false,
				"patches":        []string{"02253c7", "acb3805", "b724e6a"},
				"use_vtkm":       "on",
			},
		},
		{input: "fifheife", expect: Variants{}},
		{input: "++++++", expect: Variants{}},
		{input: "+~~++", expect: Variants{}},
		{input: "fefj!@#$%^&eifejifeifeij---5893843$%^&*()", expect: Variants{}},
		{input: "+a  ~b", expect: Variants{"a": true, "b": false}},
	}

	for _, tc := range testCases {
		assert.DeepEqual(t, ParseVariants(tc.input), tc.expect)
	}
}

// TestVariantsRoundTrip test the variants survive formatting regardless of token order
func TestVariantsRoundTrip(t *testing.T) {
	inputs := []string{
		"~caffe2+cuda+cudnn~debug+distributed+fbgemm build_system=python_pip cuda_arch=80",
		"cuda_arch=80 build_system=python_pip+fbgemm+distributed~debug+cudnn+cuda~caffe2",
		"patches=02253c7,acb3805,b724e6a +adios2 use_vtkm=on~advanced_debug",
	}
	expects := []string{
		"build_system=python_pip~caffe2+cuda cuda_arch=80+cudnn~debug+distributed+fbgemm",
		"build_system=python_pip~caffe2+cuda cuda_arch=80+cudnn~debug+distributed+fbgemm",
		"+adios2~advanced_debug patches=02253c7,acb3805,b724e6a use_vtkm=on",
	}

	for i, input := range inputs {
		variants := ParseVariants(input)
		formatted := FormatVariants(variants)
		assert.Equal(t, formatted, expects[i])
		assert.DeepEqual(t, ParseVariants(formatted), variants)
	}
}

// TestBuildKeyString test rendering a key back into a spec
func TestBuildKeyString(t *testing.T) {
	for _, s := range []string{
		"emacs@29.2 +json+native+treesitter%gcc@12.3.0",
		"gmsh@4.8.4 +alglib~cairo build_type=Release arch=linux-x86_64%gcc@11.4.0",
	} {
		key, _, ok := Parse(s)
		if !ok {
			t.Fatalf("parse %q failed", s)
		}
		again, _, ok := Parse(key.String())
		if !ok {
			t.Fatalf("parse rendered %q failed", key.String())
		}
		assert.DeepEqual(t, again, key)
	}
}
