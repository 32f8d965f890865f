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
	"fmt"
	"regexp"
	"strings"
)

const archToken = "arch"

// specRegexp matches "<name>@<version> <variants> [arch=<arch>]%<compiler>@<compiler version>"
var specRegexp = regexp.MustCompile(`^([^@\s%]+)@([^\s%]+) (.+?)(?:\s+arch=([^\s%]+)\s*)?%([^@\s%]+)@([^\s%]+)$`)

// BuildKey identifies a build for predictions
type BuildKey struct {
	PkgName         string   `json:"pkg_name"`
	PkgVersion      string   `json:"pkg_version"`
	PkgVariants     Variants `json:"pkg_variants"`
	CompilerName    string   `json:"compiler_name"`
	CompilerVersion string   `json:"compiler_version"`
	// Arch is optional
	Arch string `json:"arch,omitempty"`
}

// Parse parses a spec string such as "emacs@29.2 +json+native+treesitter%gcc@12.3.0".
// It returns false if the string is malformed or does not carry any variant.
// The returned string is the json serialized variants.
func Parse(s string) (*BuildKey, string, bool) {
	matches := specRegexp.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return nil, "", false
	}

	variants := ParseVariants(matches[3])
	if len(variants) == 0 {
		return nil, "", false
	}
	// arch is only valid as the trailing token after the variants
	if _, ok := variants[archToken]; ok {
		return nil, "", false
	}
	variantsJSON, err := variants.JSON()
	if err != nil {
		return nil, "", false
	}

	return &BuildKey{
		PkgName:         matches[1],
		PkgVersion:      matches[2],
		PkgVariants:     variants,
		CompilerName:    matches[5],
		CompilerVersion: matches[6],
		Arch:            matches[4],
	}, variantsJSON, true
}

// String renders the key back into a spec string
func (k *BuildKey) String() string {
	arch := ""
	if len(k.Arch) != 0 {
		arch = " arch=" + k.Arch
	}
	return fmt.Sprintf("%s@%s %s%s%%%s@%s", k.PkgName, k.PkgVersion, FormatVariants(k.PkgVariants),
		arch, k.CompilerName, k.CompilerVersion)
}
