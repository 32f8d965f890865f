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
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Variants maps a variant name to its value, which is one of bool, string or []string
type Variants map[string]interface{}

// ParseVariants parses concrete variants such as
// "+adios2~advanced_debug patches=02253c7,acb3805,b724e6a use_vtkm=on".
// Unknown segments are skipped, an input without any variant returns an empty map.
func ParseVariants(s string) Variants {
	variants := Variants{}
	// pad the markers so the parts can be split on spaces
	s = strings.ReplaceAll(s, "+", " +")
	s = strings.ReplaceAll(s, "~", " ~")

	for _, part := range strings.Split(s, " ") {
		if len(part) < 2 {
			continue
		}
		if strings.Contains(part, "=") {
			kv := strings.Split(part, "=")
			if len(kv) != 2 || len(kv[0]) == 0 {
				continue
			}
			if strings.Contains(kv[1], ",") {
				variants[kv[0]] = strings.Split(kv[1], ",")
			} else {
				variants[kv[0]] = kv[1]
			}
			continue
		}
		switch part[0] {
		case '+':
			variants[part[1:]] = true
		case '~':
			variants[part[1:]] = false
		}
	}

	return variants
}

// FormatVariants is the reverse of ParseVariants, names are sorted.
// Boolean variants are concatenated, valued variants are separated by spaces.
func FormatVariants(variants Variants) string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		switch value := variants[name].(type) {
		case bool:
			if value {
				parts = append(parts, "+"+name)
			} else {
				parts = append(parts, "~"+name)
			}
		case string:
			parts = append(parts, name+"="+value)
		case []string:
			parts = append(parts, name+"="+strings.Join(value, ","))
		case []interface{}:
			values := make([]string, 0, len(value))
			for _, v := range value {
				values = append(values, fmt.Sprint(v))
			}
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}

	s := strings.Join(parts, " ")
	s = strings.ReplaceAll(s, " +", "+")
	s = strings.ReplaceAll(s, " ~", "~")
	return s
}

// JSON serializes the variants the way they are stored in the jobs table
func (v Variants) JSON() (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseVariantsJSON decodes a stored variant column, lists are returned as []string
func ParseVariantsJSON(s string) (Variants, error) {
	raw := map[string]interface{}{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	variants := Variants{}
	for name, value := range raw {
		list, ok := value.([]interface{})
		if !ok {
			variants[name] = value
			continue
		}
		values := make([]string, 0, len(list))
		for _, v := range list {
			values = append(values, fmt.Sprint(v))
		}
		variants[name] = values
	}
	return variants, nil
}
