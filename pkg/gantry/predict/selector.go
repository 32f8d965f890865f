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
	"context"
	"fmt"

	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/types"

	"k8s.io/klog/v2"
)

// tier is one combination of columns which must match the requested build exactly.
// Package name and variants are always part of the match.
type tier struct {
	name    string
	columns []string
}

// relaxationOrder lists the tiers from the most to the least specific
var relaxationOrder = []tier{
	{name: "version+compiler+compiler_version",
		columns: []string{types.ColumnPkgVersion, types.ColumnCompilerName, types.ColumnCompilerVersion}},
	{name: "compiler+compiler_version",
		columns: []string{types.ColumnCompilerName, types.ColumnCompilerVersion}},
	{name: "version+compiler",
		columns: []string{types.ColumnPkgVersion, types.ColumnCompilerName}},
	{name: "compiler",
		columns: []string{types.ColumnCompilerName}},
	{name: "version",
		columns: []string{types.ColumnPkgVersion}},
	{name: "name",
		columns: nil},
}

// Selection is the accepted sample and where it comes from
type Selection struct {
	Samples []types.HistoricalSample
	// Tier is empty when no sample is accepted
	Tier string
	// Expensive is true when the sample comes from the expensive variant query
	Expensive bool
}

// Selector picks the most specific sample of historical builds
type Selector struct {
	store  SampleStore
	config *types.PredictConfig
	tiers  []tier
}

// NewSelector creates a sample selector
func NewSelector(store SampleStore, config *types.PredictConfig) *Selector {
	return &Selector{
		store:  store,
		config: config,
		tiers:  relaxationOrder,
	}
}

// Select walks the tiers in order and returns the first acceptable sample. For each tier the
// exact variants are tried first, then only the expensive variants. Store errors are returned
// as they are, an empty selection is not an error.
func (s *Selector) Select(ctx context.Context, key *spec.BuildKey) (*Selection, error) {
	variantsJSON, err := key.PkgVariants.JSON()
	if err != nil {
		return nil, fmt.Errorf("serialize variants of %s: %v", key.PkgName, err)
	}
	expensive := s.expensiveConditions(key)

	for _, t := range s.tiers {
		base := s.tierConditions(t, key)

		exact := &types.SampleFilter{
			Conditions: append(base, types.Condition{Column: types.ColumnPkgVariants, Value: variantsJSON}),
			Ref:        s.config.Ref,
			Status:     s.config.SuccessStatus,
			Limit:      s.config.IdealSampleSize,
		}
		samples, err := s.store.QuerySamples(ctx, exact)
		if err != nil {
			return nil, err
		}
		if s.accept(samples) {
			klog.V(4).Infof("sample of %s accepted at tier %s with %d rows", key.PkgName, t.name, len(samples))
			return &Selection{Samples: samples, Tier: t.name}, nil
		}

		relaxed := &types.SampleFilter{
			Conditions: base,
			Variants:   expensive,
			Ref:        s.config.Ref,
			Status:     s.config.SuccessStatus,
			Limit:      s.config.IdealSampleSize,
		}
		samples, err = s.store.QuerySamples(ctx, relaxed)
		if err != nil {
			return nil, err
		}
		if s.accept(samples) {
			klog.V(4).Infof("sample of %s accepted at tier %s by expensive variants with %d rows",
				key.PkgName, t.name, len(samples))
			return &Selection{Samples: samples, Tier: t.name, Expensive: true}, nil
		}
	}

	klog.V(2).Infof("no acceptable sample for %s", key.PkgName)
	return &Selection{}, nil
}

// accept tolerates one row less than the ideal sample size
func (s *Selector) accept(samples []types.HistoricalSample) bool {
	return len(samples) > 0 && len(samples) >= s.config.IdealSampleSize-1
}

func (s *Selector) tierConditions(t tier, key *spec.BuildKey) []types.Condition {
	conditions := []types.Condition{{Column: types.ColumnPkgName, Value: key.PkgName}}
	for _, column := range t.columns {
		conditions = append(conditions, types.Condition{Column: column, Value: keyValue(key, column)})
	}
	return conditions
}

// expensiveConditions requires each expensive variant to match the requested value,
// or to be not set when the request does not set it
func (s *Selector) expensiveConditions(key *spec.BuildKey) []types.VariantCondition {
	var conditions []types.VariantCondition
	for _, name := range s.config.ExpensiveVariants {
		conditions = append(conditions, types.VariantCondition{Name: name, Value: key.PkgVariants[name]})
	}
	return conditions
}

func keyValue(key *spec.BuildKey, column string) string {
	switch column {
	case types.ColumnPkgName:
		return key.PkgName
	case types.ColumnPkgVersion:
		return key.PkgVersion
	case types.ColumnCompilerName:
		return key.CompilerName
	case types.ColumnCompilerVersion:
		return key.CompilerVersion
	case types.ColumnArch:
		return key.Arch
	}
	return ""
}
