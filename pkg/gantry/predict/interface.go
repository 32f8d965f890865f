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

	"github.com/tencent/gantry/pkg/gantry/spec"
	"github.com/tencent/gantry/pkg/gantry/types"
)

// Interface is the predict interface
type Interface interface {
	// Predict returns the resource allocation for the build
	Predict(ctx context.Context, key *spec.BuildKey) (*Prediction, error)
	// PredictBulk predicts independent builds concurrently, results keep the input order
	PredictBulk(ctx context.Context, keys []*spec.BuildKey) ([]*Prediction, error)
}

// SampleStore reads historical builds
type SampleStore interface {
	// QuerySamples returns the rows matching the filter, newest first
	QuerySamples(ctx context.Context, filter *types.SampleFilter) ([]types.HistoricalSample, error)
}
