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

	"golang.org/x/sync/errgroup"
)

// PredictBulk predicts the builds concurrently. The first failure cancels the others.
func (p *predictor) PredictBulk(ctx context.Context, keys []*spec.BuildKey) ([]*Prediction, error) {
	predictions := make([]*Prediction, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	if p.config.BulkConcurrency > 0 {
		g.SetLimit(p.config.BulkConcurrency)
	}

	for i := range keys {
		i := i
		g.Go(func() error {
			prediction, err := p.Predict(ctx, keys[i])
			if err != nil {
				return fmt.Errorf("predict %s: %v", keys[i].String(), err)
			}
			predictions[i] = prediction
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return predictions, nil
}
