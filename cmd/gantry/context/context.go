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

package context

import (
	"fmt"
	"sync"

	"github.com/tencent/gantry/pkg/gantry/gitlab"
	"github.com/tencent/gantry/pkg/gantry/prometheus"
	"github.com/tencent/gantry/pkg/gantry/store"
	"github.com/tencent/gantry/pkg/gantry/types"

	"k8s.io/klog/v2"
)

// GantryContext stores the clients shared by the modules, they are built on first use
type GantryContext struct {
	Config *types.GantryConfig

	lock       sync.Mutex
	store      *store.Store
	prometheus *prometheus.Client
	gitlab     *gitlab.Client
}

// GetStore returns the store, the database is opened on first call
func (c *GantryContext) GetStore() (*store.Store, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.store != nil {
		return c.store, nil
	}
	s, err := store.Open(c.Config.Store)
	if err != nil {
		return nil, err
	}
	c.store = s
	return c.store, nil
}

// GetPrometheusClient returns the metrics backend client, it fails if the backend is not configured
func (c *GantryContext) GetPrometheusClient() (*prometheus.Client, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.prometheus != nil {
		return c.prometheus, nil
	}
	client, err := prometheus.NewClient(c.Config.Prometheus)
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %v", err)
	}
	c.prometheus = client
	return c.prometheus, nil
}

// GetGitlabClient returns the ci client, it fails if gitlab is not configured
func (c *GantryContext) GetGitlabClient() (*gitlab.Client, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.gitlab != nil {
		return c.gitlab, nil
	}
	client, err := gitlab.NewClient(c.Config.Gitlab)
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %v", err)
	}
	c.gitlab = client
	return c.gitlab, nil
}

// Name module name
func (c *GantryContext) Name() string {
	return "ModuleContext"
}

// Run closes the store when stopped
func (c *GantryContext) Run(stop <-chan struct{}) {
	go func() {
		<-stop
		c.lock.Lock()
		defer c.lock.Unlock()
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				klog.Errorf("close store err: %v", err)
			}
		}
	}()
}
